package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/timeline"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
)

type legacyAssignmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	AddEvent(ctx context.Context, exec sqlx.ExtContext, ev *models.AssignmentEvent) error
}

type userNameDirectory interface {
	ListByNames(ctx context.Context, names []string) ([]models.User, error)
}

// LegacyRemarkInput is one free-text remark from an older tracking system.
type LegacyRemarkInput struct {
	ID      string    `yaml:"id" json:"id"`
	Author  string    `yaml:"author" json:"author"`
	Content string    `yaml:"content" json:"content"`
	At      time.Time `yaml:"at" json:"at"`
}

// LegacyAssignmentRemarks carries the remark history of one assignment.
type LegacyAssignmentRemarks struct {
	AssignmentID string              `yaml:"assignment_id" json:"assignment_id"`
	Remarks      []LegacyRemarkInput `yaml:"remarks" json:"remarks"`
}

// LegacyImportReport summarises an import run.
type LegacyImportReport struct {
	Assignments     int      `json:"assignments"`
	Events          int      `json:"events"`
	Reassigns       int      `json:"reassigns"`
	UnresolvedNames []string `json:"unresolved_names,omitempty"`
	SkippedExisting []string `json:"skipped_existing,omitempty"`
	SkippedMissing  []string `json:"skipped_missing,omitempty"`
}

// LegacyImportService turns "Reassigned to NAME: reason" remarks into typed
// assignment events.
type LegacyImportService struct {
	assignments legacyAssignmentStore
	users       userNameDirectory
	tx          txProvider
	logger      *zap.Logger
}

// NewLegacyImportService constructs a LegacyImportService.
func NewLegacyImportService(assignments legacyAssignmentStore, users userNameDirectory, tx txProvider, logger *zap.Logger) *LegacyImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LegacyImportService{assignments: assignments, users: users, tx: tx, logger: logger}
}

// Import writes the events of every batch, one transaction per assignment.
// Assignments that already carry events are skipped so a file can be
// replayed. Authors that cannot be resolved fall back to the assignee; a
// reassignment whose target cannot be resolved is kept as a plain remark.
func (s *LegacyImportService) Import(ctx context.Context, batches []LegacyAssignmentRemarks) (*LegacyImportReport, error) {
	parsed := make([][]models.AssignmentEvent, len(batches))
	names := map[string]struct{}{}
	for i, b := range batches {
		if strings.TrimSpace(b.AssignmentID) == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("entry %d has no assignment_id", i+1))
		}
		remarks := make([]timeline.LegacyRemark, 0, len(b.Remarks))
		for _, r := range b.Remarks {
			remarks = append(remarks, timeline.LegacyRemark{ID: r.ID, Content: r.Content, Author: strings.TrimSpace(r.Author), CreatedAt: r.At})
		}
		parsed[i] = timeline.ParseLegacy(b.AssignmentID, remarks)
		for _, e := range parsed[i] {
			if e.AuthorName != "" {
				names[strings.ToLower(e.AuthorName)] = struct{}{}
			}
			if e.TargetUserName != nil {
				names[strings.ToLower(*e.TargetUserName)] = struct{}{}
			}
		}
	}

	ids, err := s.resolve(ctx, names)
	if err != nil {
		return nil, err
	}

	report := &LegacyImportReport{}
	unresolved := map[string]struct{}{}
	for i, b := range batches {
		asg, err := s.assignments.FindByID(ctx, b.AssignmentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				report.SkippedMissing = append(report.SkippedMissing, b.AssignmentID)
				continue
			}
			return report, internal(err, "failed to load assignment")
		}
		if len(asg.Events) > 0 {
			report.SkippedExisting = append(report.SkippedExisting, b.AssignmentID)
			continue
		}

		events := parsed[i]
		for j := range events {
			e := &events[j]
			if _, err := uuid.Parse(e.ID); err != nil {
				e.ID = ""
			}
			if id, ok := ids[strings.ToLower(e.AuthorName)]; ok {
				e.AuthorID = id
			} else {
				if e.AuthorName != "" {
					unresolved[e.AuthorName] = struct{}{}
				}
				e.AuthorID = asg.AssignedToID
			}
			if e.Kind != models.EventReassign {
				continue
			}
			if id, ok := ids[strings.ToLower(*e.TargetUserName)]; ok {
				e.TargetUserID = &id
				continue
			}
			unresolved[*e.TargetUserName] = struct{}{}
			e.Kind = models.EventRemark
			e.Content = strings.TrimSpace(fmt.Sprintf("Reassigned to %s: %s", *e.TargetUserName, e.Content))
			e.TargetUserName = nil
		}

		if err := s.write(ctx, events); err != nil {
			return report, err
		}
		report.Assignments++
		for _, e := range events {
			report.Events++
			if e.Kind == models.EventReassign {
				report.Reassigns++
			}
		}
	}

	for name := range unresolved {
		report.UnresolvedNames = append(report.UnresolvedNames, name)
	}
	sort.Strings(report.UnresolvedNames)
	s.logger.Info("legacy remarks imported",
		zap.Int("assignments", report.Assignments),
		zap.Int("events", report.Events),
		zap.Int("reassigns", report.Reassigns),
		zap.Int("unresolved_names", len(report.UnresolvedNames)))
	return report, nil
}

// resolve maps lowercased full names to user ids. Names shared by more than
// one user are left out.
func (s *LegacyImportService) resolve(ctx context.Context, names map[string]struct{}) (map[string]string, error) {
	list := make([]string, 0, len(names))
	for n := range names {
		list = append(list, n)
	}
	users, err := s.users.ListByNames(ctx, list)
	if err != nil {
		return nil, internal(err, "failed to resolve user names")
	}
	ids := make(map[string]string, len(users))
	shared := map[string]bool{}
	for _, u := range users {
		key := strings.ToLower(strings.TrimSpace(u.FullName))
		if _, seen := ids[key]; seen {
			shared[key] = true
			continue
		}
		ids[key] = u.ID
	}
	for key := range shared {
		delete(ids, key)
	}
	return ids, nil
}

func (s *LegacyImportService) write(ctx context.Context, events []models.AssignmentEvent) (err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return internal(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for i := range events {
		if err = s.assignments.AddEvent(ctx, tx, &events[i]); err != nil {
			return internal(err, "failed to write assignment event")
		}
	}
	if err = tx.Commit(); err != nil {
		return internal(err, "failed to commit import")
	}
	return nil
}
