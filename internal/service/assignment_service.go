package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	"github.com/noah-isme/mailtrack-api/internal/repository"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
	"github.com/noah-isme/mailtrack-api/pkg/logger"
)

// AddRemarkRequest appends a note to an assignment timeline.
type AddRemarkRequest struct {
	Content string `json:"content"`
}

// CompleteAssignmentRequest finishes an assignment. Remarks are optional when
// the timeline already holds one.
type CompleteAssignmentRequest struct {
	Remarks string `json:"remarks"`
}

// ReassignAssignmentRequest hands an assignment on to another officer.
type ReassignAssignmentRequest struct {
	NewAssigneeID string `json:"new_assignee" validate:"required"`
	Remarks       string `json:"remarks"`
}

// AssignmentService implements the assignment lifecycle.
type AssignmentService struct {
	mails        mailStore
	assignments  assignmentStore
	audits       auditWriter
	users        userFinder
	tx           txProvider
	consolidator consolidationScheduler
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewAssignmentService constructs an AssignmentService.
func NewAssignmentService(
	mails mailStore,
	assignments assignmentStore,
	audits auditWriter,
	users userFinder,
	tx txProvider,
	consolidator consolidationScheduler,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *AssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		mails:        mails,
		assignments:  assignments,
		audits:       audits,
		users:        users,
		tx:           tx,
		consolidator: consolidator,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// mutate locks the mail row and then the assignment row, in that order
// everywhere, and runs fn inside the transaction.
func (s *AssignmentService) mutate(ctx context.Context, op, assignmentID string, fn func(tx *sqlx.Tx, mail *models.MailRecord, asg *models.Assignment) error) (err error) {
	defer func() { s.metrics.RecordMutation(op, err) }()

	current, err := s.assignments.FindByID(ctx, assignmentID)
	if err != nil {
		return notFoundOr(err, "assignment")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return internal(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	mail, err := s.mails.LockByID(ctx, tx, current.MailID)
	if err != nil {
		return notFoundOr(err, "mail")
	}
	asg, err := s.assignments.LockByID(ctx, tx, assignmentID)
	if err != nil {
		return notFoundOr(err, "assignment")
	}
	if mail.Assignments, err = s.assignments.ListActiveByMail(ctx, tx, mail.ID); err != nil {
		return internal(err, "failed to load assignments")
	}
	if err = fn(tx, mail, asg); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return internal(err, "failed to commit changes")
	}
	if s.consolidator != nil {
		s.consolidator.Schedule(mail.ID)
	}
	return nil
}

// AddRemark appends a REMARK event to an Active assignment.
func (s *AssignmentService) AddRemark(ctx context.Context, actor *policy.Actor, assignmentID string, req AddRemarkRequest) (*models.Assignment, error) {
	content, err := requireText(req.Content, "remark")
	if err != nil {
		return nil, err
	}
	err = s.mutate(ctx, "assignment_remark", assignmentID, func(tx *sqlx.Tx, mail *models.MailRecord, asg *models.Assignment) error {
		if d := policy.AddRemark(actor, mail, asg); !d.Allowed {
			return denied(s.metrics, d)
		}
		if err := s.event(ctx, tx, asg, models.EventRemark, content, actor, nil); err != nil {
			return err
		}
		return s.record(ctx, tx, auditEntry(mail.ID, actor, models.AuditRemark, nil, map[string]string{"assignment_id": asg.ID}, content))
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, assignmentID)
}

// Complete moves an Active assignment to Completed. Supplied remarks are
// appended first; without them the timeline must already hold a remark.
func (s *AssignmentService) Complete(ctx context.Context, actor *policy.Actor, assignmentID string, req CompleteAssignmentRequest) (*models.Assignment, error) {
	remarks := strings.TrimSpace(req.Remarks)
	err := s.mutate(ctx, "assignment_complete", assignmentID, func(tx *sqlx.Tx, mail *models.MailRecord, asg *models.Assignment) error {
		if d := policy.Complete(actor, mail, asg); !d.Allowed {
			return denied(s.metrics, d)
		}
		if remarks == "" && asg.RemarkCount() == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "add a remark before completing the assignment")
		}
		if remarks != "" {
			if err := s.event(ctx, tx, asg, models.EventRemark, remarks, actor, nil); err != nil {
				return err
			}
		}
		if err := s.event(ctx, tx, asg, models.EventComplete, remarks, actor, nil); err != nil {
			return err
		}
		now := s.now()
		asg.Status = models.AssignmentCompleted
		asg.CompletedAt = &now
		if err := s.transition(ctx, tx, asg); err != nil {
			return err
		}
		return s.record(ctx, tx, auditEntry(mail.ID, actor, models.AuditComplete,
			map[string]string{"assignment_id": asg.ID, "status": string(models.AssignmentActive)},
			map[string]string{"assignment_id": asg.ID, "status": string(asg.Status)}, remarks))
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, assignmentID)
}

// Reassign closes the assignment as Completed and opens an Active successor
// for the new assignee. The successor is returned.
func (s *AssignmentService) Reassign(ctx context.Context, actor *policy.Actor, assignmentID string, req ReassignAssignmentRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "new assignee is required")
	}
	remarks, err := requireText(req.Remarks, "reason")
	if err != nil {
		return nil, err
	}

	var successorID string
	err = s.mutate(ctx, "assignment_reassign", assignmentID, func(tx *sqlx.Tx, mail *models.MailRecord, asg *models.Assignment) error {
		if d := policy.ReassignAssignment(actor, mail, asg); !d.Allowed {
			return denied(s.metrics, d)
		}
		if req.NewAssigneeID == asg.AssignedToID {
			return appErrors.Clone(appErrors.ErrValidation, "assignment is already with this officer")
		}
		target, err := loadTarget(ctx, s.users, actor, req.NewAssigneeID)
		if err != nil {
			return err
		}
		busy, err := s.assignments.HasActive(ctx, tx, mail.ID, target.ID)
		if err != nil {
			return internal(err, "failed to check assignments")
		}
		if busy {
			return appErrors.Clone(appErrors.ErrConflict, target.FullName+" already holds an active assignment on this mail")
		}

		if err := s.event(ctx, tx, asg, models.EventReassign, remarks, actor, &target.ID); err != nil {
			return err
		}
		now := s.now()
		asg.Status = models.AssignmentCompleted
		asg.ReassignedToID = &target.ID
		asg.ReassignedAt = &now
		asg.CompletedAt = &now
		if err := s.transition(ctx, tx, asg); err != nil {
			return err
		}

		// A supervisor becomes the successor's assigner; an assignee handing
		// work on keeps the original supervisor in place.
		assignedBy := asg.AssignedByID
		if actor.UserID != asg.AssignedToID {
			assignedBy = actor.UserID
		}
		successor := &models.Assignment{
			MailID:            mail.ID,
			AssignedToID:      target.ID,
			AssignedByID:      assignedBy,
			AssignmentRemarks: remarks,
			PredecessorID:     &asg.ID,
		}
		if err := s.assignments.Create(ctx, tx, successor); err != nil {
			if repository.IsUniqueViolation(err) {
				return appErrors.Clone(appErrors.ErrConflict, target.FullName+" already holds an active assignment on this mail")
			}
			return internal(err, "failed to create assignment")
		}
		successorID = successor.ID

		if !mail.IsMultiAssigned && mail.CurrentHandlerID == asg.AssignedToID {
			mail.CurrentHandlerID = target.ID
			if mail.Status != models.MailInProgress {
				mail.Status = models.MailInProgress
				mail.LastStatusChange = now
			}
			if err := s.mails.Update(ctx, tx, mail); err != nil {
				return internal(err, "failed to update mail")
			}
		}

		return s.record(ctx, tx, auditEntry(mail.ID, actor, models.AuditReassign,
			map[string]string{"assignment_id": asg.ID, "assigned_to": asg.AssignedToID},
			map[string]string{"assignment_id": successor.ID, "assigned_to": target.ID, "assigned_to_name": target.FullName}, remarks))
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.logger).Info("assignment reassigned", zap.String("assignment_id", assignmentID), zap.String("successor_id", successorID))
	return s.reload(ctx, successorID)
}

// Revoke withdraws an Active assignment. Only a supervisor may do it, and it
// remains possible on closed mail.
func (s *AssignmentService) Revoke(ctx context.Context, actor *policy.Actor, assignmentID string, req RemarksRequest) (*models.Assignment, error) {
	remarks, err := requireText(req.Remarks, "reason")
	if err != nil {
		return nil, err
	}
	err = s.mutate(ctx, "assignment_revoke", assignmentID, func(tx *sqlx.Tx, mail *models.MailRecord, asg *models.Assignment) error {
		if d := policy.Revoke(actor, asg); !d.Allowed {
			return denied(s.metrics, d)
		}
		if err := s.event(ctx, tx, asg, models.EventRevoke, remarks, actor, nil); err != nil {
			return err
		}
		now := s.now()
		asg.Status = models.AssignmentRevoked
		asg.RevokedAt = &now
		if err := s.transition(ctx, tx, asg); err != nil {
			return err
		}

		remaining := 0
		for _, a := range mail.Assignments {
			if a.ID != asg.ID {
				remaining++
			}
		}
		if multi := remaining > 1; multi != mail.IsMultiAssigned {
			mail.IsMultiAssigned = multi
			if err := s.mails.Update(ctx, tx, mail); err != nil {
				return internal(err, "failed to update mail")
			}
		}
		return s.record(ctx, tx, auditEntry(mail.ID, actor, models.AuditRevoke,
			map[string]string{"assignment_id": asg.ID, "status": string(models.AssignmentActive)},
			map[string]string{"assignment_id": asg.ID, "status": string(asg.Status)}, remarks))
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, assignmentID)
}

func (s *AssignmentService) event(ctx context.Context, tx sqlx.ExtContext, asg *models.Assignment, kind models.EventKind, content string, actor *policy.Actor, target *string) error {
	ev := &models.AssignmentEvent{
		AssignmentID: asg.ID,
		Kind:         kind,
		Content:      content,
		AuthorID:     actor.UserID,
		TargetUserID: target,
		CreatedAt:    s.now(),
	}
	if err := s.assignments.AddEvent(ctx, tx, ev); err != nil {
		return internal(err, "failed to append timeline event")
	}
	asg.Events = append(asg.Events, *ev)
	return nil
}

// transition persists a status change; a row that stopped being Active in the
// meantime surfaces as a conflict.
func (s *AssignmentService) transition(ctx context.Context, tx sqlx.ExtContext, asg *models.Assignment) error {
	if err := s.assignments.UpdateState(ctx, tx, asg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrAssignmentNotActive, "")
		}
		return internal(err, "failed to update assignment")
	}
	return nil
}

func (s *AssignmentService) record(ctx context.Context, exec sqlx.ExtContext, entry *models.AuditEntry) error {
	if err := s.audits.Create(ctx, exec, entry); err != nil {
		return internal(err, "failed to record audit entry")
	}
	return nil
}

func (s *AssignmentService) reload(ctx context.Context, id string) (*models.Assignment, error) {
	asg, err := s.assignments.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "assignment")
	}
	return asg, nil
}
