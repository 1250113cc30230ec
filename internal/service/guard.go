package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type auditWriter interface {
	Create(ctx context.Context, exec sqlx.ExtContext, entry *models.AuditEntry) error
}

// consolidationScheduler queues a refresh of a mail's consolidated remarks.
type consolidationScheduler interface {
	Schedule(mailID string)
}

// denied converts a policy denial into the API error for it. Closed mail and
// inactive assignments are conflicts; everything else is forbidden with the
// reason code leading the message.
func denied(metrics *MetricsService, d policy.Decision) error {
	metrics.RecordDenial(string(d.Reason))
	switch d.Reason {
	case policy.ReasonMailClosed:
		return appErrors.Clone(appErrors.ErrMailClosed, d.Reason.Message())
	case policy.ReasonAssignmentInactive:
		return appErrors.Clone(appErrors.ErrAssignmentNotActive, d.Reason.Message())
	case policy.ReasonMissingContext:
		return appErrors.Clone(appErrors.ErrUnauthorized, d.Reason.Message())
	}
	return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s: %s", d.Reason, d.Reason.Message()))
}

// requireText trims value and rejects it when blank.
func requireText(value, field string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, field+" is required")
	}
	return trimmed, nil
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, what+" not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+what)
}

func internal(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// auditEntry builds a trail row; old and new may be nil.
func auditEntry(mailID string, actor *policy.Actor, action models.AuditAction, oldValue, newValue interface{}, remarks string) *models.AuditEntry {
	entry := &models.AuditEntry{MailID: mailID, PerformedBy: actor.UserID, Action: action, Remarks: remarks}
	if oldValue != nil {
		entry.OldValue, _ = json.Marshal(oldValue)
	}
	if newValue != nil {
		entry.NewValue, _ = json.Marshal(newValue)
	}
	return entry
}

// loadTarget fetches a user that work is being handed to and checks that the
// actor may pick them.
func loadTarget(ctx context.Context, users userFinder, actor *policy.Actor, userID string) (*models.User, error) {
	target, err := users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "user "+userID+" does not exist")
		}
		return nil, internal(err, "failed to load user")
	}
	if !target.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, target.FullName+" is inactive")
	}
	if len(policy.FilterCandidates(actor, []models.User{*target}, policy.CandidateOptions{AllowSelf: true})) == 0 {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s: %s is outside your assignable users", policy.ReasonOutsideSection, target.FullName))
	}
	return target, nil
}

type userFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
