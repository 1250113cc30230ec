package service

import (
	"context"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
)

type auditReader interface {
	ListByMail(ctx context.Context, mailID string) ([]models.AuditEntry, error)
}

type mailViewer interface {
	Get(ctx context.Context, actor *policy.Actor, id string) (*models.MailRecord, error)
}

// AuditService exposes the read side of the audit trail.
type AuditService struct {
	audits auditReader
	mails  mailViewer
}

// NewAuditService constructs an AuditService.
func NewAuditService(audits auditReader, mails mailViewer) *AuditService {
	return &AuditService{audits: audits, mails: mails}
}

// ListByMail returns the trail of a mail the actor can see, oldest first.
func (s *AuditService) ListByMail(ctx context.Context, actor *policy.Actor, mailID string) ([]models.AuditEntry, error) {
	if mailID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "mail_id is required")
	}
	if _, err := s.mails.Get(ctx, actor, mailID); err != nil {
		return nil, err
	}
	entries, err := s.audits.ListByMail(ctx, mailID)
	if err != nil {
		return nil, internal(err, "failed to load audit trail")
	}
	return entries, nil
}
