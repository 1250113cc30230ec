package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mailtrack-api/internal/models"
)

// AuditRepository appends to and reads the per-mail audit trail.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs an AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an entry. JSON payloads are sent as text because lib/pq
// would otherwise encode []byte as bytea.
func (r *AuditRepository) Create(ctx context.Context, exec sqlx.ExtContext, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	target := exec
	if target == nil {
		target = r.db
	}
	const query = `INSERT INTO audit_trail (id, mail_id, action, performed_by, old_value, new_value, remarks, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := target.ExecContext(ctx, query, entry.ID, entry.MailID, entry.Action, entry.PerformedBy,
		jsonText(entry.OldValue), jsonText(entry.NewValue), entry.Remarks, entry.CreatedAt); err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

// ListByMail returns a mail's audit trail in chronological order.
func (r *AuditRepository) ListByMail(ctx context.Context, mailID string) ([]models.AuditEntry, error) {
	const query = `SELECT t.id, t.mail_id, t.action, t.performed_by, u.full_name AS performed_by_name, t.old_value, t.new_value, t.remarks, t.created_at
FROM audit_trail t JOIN users u ON u.id = t.performed_by
WHERE t.mail_id = $1 ORDER BY t.created_at ASC, t.id ASC`
	entries := make([]models.AuditEntry, 0)
	if err := r.db.SelectContext(ctx, &entries, query, mailID); err != nil {
		return nil, fmt.Errorf("list audit trail: %w", err)
	}
	return entries, nil
}

func jsonText(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
