package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
)

const mailColumns = `m.id, m.sl_no, m.letter_no, m.subject, m.from_office, m.date_received, m.due_date, m.action_required, m.action_required_other, m.status,
m.assigned_to, ua.full_name AS assigned_to_name, m.current_handler_id, uh.full_name AS current_handler_name,
uh.subsection_id AS handler_subsection_id, hs.section_id AS handler_section_id,
m.monitoring_officer_id, m.section_id, sec.name AS section_name, m.created_by, uc.full_name AS created_by_name,
m.is_multi_assigned, m.remarks, m.consolidated_remarks, m.current_action_status, m.current_action_remarks, m.current_action_updated_at,
m.attachment_name, m.attachment_size, m.attachment_pages, m.attachment_key, m.attachment_uploaded_by, m.attachment_uploaded_at,
m.date_of_completion, m.last_status_change, m.created_at, m.updated_at`

const mailFrom = ` FROM mail_records m
JOIN users ua ON ua.id = m.assigned_to
JOIN users uh ON uh.id = m.current_handler_id
LEFT JOIN subsections hs ON hs.id = uh.subsection_id
JOIN sections sec ON sec.id = m.section_id
JOIN users uc ON uc.id = m.created_by`

// MailRepository persists mail records.
type MailRepository struct {
	db *sqlx.DB
}

// NewMailRepository constructs a MailRepository.
func NewMailRepository(db *sqlx.DB) *MailRepository {
	return &MailRepository{db: db}
}

func (r *MailRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// NextSerial reserves the next register number for year, formatted YYYY/NNN.
func (r *MailRepository) NextSerial(ctx context.Context, exec sqlx.ExtContext, year int) (string, error) {
	const query = `INSERT INTO mail_serials (year, last_value) VALUES ($1, 1)
ON CONFLICT (year) DO UPDATE SET last_value = mail_serials.last_value + 1 RETURNING last_value`
	var next int
	if err := sqlx.GetContext(ctx, r.exec(exec), &next, query, year); err != nil {
		return "", fmt.Errorf("reserve mail serial: %w", err)
	}
	return fmt.Sprintf("%d/%03d", year, next), nil
}

// Create inserts a new mail record.
func (r *MailRepository) Create(ctx context.Context, exec sqlx.ExtContext, mail *models.MailRecord) error {
	if mail.ID == "" {
		mail.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if mail.CreatedAt.IsZero() {
		mail.CreatedAt = now
	}
	mail.UpdatedAt = now
	if mail.LastStatusChange.IsZero() {
		mail.LastStatusChange = now
	}

	const query = `INSERT INTO mail_records (id, sl_no, letter_no, subject, from_office, date_received, due_date, action_required, action_required_other,
status, assigned_to, current_handler_id, monitoring_officer_id, section_id, created_by, is_multi_assigned, remarks,
last_status_change, created_at, updated_at)
VALUES (:id, :sl_no, :letter_no, :subject, :from_office, :date_received, :due_date, :action_required, :action_required_other,
:status, :assigned_to, :current_handler_id, :monitoring_officer_id, :section_id, :created_by, :is_multi_assigned, :remarks,
:last_status_change, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, mail); err != nil {
		return fmt.Errorf("create mail record: %w", err)
	}
	return nil
}

// FindByID loads a mail record with its joined names.
func (r *MailRepository) FindByID(ctx context.Context, id string) (*models.MailRecord, error) {
	query := "SELECT " + mailColumns + mailFrom + " WHERE m.id = $1"
	var mail models.MailRecord
	if err := r.db.GetContext(ctx, &mail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find mail record: %w", err)
	}
	return &mail, nil
}

// LockByID loads a mail record and holds a row lock on it until exec's
// transaction ends.
func (r *MailRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.MailRecord, error) {
	query := "SELECT " + mailColumns + mailFrom + " WHERE m.id = $1 FOR UPDATE OF m"
	var mail models.MailRecord
	if err := sqlx.GetContext(ctx, r.exec(exec), &mail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock mail record: %w", err)
	}
	return &mail, nil
}

// Update writes every mutable column of mail.
func (r *MailRepository) Update(ctx context.Context, exec sqlx.ExtContext, mail *models.MailRecord) error {
	mail.UpdatedAt = time.Now().UTC()
	const query = `UPDATE mail_records SET status = :status, current_handler_id = :current_handler_id, monitoring_officer_id = :monitoring_officer_id,
is_multi_assigned = :is_multi_assigned, remarks = :remarks, consolidated_remarks = :consolidated_remarks,
current_action_status = :current_action_status, current_action_remarks = :current_action_remarks, current_action_updated_at = :current_action_updated_at,
attachment_name = :attachment_name, attachment_size = :attachment_size, attachment_pages = :attachment_pages, attachment_key = :attachment_key,
attachment_uploaded_by = :attachment_uploaded_by, attachment_uploaded_at = :attachment_uploaded_at,
date_of_completion = :date_of_completion, last_status_change = :last_status_change, updated_at = :updated_at
WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, mail)
	if err != nil {
		return fmt.Errorf("update mail record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ApplyConsolidation stores recomputed consolidated remarks and status.
// Consolidation never moves a record into or out of Closed: a closed row keeps
// its status, and a Closed status computed from a stale read is ignored so a
// concurrent reopen cannot be undone without a completion date.
func (r *MailRepository) ApplyConsolidation(ctx context.Context, id, consolidated string, status models.MailStatus, at time.Time) error {
	const query = `UPDATE mail_records SET consolidated_remarks = NULLIF($2, ''),
last_status_change = CASE WHEN status = 'Closed' OR $3 = 'Closed' OR status = $3 THEN last_status_change ELSE $4 END,
status = CASE WHEN status = 'Closed' OR $3 = 'Closed' THEN status ELSE $3 END,
updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, consolidated, status, at); err != nil {
		return fmt.Errorf("apply consolidation: %w", err)
	}
	return nil
}

// Touched reports whether userID appears in the mail's audit trail.
func (r *MailRepository) Touched(ctx context.Context, mailID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM audit_trail WHERE mail_id = $1 AND performed_by = $2)`
	var touched bool
	if err := r.db.GetContext(ctx, &touched, query, mailID, userID); err != nil {
		return false, fmt.Errorf("check audit involvement: %w", err)
	}
	return touched, nil
}

// List returns the page of mail visible to actor that matches filter.
func (r *MailRepository) List(ctx context.Context, actor *policy.Actor, filter models.MailFilter) ([]models.MailRecord, int, error) {
	where, args := mailConditions(actor, filter)
	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s%s WHERE %s ORDER BY m.created_at DESC LIMIT %d OFFSET %d", mailColumns, mailFrom, where, pageSize, offset)
	mails := make([]models.MailRecord, 0)
	if err := r.db.SelectContext(ctx, &mails, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list mail records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*)%s WHERE %s", mailFrom, where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count mail records: %w", err)
	}
	return mails, total, nil
}

// ListForExport returns up to limit visible records matching filter, ignoring paging.
func (r *MailRepository) ListForExport(ctx context.Context, actor *policy.Actor, filter models.MailFilter, limit int) ([]models.MailRecord, error) {
	if limit <= 0 {
		limit = 5000
	}
	where, args := mailConditions(actor, filter)
	query := fmt.Sprintf("SELECT %s%s WHERE %s ORDER BY m.created_at DESC LIMIT %d", mailColumns, mailFrom, where, limit)
	mails := make([]models.MailRecord, 0)
	if err := r.db.SelectContext(ctx, &mails, query, args...); err != nil {
		return nil, fmt.Errorf("export mail records: %w", err)
	}
	return mails, nil
}

// mailConditions renders the visibility rule for actor plus the list filters.
// The visibility branches mirror policy.View.
func mailConditions(actor *policy.Actor, filter models.MailFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if actor == nil {
		return "FALSE", nil
	}

	var uid string
	involved := func() string {
		if uid == "" {
			uid = arg(actor.UserID)
		}
		return fmt.Sprintf(`(m.assigned_to = %[1]s
OR EXISTS (SELECT 1 FROM assignments va WHERE va.mail_id = m.id AND va.assigned_to = %[1]s AND va.status = 'Active')
OR (m.current_handler_id = %[1]s AND NOT (m.is_multi_assigned AND EXISTS (SELECT 1 FROM assignments vb WHERE vb.mail_id = m.id AND vb.status = 'Active'))))`, uid)
	}
	touched := func() string {
		if uid == "" {
			uid = arg(actor.UserID)
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM audit_trail vt WHERE vt.mail_id = m.id AND vt.performed_by = %s)", uid)
	}

	switch actor.Role {
	case models.RoleAG:
	case models.RoleDAG:
		managed := arg(pq.Array(actor.ManagedSections))
		conditions = append(conditions, fmt.Sprintf("(m.section_id::text = ANY(%[1]s) OR hs.section_id::text = ANY(%[1]s) OR %s OR %s)", managed, involved(), touched()))
	case models.RoleSrAO, models.RoleAAO:
		visible := []string{involved(), touched()}
		if actor.SubsectionID != "" {
			visible = append(visible, "uh.subsection_id = "+arg(actor.SubsectionID))
		}
		conditions = append(conditions, "("+strings.Join(visible, " OR ")+")")
	case models.RoleClerk:
		inv := involved()
		conditions = append(conditions, fmt.Sprintf("(%s OR m.created_by = %s)", inv, uid))
	case models.RoleAuditor:
		conditions = append(conditions, fmt.Sprintf("uh.subsection_id::text = ANY(%s)", arg(pq.Array(actor.AuditorSubsections))))
	default:
		conditions = append(conditions, "FALSE")
	}

	if filter.Status != nil {
		conditions = append(conditions, "m.status = "+arg(string(*filter.Status)))
	}
	if filter.SectionID != "" {
		conditions = append(conditions, "m.section_id = "+arg(filter.SectionID))
	}
	if filter.Overdue {
		conditions = append(conditions, "(m.due_date < CURRENT_DATE AND m.status <> 'Closed')")
	}
	switch filter.Scope {
	case models.ScopeAssigned:
		conditions = append(conditions, involved())
	case models.ScopeCreatedByMe:
		conditions = append(conditions, "m.created_by = "+arg(actor.UserID))
	case models.ScopeClosed:
		conditions = append(conditions, "m.status = 'Closed'")
	}
	if filter.Search != "" {
		p := arg("%" + strings.ToLower(filter.Search) + "%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(m.sl_no) LIKE %[1]s OR LOWER(m.letter_no) LIKE %[1]s OR LOWER(m.subject) LIKE %[1]s OR LOWER(m.from_office) LIKE %[1]s)", p))
	}

	if len(conditions) == 0 {
		return "TRUE", args
	}
	return strings.Join(conditions, " AND "), args
}
