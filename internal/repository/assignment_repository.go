package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/mailtrack-api/internal/models"
)

const assignmentColumns = `a.id, a.mail_id, a.assigned_to, ut.full_name AS assigned_to_name, a.assigned_by, ub.full_name AS assigned_by_name,
a.status, a.assignment_remarks, a.predecessor_id, a.reassigned_to, ur.full_name AS reassigned_to_name, a.reassigned_at,
a.completed_at, a.revoked_at, a.created_at, a.updated_at`

const assignmentFrom = ` FROM assignments a
JOIN users ut ON ut.id = a.assigned_to
JOIN users ub ON ub.id = a.assigned_by
LEFT JOIN users ur ON ur.id = a.reassigned_to`

const eventColumns = `e.id, e.assignment_id, e.seq, e.kind, e.content, e.author_id, au.full_name AS author_name,
e.target_user_id, tu.full_name AS target_user_name, e.created_at`

const eventFrom = ` FROM assignment_events e
JOIN users au ON au.id = e.author_id
LEFT JOIN users tu ON tu.id = e.target_user_id`

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// AssignmentRepository persists assignments and their timeline events.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs an AssignmentRepository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (r *AssignmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListByMail returns a mail's assignments, newest first, with their events.
func (r *AssignmentRepository) ListByMail(ctx context.Context, mailID string) ([]models.Assignment, error) {
	query := "SELECT " + assignmentColumns + assignmentFrom + " WHERE a.mail_id = $1 ORDER BY a.created_at DESC"
	assignments := make([]models.Assignment, 0)
	if err := r.db.SelectContext(ctx, &assignments, query, mailID); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	if len(assignments) == 0 {
		return assignments, nil
	}

	evQuery := "SELECT " + eventColumns + eventFrom + ` JOIN assignments ea ON ea.id = e.assignment_id
WHERE ea.mail_id = $1 ORDER BY e.created_at ASC, e.seq ASC`
	events := make([]models.AssignmentEvent, 0)
	if err := r.db.SelectContext(ctx, &events, evQuery, mailID); err != nil {
		return nil, fmt.Errorf("list assignment events: %w", err)
	}
	attachEvents(assignments, events)
	return assignments, nil
}

// FindByID loads one assignment with its events.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	query := "SELECT " + assignmentColumns + assignmentFrom + " WHERE a.id = $1"
	var asg models.Assignment
	if err := r.db.GetContext(ctx, &asg, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	events, err := r.ListEvents(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	asg.Events = events
	return &asg, nil
}

// LockByID loads an assignment and holds a row lock on it.
func (r *AssignmentRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Assignment, error) {
	query := "SELECT " + assignmentColumns + assignmentFrom + " WHERE a.id = $1 FOR UPDATE OF a"
	var asg models.Assignment
	if err := sqlx.GetContext(ctx, r.exec(exec), &asg, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock assignment: %w", err)
	}
	events, err := r.ListEvents(ctx, exec, id)
	if err != nil {
		return nil, err
	}
	asg.Events = events
	return &asg, nil
}

// ListActiveByMail returns the Active assignments of a mail.
func (r *AssignmentRepository) ListActiveByMail(ctx context.Context, exec sqlx.ExtContext, mailID string) ([]models.Assignment, error) {
	query := "SELECT " + assignmentColumns + assignmentFrom + " WHERE a.mail_id = $1 AND a.status = 'Active' ORDER BY a.created_at ASC"
	assignments := make([]models.Assignment, 0)
	if err := sqlx.SelectContext(ctx, r.exec(exec), &assignments, query, mailID); err != nil {
		return nil, fmt.Errorf("list active assignments: %w", err)
	}
	return assignments, nil
}

// ListActiveByMails returns the Active assignments of several mails in one
// query, ordered by mail and then by creation.
func (r *AssignmentRepository) ListActiveByMails(ctx context.Context, mailIDs []string) ([]models.Assignment, error) {
	assignments := make([]models.Assignment, 0)
	if len(mailIDs) == 0 {
		return assignments, nil
	}
	query := "SELECT " + assignmentColumns + assignmentFrom + " WHERE a.mail_id::text = ANY($1) AND a.status = 'Active' ORDER BY a.mail_id, a.created_at ASC"
	if err := r.db.SelectContext(ctx, &assignments, query, pq.Array(mailIDs)); err != nil {
		return nil, fmt.Errorf("list active assignments by mails: %w", err)
	}
	return assignments, nil
}

// ListEvents returns an assignment's timeline in order.
func (r *AssignmentRepository) ListEvents(ctx context.Context, exec sqlx.ExtContext, assignmentID string) ([]models.AssignmentEvent, error) {
	query := "SELECT " + eventColumns + eventFrom + " WHERE e.assignment_id = $1 ORDER BY e.created_at ASC, e.seq ASC"
	events := make([]models.AssignmentEvent, 0)
	if err := sqlx.SelectContext(ctx, r.exec(exec), &events, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list assignment events: %w", err)
	}
	return events, nil
}

// Create inserts a new assignment. A second Active assignment for the same
// (mail, assignee) fails with a unique violation.
func (r *AssignmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, asg *models.Assignment) error {
	if asg.ID == "" {
		asg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if asg.CreatedAt.IsZero() {
		asg.CreatedAt = now
	}
	asg.UpdatedAt = now
	if asg.Status == "" {
		asg.Status = models.AssignmentActive
	}
	const query = `INSERT INTO assignments (id, mail_id, assigned_to, assigned_by, status, assignment_remarks, predecessor_id, created_at, updated_at)
VALUES (:id, :mail_id, :assigned_to, :assigned_by, :status, :assignment_remarks, :predecessor_id, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, asg); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// UpdateState persists a status transition together with its timestamps.
// Only Active rows are updated so terminal states stay frozen.
func (r *AssignmentRepository) UpdateState(ctx context.Context, exec sqlx.ExtContext, asg *models.Assignment) error {
	asg.UpdatedAt = time.Now().UTC()
	const query = `UPDATE assignments SET status = :status, reassigned_to = :reassigned_to, reassigned_at = :reassigned_at,
completed_at = :completed_at, revoked_at = :revoked_at, updated_at = :updated_at
WHERE id = :id AND status = 'Active'`
	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, asg)
	if err != nil {
		return fmt.Errorf("update assignment state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddEvent appends a timeline event and fills in its sequence number.
func (r *AssignmentRepository) AddEvent(ctx context.Context, exec sqlx.ExtContext, ev *models.AssignmentEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO assignment_events (id, assignment_id, kind, content, author_id, target_user_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq`
	if err := sqlx.GetContext(ctx, r.exec(exec), &ev.Seq, query, ev.ID, ev.AssignmentID, ev.Kind, ev.Content, ev.AuthorID, ev.TargetUserID, ev.CreatedAt); err != nil {
		return fmt.Errorf("add assignment event: %w", err)
	}
	return nil
}

// HasActive reports whether userID holds an Active assignment on mailID.
func (r *AssignmentRepository) HasActive(ctx context.Context, exec sqlx.ExtContext, mailID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM assignments WHERE mail_id = $1 AND assigned_to = $2 AND status = 'Active')`
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, mailID, userID); err != nil {
		return false, fmt.Errorf("check active assignment: %w", err)
	}
	return exists, nil
}

func attachEvents(assignments []models.Assignment, events []models.AssignmentEvent) {
	index := make(map[string]int, len(assignments))
	for i := range assignments {
		assignments[i].Events = make([]models.AssignmentEvent, 0)
		index[assignments[i].ID] = i
	}
	for _, ev := range events {
		if i, ok := index[ev.AssignmentID]; ok {
			assignments[i].Events = append(assignments[i].Events, ev)
		}
	}
}
