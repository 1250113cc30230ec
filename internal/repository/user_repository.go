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
)

const userColumns = `u.id, u.email, u.password_hash, u.full_name, u.role, u.subsection_id, ss.name AS subsection_name, ss.section_id, s.name AS section_name,
COALESCE((SELECT array_agg(ds.section_id::text ORDER BY ds.section_id) FROM dag_sections ds WHERE ds.user_id = u.id), '{}') AS managed_sections,
COALESCE((SELECT array_agg(au.subsection_id::text ORDER BY au.subsection_id) FROM auditor_subsections au WHERE au.user_id = u.id), '{}') AS auditor_subsections,
u.active, u.last_login, u.created_at, u.updated_at`

const userFrom = ` FROM users u LEFT JOIN subsections ss ON ss.id = u.subsection_id LEFT JOIN sections s ON s.id = ss.section_id`

// UserRepository provides database access for the staff directory and
// authentication sessions.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := "SELECT " + userColumns + userFrom + " WHERE LOWER(u.email) = LOWER($1) LIMIT 1"
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := "SELECT " + userColumns + userFrom + " WHERE u.id = $1 LIMIT 1"
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByIDs returns the users with the given ids, in no particular order.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	query := "SELECT " + userColumns + userFrom + " WHERE u.id = ANY($1)"
	users := make([]models.User, 0, len(ids))
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find users by ids: %w", err)
	}
	return users, nil
}

// ListByNames returns users, active or not, whose full name matches one of
// names ignoring case.
func (r *UserRepository) ListByNames(ctx context.Context, names []string) ([]models.User, error) {
	if len(names) == 0 {
		return []models.User{}, nil
	}
	lowered := make([]string, 0, len(names))
	for _, n := range names {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(n)))
	}
	query := "SELECT " + userColumns + userFrom + " WHERE LOWER(u.full_name) = ANY($1) ORDER BY u.created_at ASC"
	users := make([]models.User, 0, len(names))
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(lowered)); err != nil {
		return nil, fmt.Errorf("list users by names: %w", err)
	}
	return users, nil
}

// ListActive returns every active user ordered by name. Role scoping is
// applied afterwards by the candidate filter.
func (r *UserRepository) ListActive(ctx context.Context) ([]models.User, error) {
	query := "SELECT " + userColumns + userFrom + " WHERE u.active = TRUE ORDER BY u.full_name ASC"
	users := make([]models.User, 0)
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	return users, nil
}

// FindSectionDAG returns the first active DAG managing sectionID.
func (r *UserRepository) FindSectionDAG(ctx context.Context, sectionID string) (*models.User, error) {
	query := "SELECT " + userColumns + userFrom + ` WHERE u.role = 'DAG' AND u.active = TRUE
AND EXISTS (SELECT 1 FROM dag_sections d WHERE d.user_id = u.id AND d.section_id = $1) ORDER BY u.created_at ASC LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, sectionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find section dag: %w", err)
	}
	return &user, nil
}

// Create inserts a user together with its DAG sections and auditor
// subsections.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `INSERT INTO users (id, email, password_hash, full_name, role, subsection_id, active, created_at, updated_at) VALUES (:id, :email, :password_hash, :full_name, :role, :subsection_id, :active, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if err := replaceScope(ctx, tx, user); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Update writes the mutable fields of a user and replaces its scope rows.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `UPDATE users SET full_name = :full_name, role = :role, subsection_id = :subsection_id, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if err := replaceScope(ctx, tx, user); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// Delete performs a soft delete by marking the user inactive.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	const query = `UPDATE users SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// replaceScope rewrites dag_sections and auditor_subsections for user. Rows
// that do not match the user's role are dropped.
func replaceScope(ctx context.Context, tx *sqlx.Tx, user *models.User) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM dag_sections WHERE user_id = $1`, user.ID); err != nil {
		return fmt.Errorf("clear dag sections: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM auditor_subsections WHERE user_id = $1`, user.ID); err != nil {
		return fmt.Errorf("clear auditor subsections: %w", err)
	}
	if user.Role == models.RoleDAG && len(user.ManagedSections) > 0 {
		const query = `INSERT INTO dag_sections (user_id, section_id) SELECT $1, UNNEST($2::uuid[])`
		if _, err := tx.ExecContext(ctx, query, user.ID, pq.Array([]string(user.ManagedSections))); err != nil {
			return fmt.Errorf("insert dag sections: %w", err)
		}
	}
	if user.Role == models.RoleAuditor && len(user.AuditorSubsections) > 0 {
		const query = `INSERT INTO auditor_subsections (user_id, subsection_id) SELECT $1, UNNEST($2::uuid[])`
		if _, err := tx.ExecContext(ctx, query, user.ID, pq.Array([]string(user.AuditorSubsections))); err != nil {
			return fmt.Errorf("insert auditor subsections: %w", err)
		}
	}
	return nil
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := userFrom + " WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("u.role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.SectionID != "" {
		conditions = append(conditions, fmt.Sprintf("ss.section_id = $%d", len(args)+1))
		args = append(args, filter.SectionID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("u.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(u.email) LIKE $%d OR LOWER(u.full_name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"full_name":  "u.full_name",
		"email":      "u.email",
		"role":       "u.role",
		"created_at": "u.created_at",
	}
	sortBy, ok := allowedSorts[filter.SortBy]
	if !ok {
		sortBy = "u.full_name"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "ASC"
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s%s ORDER BY %s %s LIMIT %d OFFSET %d", userColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	users := make([]models.User, 0)
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := "SELECT COUNT(*)" + baseQuery
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent) VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by token string.
func (r *UserRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *UserRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes all refresh tokens for a user.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// CreateAuditLog stores an authentication or user administration event.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	detail := string(log.Detail)
	if detail == "" {
		detail = "{}"
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, detail, ip_address, user_agent, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query, log.ID, log.UserID, log.Action, detail, log.IPAddress, log.UserAgent, log.CreatedAt); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
