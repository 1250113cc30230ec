package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	"github.com/noah-isme/mailtrack-api/pkg/cache"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ListActive(ctx context.Context) ([]models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CandidateQuery narrows the assignable-user listing.
type CandidateQuery struct {
	MailID    string
	AllowSelf bool
}

// CreateUserRequest represents payload for creating users.
type CreateUserRequest struct {
	Email              string          `json:"email" validate:"required,email"`
	FullName           string          `json:"full_name" validate:"required"`
	Role               models.UserRole `json:"role" validate:"required,oneof=AG DAG SrAO AAO auditor clerk"`
	SubsectionID       *string         `json:"subsection_id"`
	ManagedSections    []string        `json:"managed_sections" validate:"dive,required"`
	AuditorSubsections []string        `json:"auditor_subsections" validate:"dive,required"`
	Active             *bool           `json:"active"`
	Password           string          `json:"password" validate:"required,min=8"`
}

// UpdateUserRequest payload for updating users. Scope lists replace the
// stored ones.
type UpdateUserRequest struct {
	FullName           string          `json:"full_name" validate:"required"`
	Role               models.UserRole `json:"role" validate:"required,oneof=AG DAG SrAO AAO auditor clerk"`
	SubsectionID       *string         `json:"subsection_id"`
	ManagedSections    []string        `json:"managed_sections" validate:"dive,required"`
	AuditorSubsections []string        `json:"auditor_subsections" validate:"dive,required"`
	Active             *bool           `json:"active"`
}

// UserService serves the user directory, the caller's own profile and AG
// user administration.
type UserService struct {
	repo      userRepository
	mails     mailViewer
	validator *validator.Validate
	cache     *CacheService
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, mails mailViewer, validate *validator.Validate, cache *CacheService, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, mails: mails, validator: validate, cache: cache, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if filter.Role != nil && !filter.Role.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown role "+string(*filter.Role))
	}
	filter.Search = strings.TrimSpace(filter.Search)

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "user")
	}
	return user, nil
}

// Create adds a new user with its role scope.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}
	user := &models.User{
		ID:                 uuid.NewString(),
		Email:              strings.ToLower(strings.TrimSpace(req.Email)),
		FullName:           strings.TrimSpace(req.FullName),
		Role:               req.Role,
		SubsectionID:       blankToNil(req.SubsectionID),
		ManagedSections:    req.ManagedSections,
		AuditorSubsections: req.AuditorSubsections,
		Active:             req.Active == nil || *req.Active,
	}
	if err := checkScope(user); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByEmail(ctx, user.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	user.PasswordHash = string(passwordHash)

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}
	s.forgetDirectory(ctx)
	s.record(ctx, models.AuditActionUserCreate, actorID, meta, map[string]interface{}{
		"id": user.ID, "email": user.Email, "role": user.Role, "active": user.Active,
	})

	return user, nil
}

// Update modifies the user attributes. Deactivating a user revokes its
// refresh tokens.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "user")
	}
	if id == actorID && (req.Role != user.Role || (req.Active != nil && !*req.Active)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot change your own role or deactivate yourself")
	}

	before := map[string]interface{}{"role": user.Role, "subsection_id": user.SubsectionID, "active": user.Active,
		"managed_sections": user.ManagedSections, "auditor_subsections": user.AuditorSubsections}
	wasActive := user.Active

	user.FullName = strings.TrimSpace(req.FullName)
	user.Role = req.Role
	user.SubsectionID = blankToNil(req.SubsectionID)
	user.ManagedSections = req.ManagedSections
	user.AuditorSubsections = req.AuditorSubsections
	if req.Active != nil {
		user.Active = *req.Active
	}
	if err := checkScope(user); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}
	if wasActive && !user.Active {
		s.revokeSessions(ctx, user.ID)
	}
	s.forgetDirectory(ctx)
	s.record(ctx, models.AuditActionUserUpdate, actorID, meta, map[string]interface{}{
		"id": user.ID, "old": before,
		"new": map[string]interface{}{"role": user.Role, "subsection_id": user.SubsectionID, "active": user.Active,
			"managed_sections": user.ManagedSections, "auditor_subsections": user.AuditorSubsections},
	})

	return user, nil
}

// Delete performs a soft delete (inactive) on a user.
func (s *UserService) Delete(ctx context.Context, id string, actorID string, meta models.LoginRequest) error {
	if id == actorID {
		return appErrors.Clone(appErrors.ErrValidation, "cannot deactivate yourself")
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return notFoundOr(err, "user")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}
	s.revokeSessions(ctx, id)
	s.forgetDirectory(ctx)
	s.record(ctx, models.AuditActionUserDelete, actorID, meta, map[string]interface{}{
		"id": user.ID, "old": map[string]interface{}{"active": user.Active}, "new": map[string]interface{}{"active": false},
	})

	return nil
}

// Me returns the caller's profile including scope data.
func (s *UserService) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	info := user.Info()
	return &info, nil
}

// Actor builds the permission context for an authenticated user. Scope is
// read fresh on every call.
func (s *UserService) Actor(ctx context.Context, userID string) (*policy.Actor, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	return policy.ActorFromUser(user), nil
}

func (s *UserService) load(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Candidates lists the users actor may assign work to. With a mail id the
// mail must be visible to actor, and users already holding an Active
// assignment on it are left out.
func (s *UserService) Candidates(ctx context.Context, actor *policy.Actor, query CandidateQuery) ([]models.UserSummary, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, policy.ReasonMissingContext.Message())
	}

	busy := map[string]struct{}{}
	if query.MailID != "" {
		if s.mails == nil {
			return nil, appErrors.Clone(appErrors.ErrInternal, "mail lookup unavailable")
		}
		mail, err := s.mails.Get(ctx, actor, query.MailID)
		if err != nil {
			return nil, err
		}
		for _, a := range mail.ActiveAssignments() {
			busy[a.AssignedToID] = struct{}{}
		}
	}

	active, err := cached(ctx, s.cache, cache.Key("users", "active"), func() ([]models.User, error) {
		return s.repo.ListActive(ctx)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load users")
	}

	filtered := policy.FilterCandidates(actor, active, policy.CandidateOptions{AllowSelf: query.AllowSelf})
	out := make([]models.UserSummary, 0, len(filtered))
	for _, u := range filtered {
		if _, ok := busy[u.ID]; ok {
			continue
		}
		out = append(out, u.Summary())
	}
	return out, nil
}

// checkScope enforces the role-specific scope and clears lists the role
// does not use.
func checkScope(user *models.User) error {
	switch user.Role {
	case models.RoleDAG:
		if len(user.ManagedSections) == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "a DAG needs at least one managed section")
		}
		user.AuditorSubsections = nil
	case models.RoleAuditor:
		if len(user.AuditorSubsections) == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "an auditor needs at least one subsection")
		}
		user.ManagedSections = nil
	case models.RoleSrAO, models.RoleAAO, models.RoleClerk:
		if user.SubsectionID == nil {
			return appErrors.Clone(appErrors.ErrValidation, string(user.Role)+" needs a subsection")
		}
		user.ManagedSections, user.AuditorSubsections = nil, nil
	default:
		user.ManagedSections, user.AuditorSubsections = nil, nil
	}
	return nil
}

func blankToNil(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	return &trimmed
}

func (s *UserService) forgetDirectory(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, cache.Key("users", "active"))
}

func (s *UserService) revokeSessions(ctx context.Context, userID string) {
	if err := s.repo.RevokeUserRefreshTokens(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke sessions of deactivated user", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *UserService) record(ctx context.Context, action, actorID string, meta models.LoginRequest, detail map[string]interface{}) {
	payload, _ := json.Marshal(detail)
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:    &actorID,
		Action:    action,
		Detail:    payload,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record user administration audit log", zap.String("action", action), zap.Error(err))
	}
}
