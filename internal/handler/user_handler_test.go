package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mailtrack-api/internal/middleware"
	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	"github.com/noah-isme/mailtrack-api/internal/service"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
)

type userServiceMock struct {
	filter    models.UserFilter
	query     service.CandidateQuery
	createReq service.CreateUserRequest
	updateReq service.UpdateUserRequest
	updatedID string
	deletedID string
	actorID   string
	meta      models.LoginRequest
	err       error
}

func (m *userServiceMock) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	m.filter = filter
	return []models.User{{ID: "u1"}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (m *userServiceMock) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	return &models.UserInfo{ID: userID}, nil
}

func (m *userServiceMock) Candidates(ctx context.Context, actor *policy.Actor, query service.CandidateQuery) ([]models.UserSummary, error) {
	m.query = query
	return []models.UserSummary{{ID: "aao2"}}, nil
}

func (m *userServiceMock) Get(ctx context.Context, id string) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.User{ID: id}, nil
}

func (m *userServiceMock) Create(ctx context.Context, req service.CreateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	m.createReq, m.actorID, m.meta = req, actorID, meta
	if m.err != nil {
		return nil, m.err
	}
	return &models.User{ID: "u-new", Email: req.Email, Role: req.Role}, nil
}

func (m *userServiceMock) Update(ctx context.Context, id string, req service.UpdateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	m.updatedID, m.updateReq, m.actorID = id, req, actorID
	return &models.User{ID: id, Role: req.Role}, m.err
}

func (m *userServiceMock) Delete(ctx context.Context, id string, actorID string, meta models.LoginRequest) error {
	m.deletedID, m.actorID = id, actorID
	return m.err
}

var agActor = &policy.Actor{UserID: "ag", Role: models.RoleAG}

func TestUserHandlerCreate(t *testing.T) {
	svc := &userServiceMock{}
	handler := NewUserHandler(svc)
	body := []byte(`{"email":"new@office.test","full_name":"Nia New","role":"DAG","managed_sections":["sec-A"],"password":"secret123"}`)
	c, w := newTestContext(http.MethodPost, "/users", body, agActor)
	c.Request.Header.Set("User-Agent", "mailctl/1.0")

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "ag", svc.actorID)
	assert.Equal(t, models.RoleDAG, svc.createReq.Role)
	assert.Equal(t, []string{"sec-A"}, svc.createReq.ManagedSections)
	assert.Equal(t, "mailctl/1.0", svc.meta.UserAgent)

	c, w = newTestContext(http.MethodPost, "/users", []byte(`{bad`), agActor)
	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserHandlerUpdateAndDelete(t *testing.T) {
	svc := &userServiceMock{}
	handler := NewUserHandler(svc)

	c, w := newTestContext(http.MethodPut, "/users/u-9", []byte(`{"full_name":"Aud","role":"auditor","auditor_subsections":["sub-A1"],"active":false}`), agActor)
	c.Params = gin.Params{{Key: "id", Value: "u-9"}}
	handler.Update(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-9", svc.updatedID)
	require.NotNil(t, svc.updateReq.Active)
	assert.False(t, *svc.updateReq.Active)
	assert.Equal(t, []string{"sub-A1"}, svc.updateReq.AuditorSubsections)

	c, _ = newTestContext(http.MethodDelete, "/users/u-9", nil, agActor)
	c.Params = gin.Params{{Key: "id", Value: "u-9"}}
	handler.Delete(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "u-9", svc.deletedID)

	c, w = newTestContext(http.MethodDelete, "/users/u-9", nil, nil)
	handler.Delete(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserHandlerGetNotFound(t *testing.T) {
	handler := NewUserHandler(&userServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "user not found")})
	c, w := newTestContext(http.MethodGet, "/users/ghost", nil, agActor)
	c.Params = gin.Params{{Key: "id", Value: "ghost"}}

	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUserHandlerListFilters(t *testing.T) {
	svc := &userServiceMock{}
	handler := NewUserHandler(svc)
	c, w := newTestContext(http.MethodGet, "/users?role=AAO&active=false&search=ann&sort_by=full_name", nil, dagActor)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.filter.Role)
	assert.Equal(t, models.RoleAAO, *svc.filter.Role)
	require.NotNil(t, svc.filter.Active)
	assert.False(t, *svc.filter.Active)
	assert.Equal(t, "ann", svc.filter.Search)
	assert.Equal(t, "full_name", svc.filter.SortBy)
}

func TestUserHandlerCandidates(t *testing.T) {
	svc := &userServiceMock{}
	handler := NewUserHandler(svc)
	c, w := newTestContext(http.MethodGet, "/users/candidates?mail_id=m-1&allow_self=true", nil, dagActor)

	handler.Candidates(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.CandidateQuery{MailID: "m-1", AllowSelf: true}, svc.query)
}

func TestUserHandlerMeRequiresActor(t *testing.T) {
	handler := NewUserHandler(&userServiceMock{})
	c, w := newTestContext(http.MethodGet, "/users/me", nil, nil)

	handler.Me(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type authServiceMock struct {
	loginReq     models.LoginRequest
	loginErr     error
	loggedOut    string
	passwordUser string
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.loginReq = req
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.LoginResponse{AccessToken: "access"}, nil
}

func (m *authServiceMock) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	return &models.RefreshTokenResponse{AccessToken: "access"}, nil
}

func (m *authServiceMock) Logout(ctx context.Context, refreshToken string, userID string, meta models.LoginRequest) error {
	m.loggedOut = refreshToken
	return nil
}

func (m *authServiceMock) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	m.passwordUser = userID
	return nil
}

func TestAuthHandlerLogin(t *testing.T) {
	svc := &authServiceMock{}
	handler := NewAuthHandler(svc)
	c, w := newTestContext(http.MethodPost, "/auth/login", []byte(`{"email":"dag@office.test","password":"secret123"}`), nil)
	c.Request.Header.Set("User-Agent", "mailctl/1.0")

	handler.Login(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dag@office.test", svc.loginReq.Email)
	assert.Equal(t, "mailctl/1.0", svc.loginReq.UserAgent)
}

func TestAuthHandlerLoginFailure(t *testing.T) {
	svc := &authServiceMock{loginErr: appErrors.ErrInvalidCredentials}
	handler := NewAuthHandler(svc)
	c, w := newTestContext(http.MethodPost, "/auth/login", []byte(`{"email":"dag@office.test","password":"wrong"}`), nil)

	handler.Login(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerLogoutRequiresClaims(t *testing.T) {
	handler := NewAuthHandler(&authServiceMock{})
	c, w := newTestContext(http.MethodPost, "/auth/logout", []byte(`{"refresh_token":"r"}`), nil)

	handler.Logout(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerLogoutAndChangePassword(t *testing.T) {
	svc := &authServiceMock{}
	handler := NewAuthHandler(svc)

	c, _ := newTestContext(http.MethodPost, "/auth/logout", []byte(`{"refresh_token":"r-1"}`), nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "dag"})
	handler.Logout(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "r-1", svc.loggedOut)

	c, _ = newTestContext(http.MethodPost, "/auth/change-password", []byte(`{"old_password":"old-secret","new_password":"new-secret-1"}`), nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "dag"})
	handler.ChangePassword(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "dag", svc.passwordUser)
}
