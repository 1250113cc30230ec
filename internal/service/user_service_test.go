package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/pkg/cache"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
)

type mockUserRepo struct {
	users       []models.User
	listErr     error
	activeCalls int
	lastFilter  models.UserFilter
	revoked     []string
	audits      []models.AuditLog
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			copy := u
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	m.users = append(m.users, *user)
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	for i := range m.users {
		if m.users[i].ID == user.ID {
			m.users[i] = *user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	for i := range m.users {
		if m.users[i].ID == id {
			m.users[i].Active = false
		}
	}
	return nil
}

func (m *mockUserRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revoked = append(m.revoked, userID)
	return nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, *log)
	return nil
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	m.lastFilter = filter
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	return m.users, len(m.users), nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			copy := u
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) ListActive(ctx context.Context) ([]models.User, error) {
	m.activeCalls++
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		if u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}

func summaryIDs(list []models.UserSummary) []string {
	ids := make([]string, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	return ids
}

func newUserServiceFixture() (*UserService, *mockUserRepo, *memDB) {
	svc, repo, db, _ := newUserServiceFixtureWithCache()
	return svc, repo, db
}

func newUserServiceFixtureWithCache() (*UserService, *mockUserRepo, *memDB, *memoryCache) {
	users := officeUsers()
	retired := models.User{ID: "retired", FullName: "Rex Retired", Role: models.RoleAAO, SubsectionID: strp("sub-A1"), SectionID: strp("sec-A")}
	repo := &mockUserRepo{users: append(users, retired)}
	db := newMemDB(repo.users...)
	store := newMemoryCache()
	cache := NewCacheService(store, NewMetricsService(), time.Minute, nil, true)
	mails := NewMailService(memMails{db}, memAssignments{db}, memAudits{db}, memUsers{db}, nil, nil, NewMetricsService(), nil, nil)
	return NewUserService(repo, mails, nil, cache, nil), repo, db, store
}

func TestUserServiceCandidatesForDAG(t *testing.T) {
	svc, repo, db := newUserServiceFixture()
	dag := actorFor(db, "dag")

	withSelf, err := svc.Candidates(context.Background(), dag, CandidateQuery{AllowSelf: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dag", "srao", "aao1", "aao2", "user42", "clerk"}, summaryIDs(withSelf))

	withoutSelf, err := svc.Candidates(context.Background(), dag, CandidateQuery{})
	require.NoError(t, err)
	assert.NotContains(t, summaryIDs(withoutSelf), "dag")
	assert.NotContains(t, summaryIDs(withoutSelf), "other")
	assert.NotContains(t, summaryIDs(withoutSelf), "retired")
	assert.Equal(t, 1, repo.activeCalls, "active directory is served from cache")
}

func TestUserServiceCandidatesExcludeActiveAssignees(t *testing.T) {
	svc, _, db := newUserServiceFixture()
	db.seedMail(models.MailRecord{ID: "m-1", SerialNo: "2024/001", Subject: "Budget circular", SectionID: "sec-A",
		Status: models.MailInProgress, CurrentHandlerID: "aao1", CreatedBy: "clerk", IsMultiAssigned: true})
	db.seedAssignment(models.Assignment{ID: "a1", MailID: "m-1", AssignedToID: "aao1", AssignedByID: "dag"})
	db.seedAssignment(models.Assignment{ID: "a2", MailID: "m-1", AssignedToID: "srao", AssignedByID: "dag", Status: models.AssignmentCompleted})

	list, err := svc.Candidates(context.Background(), actorFor(db, "dag"), CandidateQuery{MailID: "m-1"})
	require.NoError(t, err)
	ids := summaryIDs(list)
	assert.NotContains(t, ids, "aao1")
	assert.Contains(t, ids, "srao", "completed assignees can be picked again")
}

func TestUserServiceCandidatesForOfficer(t *testing.T) {
	svc, _, db := newUserServiceFixture()

	list, err := svc.Candidates(context.Background(), actorFor(db, "aao1"), CandidateQuery{AllowSelf: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dag", "srao", "user42", "clerk"}, summaryIDs(list))

	_, err = svc.Candidates(context.Background(), nil, CandidateQuery{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errCode(err))
}

func TestUserServiceActor(t *testing.T) {
	svc, _, _ := newUserServiceFixture()

	actor, err := svc.Actor(context.Background(), "dag")
	require.NoError(t, err)
	assert.Equal(t, models.RoleDAG, actor.Role)
	assert.True(t, actor.Manages("sec-A"))

	_, err = svc.Actor(context.Background(), "retired")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, errCode(err))

	_, err = svc.Actor(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errCode(err))
}

func TestUserServiceMe(t *testing.T) {
	svc, _, _ := newUserServiceFixture()

	info, err := svc.Me(context.Background(), "dag")
	require.NoError(t, err)
	assert.Equal(t, "Dee Dag", info.FullName)
	assert.Equal(t, []string{"sec-A"}, info.ManagedSections)
	assert.Equal(t, "sub-A1", info.SubsectionID)
}

func TestUserServiceList(t *testing.T) {
	svc, repo, _ := newUserServiceFixture()

	bad := models.UserRole("Director")
	_, _, err := svc.List(context.Background(), models.UserFilter{Role: &bad})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	users, page, err := svc.List(context.Background(), models.UserFilter{Search: "  ann ", PageSize: 1000})
	require.NoError(t, err)
	assert.Len(t, users, len(repo.users))
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.PageSize)
	assert.Equal(t, "ann", repo.lastFilter.Search)

	repo.listErr = errors.New("db down")
	_, _, err = svc.List(context.Background(), models.UserFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, errCode(err))
}

func TestUserServiceCandidatesRequireMailVisibility(t *testing.T) {
	svc, _, db := newUserServiceFixture()
	db.seedMail(models.MailRecord{ID: "m-1", SerialNo: "2024/001", Subject: "Budget circular", SectionID: "sec-A",
		Status: models.MailAssigned, AssignedToID: "aao1", CurrentHandlerID: "aao1", CreatedBy: "clerk"})
	db.seedAssignment(models.Assignment{ID: "a1", MailID: "m-1", AssignedToID: "aao1", AssignedByID: "dag"})

	list, err := svc.Candidates(context.Background(), actorFor(db, "other"), CandidateQuery{MailID: "m-1"})
	require.Error(t, err)
	assert.Nil(t, list)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))

	_, err = svc.Candidates(context.Background(), actorFor(db, "dag"), CandidateQuery{MailID: "m-missing"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))
}

func TestUserServiceCreate(t *testing.T) {
	svc, repo, db, store := newUserServiceFixtureWithCache()
	ag := actorFor(db, "ag")
	meta := models.LoginRequest{IP: "10.0.0.1", UserAgent: "mailctl/1.0"}

	_, err := svc.Candidates(context.Background(), ag, CandidateQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, repo.activeCalls)

	user, err := svc.Create(context.Background(), CreateUserRequest{
		Email: " New.DAG@Office.test ", FullName: "Nia New", Role: models.RoleDAG,
		ManagedSections: []string{"sec-B"}, AuditorSubsections: []string{"sub-A1"}, Password: "secret123",
	}, "ag", meta)
	require.NoError(t, err)
	assert.Equal(t, "new.dag@office.test", user.Email)
	assert.True(t, user.Active, "new users default to active")
	assert.Equal(t, []string{"sec-B"}, []string(user.ManagedSections))
	assert.Empty(t, user.AuditorSubsections, "auditor scope is dropped for a DAG")
	assert.NotEqual(t, "secret123", user.PasswordHash)

	assert.Contains(t, store.deleted, cache.Key("users", "active"))
	list, err := svc.Candidates(context.Background(), ag, CandidateQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.activeCalls, "directory is reloaded after a user is created")
	assert.Contains(t, summaryIDs(list), user.ID)

	require.Len(t, repo.audits, 1)
	assert.Equal(t, models.AuditActionUserCreate, repo.audits[0].Action)
	assert.Equal(t, "10.0.0.1", repo.audits[0].IPAddress)

	_, err = svc.Create(context.Background(), CreateUserRequest{
		Email: "new.dag@office.test", FullName: "Dup", Role: models.RoleAAO, SubsectionID: strp("sub-A1"), Password: "secret123",
	}, "ag", meta)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, errCode(err))
}

func TestUserServiceCreateValidatesScope(t *testing.T) {
	svc, _, _ := newUserServiceFixture()

	cases := map[string]CreateUserRequest{
		"unknown role":      {Email: "x@office.test", FullName: "X", Role: "Director", Password: "secret123"},
		"short password":    {Email: "x@office.test", FullName: "X", Role: models.RoleAG, Password: "short"},
		"dag without scope": {Email: "x@office.test", FullName: "X", Role: models.RoleDAG, Password: "secret123"},
		"auditor no scope":  {Email: "x@office.test", FullName: "X", Role: models.RoleAuditor, Password: "secret123"},
		"aao no subsection": {Email: "x@office.test", FullName: "X", Role: models.RoleAAO, SubsectionID: strp("  "), Password: "secret123"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), req, "ag", models.LoginRequest{})
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))
		})
	}
}

func TestUserServiceUpdate(t *testing.T) {
	svc, repo, _, store := newUserServiceFixtureWithCache()

	inactive := false
	user, err := svc.Update(context.Background(), "aao2", UpdateUserRequest{
		FullName: "Abe Auditor", Role: models.RoleAuditor, AuditorSubsections: []string{"sub-A1", "sub-B1"}, Active: &inactive,
	}, "ag", models.LoginRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAuditor, user.Role)
	assert.Equal(t, []string{"sub-A1", "sub-B1"}, []string(user.AuditorSubsections))
	assert.False(t, user.Active)
	assert.Equal(t, []string{"aao2"}, repo.revoked, "deactivation ends open sessions")
	assert.Contains(t, store.deleted, cache.Key("users", "active"))
	require.Len(t, repo.audits, 1)
	assert.Equal(t, models.AuditActionUserUpdate, repo.audits[0].Action)

	_, err = svc.Actor(context.Background(), "aao2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, errCode(err))

	_, err = svc.Update(context.Background(), "ghost", UpdateUserRequest{FullName: "G", Role: models.RoleAG}, "ag", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))

	_, err = svc.Update(context.Background(), "ag", UpdateUserRequest{FullName: "Ada", Role: models.RoleDAG, ManagedSections: []string{"sec-A"}}, "ag", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err), "AG cannot demote itself")
}

func TestUserServiceDelete(t *testing.T) {
	svc, repo, db, store := newUserServiceFixtureWithCache()

	require.NoError(t, svc.Delete(context.Background(), "clerk", "ag", models.LoginRequest{}))
	assert.Equal(t, []string{"clerk"}, repo.revoked)
	assert.Contains(t, store.deleted, cache.Key("users", "active"))

	list, err := svc.Candidates(context.Background(), actorFor(db, "ag"), CandidateQuery{})
	require.NoError(t, err)
	assert.NotContains(t, summaryIDs(list), "clerk")

	err = svc.Delete(context.Background(), "ag", "ag", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	err = svc.Delete(context.Background(), "ghost", "ag", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))
}

func TestUserServiceGet(t *testing.T) {
	svc, _, _ := newUserServiceFixture()

	user, err := svc.Get(context.Background(), "dag")
	require.NoError(t, err)
	assert.Equal(t, "Dee Dag", user.FullName)

	_, err = svc.Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))
}
