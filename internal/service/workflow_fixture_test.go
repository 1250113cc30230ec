package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
)

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb, mock: mock}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

// memDB is an in-memory stand-in for the mail, assignment, audit and user
// tables. Rows are copied in and out so callers never share state with it.
type memDB struct {
	mu          sync.Mutex
	clock       time.Time
	serial      int
	seq         int64
	users       map[string]models.User
	mails       map[string]models.MailRecord
	assignments map[string]models.Assignment
	events      map[string][]models.AssignmentEvent
	audits      []models.AuditEntry
	applied     map[string]string
	updateErr   error
}

func newMemDB(users ...models.User) *memDB {
	db := &memDB{
		clock:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		users:       map[string]models.User{},
		mails:       map[string]models.MailRecord{},
		assignments: map[string]models.Assignment{},
		events:      map[string][]models.AssignmentEvent{},
		applied:     map[string]string{},
	}
	for _, u := range users {
		db.users[u.ID] = u
	}
	return db
}

func (db *memDB) tick() time.Time {
	db.clock = db.clock.Add(time.Minute)
	return db.clock
}

func (db *memDB) name(id string) string { return db.users[id].FullName }

func (db *memDB) decorateMail(m models.MailRecord) *models.MailRecord {
	m.AssignedToName = db.name(m.AssignedToID)
	m.CurrentHandlerName = db.name(m.CurrentHandlerID)
	m.CreatedByName = db.name(m.CreatedBy)
	if h, ok := db.users[m.CurrentHandlerID]; ok {
		m.HandlerSubsectionID = h.SubsectionID
		m.HandlerSectionID = h.SectionID
	}
	m.Assignments = nil
	return &m
}

func (db *memDB) decorateAssignment(a models.Assignment) models.Assignment {
	a.AssignedToName = db.name(a.AssignedToID)
	a.AssignedByName = db.name(a.AssignedByID)
	if a.ReassignedToID != nil {
		n := db.name(*a.ReassignedToID)
		a.ReassignedToName = &n
	}
	a.Events = append([]models.AssignmentEvent{}, db.events[a.ID]...)
	return a
}

// seedMail stores a record directly, bypassing the services.
func (db *memDB) seedMail(m models.MailRecord) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = db.tick()
	}
	if m.LastStatusChange.IsZero() {
		m.LastStatusChange = m.CreatedAt
	}
	db.mails[m.ID] = m
}

func (db *memDB) seedAssignment(a models.Assignment, remarks ...string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = db.tick()
	}
	if a.Status == "" {
		a.Status = models.AssignmentActive
	}
	db.assignments[a.ID] = a
	for _, r := range remarks {
		db.seq++
		db.events[a.ID] = append(db.events[a.ID], models.AssignmentEvent{
			ID: fmt.Sprintf("ev-%d", db.seq), AssignmentID: a.ID, Seq: db.seq, Kind: models.EventRemark,
			Content: r, AuthorID: a.AssignedToID, AuthorName: db.name(a.AssignedToID), CreatedAt: db.tick(),
		})
	}
}

func (db *memDB) mail(id string) models.MailRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.mails[id]
}

func (db *memDB) assignment(id string) models.Assignment {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.decorateAssignment(db.assignments[id])
}

func (db *memDB) auditActions(mailID string) []models.AuditAction {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.AuditAction
	for _, e := range db.audits {
		if e.MailID == mailID {
			out = append(out, e.Action)
		}
	}
	return out
}

type memMails struct{ *memDB }

func (s memMails) NextSerial(ctx context.Context, exec sqlx.ExtContext, year int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serial++
	return fmt.Sprintf("%d/%03d", year, s.serial), nil
}

func (s memMails) Create(ctx context.Context, exec sqlx.ExtContext, mail *models.MailRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mail.ID == "" {
		mail.ID = fmt.Sprintf("mail-%d", len(s.mails)+1)
	}
	stored := *mail
	stored.Assignments = nil
	s.mails[mail.ID] = stored
	return nil
}

func (s memMails) FindByID(ctx context.Context, id string) (*models.MailRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mails[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s.decorateMail(m), nil
}

func (s memMails) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.MailRecord, error) {
	return s.FindByID(ctx, id)
}

func (s memMails) Update(ctx context.Context, exec sqlx.ExtContext, mail *models.MailRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.mails[mail.ID]; !ok {
		return sql.ErrNoRows
	}
	stored := *mail
	stored.Assignments = nil
	s.mails[mail.ID] = stored
	return nil
}

func (s memMails) Touched(ctx context.Context, mailID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.audits {
		if e.MailID == mailID && e.PerformedBy == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s memMails) List(ctx context.Context, actor *policy.Actor, filter models.MailFilter) ([]models.MailRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MailRecord, 0)
	for _, m := range s.mails {
		if filter.Status != nil && m.Status != *filter.Status {
			continue
		}
		if policy.View(actor, s.decorateMail(m), false).Allowed {
			out = append(out, *s.decorateMail(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

func (s memMails) ListForExport(ctx context.Context, actor *policy.Actor, filter models.MailFilter, limit int) ([]models.MailRecord, error) {
	mails, _, err := s.List(ctx, actor, filter)
	if len(mails) > limit {
		mails = mails[:limit]
	}
	return mails, err
}

func (s memMails) ApplyConsolidation(ctx context.Context, id, consolidated string, status models.MailStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mails[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.applied[id] = consolidated
	if consolidated == "" {
		m.ConsolidatedRemarks = nil
	} else {
		m.ConsolidatedRemarks = &consolidated
	}
	if m.Status != models.MailClosed && status != models.MailClosed {
		m.Status = status
	}
	s.mails[id] = m
	return nil
}

type memAssignments struct{ *memDB }

func (s memAssignments) sorted(filter func(models.Assignment) bool) []models.Assignment {
	out := make([]models.Assignment, 0)
	for _, a := range s.assignments {
		if filter(a) {
			out = append(out, s.decorateAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s memAssignments) ListByMail(ctx context.Context, mailID string) ([]models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(a models.Assignment) bool { return a.MailID == mailID }), nil
}

func (s memAssignments) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := s.decorateAssignment(a)
	return &out, nil
}

func (s memAssignments) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Assignment, error) {
	return s.FindByID(ctx, id)
}

func (s memAssignments) ListActiveByMail(ctx context.Context, exec sqlx.ExtContext, mailID string) ([]models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(a models.Assignment) bool {
		return a.MailID == mailID && a.Status == models.AssignmentActive
	}), nil
}

func (s memAssignments) ListActiveByMails(ctx context.Context, mailIDs []string) ([]models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]bool, len(mailIDs))
	for _, id := range mailIDs {
		wanted[id] = true
	}
	out := s.sorted(func(a models.Assignment) bool {
		return wanted[a.MailID] && a.Status == models.AssignmentActive
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s memAssignments) Create(ctx context.Context, exec sqlx.ExtContext, asg *models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.MailID == asg.MailID && a.AssignedToID == asg.AssignedToID && a.Status == models.AssignmentActive {
			return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	if asg.ID == "" {
		asg.ID = fmt.Sprintf("asg-%d", len(s.assignments)+1)
	}
	if asg.Status == "" {
		asg.Status = models.AssignmentActive
	}
	asg.CreatedAt = s.tick()
	stored := *asg
	stored.Events = nil
	s.assignments[asg.ID] = stored
	return nil
}

func (s memAssignments) UpdateState(ctx context.Context, exec sqlx.ExtContext, asg *models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.assignments[asg.ID]
	if !ok || current.Status != models.AssignmentActive {
		return sql.ErrNoRows
	}
	current.Status = asg.Status
	current.ReassignedToID = asg.ReassignedToID
	current.ReassignedAt = asg.ReassignedAt
	current.CompletedAt = asg.CompletedAt
	current.RevokedAt = asg.RevokedAt
	s.assignments[asg.ID] = current
	return nil
}

func (s memAssignments) AddEvent(ctx context.Context, exec sqlx.ExtContext, ev *models.AssignmentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ev.Seq = s.seq
	if ev.ID == "" {
		ev.ID = fmt.Sprintf("ev-%d", s.seq)
	}
	stored := *ev
	stored.AuthorName = s.name(ev.AuthorID)
	if ev.TargetUserID != nil {
		n := s.name(*ev.TargetUserID)
		stored.TargetUserName = &n
	}
	s.events[ev.AssignmentID] = append(s.events[ev.AssignmentID], stored)
	return nil
}

func (s memAssignments) HasActive(ctx context.Context, exec sqlx.ExtContext, mailID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.MailID == mailID && a.AssignedToID == userID && a.Status == models.AssignmentActive {
			return true, nil
		}
	}
	return false, nil
}

type memAudits struct{ *memDB }

func (s memAudits) Create(ctx context.Context, exec sqlx.ExtContext, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("audit-%d", len(s.audits)+1)
	}
	entry.PerformedByName = s.name(entry.PerformedBy)
	s.audits = append(s.audits, *entry)
	return nil
}

func (s memAudits) ListByMail(ctx context.Context, mailID string) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditEntry, 0)
	for _, e := range s.audits {
		if e.MailID == mailID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memUsers struct{ *memDB }

func (s memUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (s memUsers) ListByNames(ctx context.Context, names []string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, n := range names {
		want[strings.ToLower(strings.TrimSpace(n))] = true
	}
	out := make([]models.User, 0)
	for _, u := range s.users {
		if want[strings.ToLower(u.FullName)] {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memUsers) FindSectionDAG(ctx context.Context, sectionID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		u := s.users[id]
		if u.Role == models.RoleDAG && u.Active {
			for _, sec := range u.ManagedSections {
				if sec == sectionID {
					return &u, nil
				}
			}
		}
	}
	return nil, sql.ErrNoRows
}

type recordingScheduler struct {
	mu    sync.Mutex
	mails []string
}

func (r *recordingScheduler) Schedule(mailID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mails = append(r.mails, mailID)
}

func strp(s string) *string { return &s }

// officeUsers is a small office: one AG, a DAG managing sec-A, officers in
// two subsections of sec-A and one officer in sec-B.
func officeUsers() []models.User {
	user := func(id, name string, role models.UserRole, sub, sec string) models.User {
		u := models.User{ID: id, FullName: name, Role: role, Active: true, Email: id + "@office.test"}
		if sub != "" {
			u.SubsectionID = strp(sub)
			u.SectionID = strp(sec)
		}
		return u
	}
	dag := user("dag", "Dee Dag", models.RoleDAG, "sub-A1", "sec-A")
	dag.ManagedSections = pq.StringArray{"sec-A"}
	return []models.User{
		user("ag", "Ada General", models.RoleAG, "", ""),
		dag,
		user("srao", "Sam Senior", models.RoleSrAO, "sub-A1", "sec-A"),
		user("aao1", "Ann Officer", models.RoleAAO, "sub-A1", "sec-A"),
		user("aao2", "Abe Officer", models.RoleAAO, "sub-A2", "sec-A"),
		user("user42", "Uma FortyTwo", models.RoleAAO, "sub-A1", "sec-A"),
		user("clerk", "Cal Clerk", models.RoleClerk, "sub-A1", "sec-A"),
		user("other", "Oli Outsider", models.RoleAAO, "sub-B1", "sec-B"),
	}
}

func actorFor(db *memDB, id string) *policy.Actor {
	u := db.users[id]
	return policy.ActorFromUser(&u)
}

type workflowFixture struct {
	db          *memDB
	mock        sqlmock.Sqlmock
	scheduler   *recordingScheduler
	mails       *MailService
	assignments *AssignmentService
	audit       *AuditService
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	db := newMemDB(officeUsers()...)
	tx, mock := newTxProviderMock(t)
	scheduler := &recordingScheduler{}
	metrics := NewMetricsService()
	mailSvc := NewMailService(memMails{db}, memAssignments{db}, memAudits{db}, memUsers{db}, tx, scheduler, metrics, nil, nil)
	mailSvc.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	asgSvc := NewAssignmentService(memMails{db}, memAssignments{db}, memAudits{db}, memUsers{db}, tx, scheduler, metrics, nil, nil)
	asgSvc.now = mailSvc.now
	return &workflowFixture{
		db:          db,
		mock:        mock,
		scheduler:   scheduler,
		mails:       mailSvc,
		assignments: asgSvc,
		audit:       NewAuditService(memAudits{db}, mailSvc),
	}
}

func (f *workflowFixture) expectCommit() {
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
}

func (f *workflowFixture) expectRollback() {
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
}

// openMail seeds an Assigned single-handler mail in sec-A handled by handler.
func (f *workflowFixture) openMail(id, handler string) {
	f.db.seedMail(models.MailRecord{
		ID: id, SerialNo: "2024/001", Subject: "Budget circular", SectionID: "sec-A",
		Status: models.MailAssigned, AssignedToID: handler, CurrentHandlerID: handler, CreatedBy: "clerk",
		DueDate: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
	})
}
