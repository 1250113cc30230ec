//go:build integration

package service

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	"github.com/noah-isme/mailtrack-api/internal/repository"
	"github.com/noah-isme/mailtrack-api/migrations"
	"github.com/noah-isme/mailtrack-api/pkg/config"
	"github.com/noah-isme/mailtrack-api/pkg/database"
)

const (
	itSection    = "10000000-0000-0000-0000-000000000001"
	itSubsection = "20000000-0000-0000-0000-000000000001"
	itAG         = "30000000-0000-0000-0000-000000000001"
	itDAG        = "30000000-0000-0000-0000-000000000002"
	itSrAO       = "30000000-0000-0000-0000-000000000003"
	itAAO1       = "30000000-0000-0000-0000-000000000004"
	itAAO2       = "30000000-0000-0000-0000-000000000005"
)

func startPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("mailtrack"),
		postgres.WithUsername("mailtrack"),
		postgres.WithPassword("mailtrack"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(dsn, migrations.FS, "."))

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	seed := []string{
		`INSERT INTO sections (id, name) VALUES ('` + itSection + `', 'Accounts')`,
		`INSERT INTO subsections (id, section_id, name) VALUES ('` + itSubsection + `', '` + itSection + `', 'Accounts I')`,
		`INSERT INTO users (id, email, password_hash, full_name, role, subsection_id) VALUES
			('` + itAG + `', 'ag@office.test', 'x', 'Ada General', 'AG', NULL),
			('` + itDAG + `', 'dag@office.test', 'x', 'Dee Dag', 'DAG', '` + itSubsection + `'),
			('` + itSrAO + `', 'srao@office.test', 'x', 'Sam Senior', 'SrAO', '` + itSubsection + `'),
			('` + itAAO1 + `', 'aao1@office.test', 'x', 'Ann Officer', 'AAO', '` + itSubsection + `'),
			('` + itAAO2 + `', 'aao2@office.test', 'x', 'Abe Officer', 'AAO', '` + itSubsection + `')`,
		`INSERT INTO dag_sections (user_id, section_id) VALUES ('` + itDAG + `', '` + itSection + `')`,
	}
	for _, stmt := range seed {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	return db
}

func TestWorkflowAgainstPostgres(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	users := repository.NewUserRepository(db)
	mails := repository.NewMailRepository(db)
	assignments := repository.NewAssignmentRepository(db)
	audits := repository.NewAuditRepository(db)
	metrics := NewMetricsService()
	worker := NewConsolidationWorker(mails, assignments, metrics, nil, config.WorkersConfig{})

	mailSvc := NewMailService(mails, assignments, audits, users, db, worker, metrics, nil, nil)
	asgSvc := NewAssignmentService(mails, assignments, audits, users, db, worker, metrics, nil, nil)
	auditSvc := NewAuditService(audits, mailSvc)

	actor := func(id string) *policy.Actor {
		u, err := users.FindByID(ctx, id)
		require.NoError(t, err)
		return policy.ActorFromUser(u)
	}
	ag, aao1, aao2 := actor(itAG), actor(itAAO1), actor(itAAO2)

	today := time.Now().UTC().Format(dateLayout)
	mail, err := mailSvc.Create(ctx, ag, CreateMailRequest{
		LetterNo: "AC/17", Subject: "Quarterly accounts", FromOffice: "Treasury",
		DateReceived: today, DueDate: today, ActionRequired: models.ActionReview,
		SectionID: itSection, AssignedTo: itAAO1,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MailAssigned, mail.Status)
	require.NotNil(t, mail.MonitoringOfficerID)
	assert.Equal(t, itDAG, *mail.MonitoringOfficerID)
	assert.Regexp(t, `^\d{4}/001$`, mail.SerialNo)

	mail, err = mailSvc.MultiAssign(ctx, ag, mail.ID, MultiAssignRequest{UserIDs: []string{itAAO1, itAAO2}, Remarks: "Split the review"})
	require.NoError(t, err)
	assert.True(t, mail.IsMultiAssigned)

	dup := &models.Assignment{MailID: mail.ID, AssignedToID: itAAO1, AssignedByID: itAG}
	err = assignments.Create(ctx, nil, dup)
	require.Error(t, err)
	assert.True(t, repository.IsUniqueViolation(err), "one Active assignment per user and mail")

	list, err := mailSvc.Assignments(ctx, ag, mail.ID)
	require.NoError(t, err)
	byAssignee := map[string]models.Assignment{}
	for _, a := range list {
		byAssignee[a.AssignedToID] = a
	}
	require.Len(t, byAssignee, 2)

	_, err = asgSvc.AddRemark(ctx, aao1, byAssignee[itAAO1].ID, AddRemarkRequest{Content: "Figures reconciled"})
	require.NoError(t, err)
	done, err := asgSvc.Complete(ctx, aao1, byAssignee[itAAO1].ID, CompleteAssignmentRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentCompleted, done.Status)

	_, err = asgSvc.AddRemark(ctx, aao1, byAssignee[itAAO1].ID, AddRemarkRequest{Content: "late note"})
	require.Error(t, err)
	assert.Equal(t, "ASSIGNMENT_NOT_ACTIVE", errCode(err))

	next, err := asgSvc.Reassign(ctx, aao2, byAssignee[itAAO2].ID, ReassignAssignmentRequest{NewAssigneeID: itSrAO, Remarks: "On leave"})
	require.NoError(t, err)
	require.NotNil(t, next.PredecessorID)
	assert.Equal(t, byAssignee[itAAO2].ID, *next.PredecessorID)
	assert.Equal(t, models.AssignmentActive, next.Status)

	closed, err := mailSvc.Close(ctx, ag, mail.ID, RemarksRequest{Remarks: "Filed"})
	require.NoError(t, err)
	assert.Equal(t, models.MailClosed, closed.Status)
	assert.NotNil(t, closed.DateOfCompletion)

	still, err := assignments.FindByID(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentActive, still.Status, "closing leaves assignments alone")

	require.NoError(t, worker.Refresh(ctx, mail.ID))
	reloaded, err := mails.FindByID(ctx, mail.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MailClosed, reloaded.Status)
	require.NotNil(t, reloaded.ConsolidatedRemarks)
	assert.Contains(t, *reloaded.ConsolidatedRemarks, "[DONE] Ann Officer: Figures reconciled")

	trail, err := auditSvc.ListByMail(ctx, ag, mail.ID)
	require.NoError(t, err)
	require.NotEmpty(t, trail)
	assert.Equal(t, models.AuditCreate, trail[0].Action)
	assert.Equal(t, models.AuditClose, trail[len(trail)-1].Action)
}
