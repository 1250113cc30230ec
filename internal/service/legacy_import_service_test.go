package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/timeline"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
)

func newLegacyImportFixture(t *testing.T) (*LegacyImportService, *workflowFixture) {
	f := newWorkflowFixture(t)
	f.openMail("m-1", "aao1")
	f.db.seedAssignment(models.Assignment{ID: "a-1", MailID: "m-1", AssignedToID: "aao1", AssignedByID: "dag"})
	tx, mock := newTxProviderMock(t)
	f.mock = mock
	return NewLegacyImportService(memAssignments{f.db}, memUsers{f.db}, tx, nil), f
}

func TestLegacyImportResolvesReassignTargets(t *testing.T) {
	svc, f := newLegacyImportFixture(t)
	f.expectCommit()
	at := time.Date(2023, 11, 2, 10, 0, 0, 0, time.UTC)

	report, err := svc.Import(context.Background(), []LegacyAssignmentRemarks{{
		AssignmentID: "a-1",
		Remarks: []LegacyRemarkInput{
			{ID: "legacy-1", Author: "Ann Officer", Content: "Called the treasury", At: at},
			{Author: "ann officer", Content: "Reassigned to Abe Officer: needs audit sign-off", At: at.Add(time.Hour)},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Assignments)
	assert.Equal(t, 2, report.Events)
	assert.Equal(t, 1, report.Reassigns)
	assert.Empty(t, report.UnresolvedNames)
	require.NoError(t, f.mock.ExpectationsWereMet())

	asg, err := memAssignments{f.db}.FindByID(context.Background(), "a-1")
	require.NoError(t, err)
	require.Len(t, asg.Events, 2)
	assert.NotEqual(t, "legacy-1", asg.Events[0].ID, "non-uuid legacy ids are replaced")
	assert.Equal(t, "aao1", asg.Events[0].AuthorID)
	assert.Equal(t, models.EventReassign, asg.Events[1].Kind)
	require.NotNil(t, asg.Events[1].TargetUserID)
	assert.Equal(t, "aao2", *asg.Events[1].TargetUserID)
	assert.Equal(t, "needs audit sign-off", asg.Events[1].Content)

	rows := timeline.Build([]models.Assignment{*asg})
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Rows[0].ReassignedTo)
	assert.Equal(t, "Abe Officer", rows[0].Rows[0].ReassignedTo.Name)
}

func TestLegacyImportKeepsUnknownTargetsAsRemarks(t *testing.T) {
	svc, f := newLegacyImportFixture(t)
	f.db.users["srao-2"] = models.User{ID: "srao-2", FullName: "Sam Senior", Role: models.RoleSrAO, Active: true}
	f.expectCommit()

	report, err := svc.Import(context.Background(), []LegacyAssignmentRemarks{
		{AssignmentID: "a-1", Remarks: []LegacyRemarkInput{
			{Author: "Retired Clerk", Content: "Reassigned to Sam Senior: urgent"},
			{Author: "Ann Officer", Content: "Reassigned to Nobody Known:"},
		}},
		{AssignmentID: "a-missing", Remarks: []LegacyRemarkInput{{Author: "Ann Officer", Content: "lost"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Reassigns)
	assert.Equal(t, []string{"Nobody Known", "Retired Clerk", "Sam Senior"}, report.UnresolvedNames)
	assert.Equal(t, []string{"a-missing"}, report.SkippedMissing)

	asg, err := memAssignments{f.db}.FindByID(context.Background(), "a-1")
	require.NoError(t, err)
	require.Len(t, asg.Events, 2)
	assert.Equal(t, models.EventRemark, asg.Events[0].Kind)
	assert.Equal(t, "Reassigned to Sam Senior: urgent", asg.Events[0].Content, "ambiguous names stay unresolved")
	assert.Equal(t, "aao1", asg.Events[0].AuthorID, "unknown authors fall back to the assignee")
	assert.Nil(t, asg.Events[0].TargetUserID)
	assert.Equal(t, "Reassigned to Nobody Known:", asg.Events[1].Content)
}

func TestLegacyImportSkipsAssignmentsWithEvents(t *testing.T) {
	svc, f := newLegacyImportFixture(t)
	f.expectCommit()
	batch := []LegacyAssignmentRemarks{{AssignmentID: "a-1", Remarks: []LegacyRemarkInput{{Author: "Ann Officer", Content: "first pass"}}}}

	_, err := svc.Import(context.Background(), batch)
	require.NoError(t, err)

	report, err := svc.Import(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Events)
	assert.Equal(t, []string{"a-1"}, report.SkippedExisting)
	assert.NoError(t, f.mock.ExpectationsWereMet())

	_, err = svc.Import(context.Background(), []LegacyAssignmentRemarks{{Remarks: []LegacyRemarkInput{{Content: "orphan"}}}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))
}
