package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
)

func eventKinds(a *models.Assignment) []models.EventKind {
	kinds := make([]models.EventKind, 0, len(a.Events))
	for _, e := range a.Events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func TestAssignmentServiceAddRemark(t *testing.T) {
	f := newWorkflowFixture(t)
	f.openMail("m-a", "aao1")
	f.db.seedAssignment(models.Assignment{ID: "a1", MailID: "m-a", AssignedToID: "aao1", AssignedByID: "dag"})

	f.expectCommit()
	asg, err := f.assignments.AddRemark(context.Background(), actorFor(f.db, "aao1"), "a1", AddRemarkRequest{Content: " Called the sender "})
	require.NoError(t, err)
	require.Len(t, asg.Events, 1)
	assert.Equal(t, models.EventRemark, asg.Events[0].Kind)
	assert.Equal(t, "Called the sender", asg.Events[0].Content)
	assert.Equal(t, "Ann Officer", asg.Events[0].AuthorName)
	assert.Equal(t, []string{"m-a"}, f.scheduler.mails)
	assert.Contains(t, f.db.auditActions("m-a"), models.AuditRemark)

	f.expectRollback()
	_, err = f.assignments.AddRemark(context.Background(), actorFor(f.db, "srao"), "a1", AddRemarkRequest{Content: "mine too"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))
	assert.Contains(t, appErrors.FromError(err).Message, string(policy.ReasonNotAssignee))

	_, err = f.assignments.AddRemark(context.Background(), actorFor(f.db, "aao1"), "a1", AddRemarkRequest{Content: "  "})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	_, err = f.assignments.AddRemark(context.Background(), actorFor(f.db, "aao1"), "missing", AddRemarkRequest{Content: "x"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAssignmentServiceCompleteNeedsARemark(t *testing.T) {
	f := newWorkflowFixture(t)
	f.openMail("m-a", "aao1")
	f.db.seedAssignment(models.Assignment{ID: "a1", MailID: "m-a", AssignedToID: "aao1", AssignedByID: "dag"})
	aao1 := actorFor(f.db, "aao1")

	f.expectRollback()
	_, err := f.assignments.Complete(context.Background(), aao1, "a1", CompleteAssignmentRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	f.expectCommit()
	asg, err := f.assignments.Complete(context.Background(), aao1, "a1", CompleteAssignmentRequest{Remarks: "Reply sent"})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentCompleted, asg.Status)
	require.NotNil(t, asg.CompletedAt)
	assert.Equal(t, []models.EventKind{models.EventRemark, models.EventComplete}, eventKinds(asg))

	f.expectRollback()
	_, err = f.assignments.AddRemark(context.Background(), aao1, "a1", AddRemarkRequest{Content: "late note"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrAssignmentNotActive.Code, appErr.Code)
	assert.Equal(t, http.StatusConflict, appErr.Status)

	f.expectRollback()
	_, err = f.assignments.Reassign(context.Background(), aao1, "a1", ReassignAssignmentRequest{NewAssigneeID: "user42", Remarks: "too late"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAssignmentNotActive.Code, errCode(err))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAssignmentServiceCompleteWithExistingRemark(t *testing.T) {
	f := newWorkflowFixture(t)
	f.openMail("m-a", "aao1")
	f.db.seedAssignment(models.Assignment{ID: "a1", MailID: "m-a", AssignedToID: "aao1", AssignedByID: "dag"}, "Drafted reply")

	f.expectCommit()
	asg, err := f.assignments.Complete(context.Background(), actorFor(f.db, "aao1"), "a1", CompleteAssignmentRequest{})
	require.NoError(t, err)
	assert.Equal(t, []models.EventKind{models.EventRemark, models.EventComplete}, eventKinds(asg))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAssignmentServiceReassignByAssigneeKeepsSupervisor(t *testing.T) {
	f := newWorkflowFixture(t)
	f.openMail("m-a", "aao1")
	f.db.seedAssignment(models.Assignment{ID: "a1", MailID: "m-a", AssignedToID: "aao1", AssignedByID: "dag"}, "Looked at it")

	f.expectCommit()
	successor, err := f.assignments.Reassign(context.Background(), actorFor(f.db, "aao1"), "a1", ReassignAssignmentRequest{NewAssigneeID: "user42", Remarks: "On leave"})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentActive, successor.Status)
	assert.Equal(t, "user42", successor.AssignedToID)
	assert.Equal(t, "dag", successor.AssignedByID)
	require.NotNil(t, successor.PredecessorID)
	assert.Equal(t, "a1", *successor.PredecessorID)

	predecessor := f.db.assignment("a1")
	assert.Equal(t, models.AssignmentCompleted, predecessor.Status)
	require.NotNil(t, predecessor.ReassignedToID)
	assert.Equal(t, "user42", *predecessor.ReassignedToID)
	require.NotNil(t, predecessor.ReassignedAt)
	last := predecessor.Events[len(predecessor.Events)-1]
	assert.Equal(t, models.EventReassign, last.Kind)
	require.NotNil(t, last.TargetUserName)
	assert.Equal(t, "Uma FortyTwo", *last.TargetUserName)

	mail := f.db.mail("m-a")
	assert.Equal(t, "user42", mail.CurrentHandlerID)
	assert.Equal(t, models.MailInProgress, mail.Status)

	tl, err := f.mails.Timeline(context.Background(), actorFor(f.db, "dag"), "m-a")
	require.NoError(t, err)
	require.Len(t, tl.Branches, 1)
	require.Len(t, tl.Branches[0].Rows, 2)
	assert.Equal(t, "a1", tl.Branches[0].Rows[0].AssignmentID)
	assert.Equal(t, successor.ID, tl.Branches[0].Rows[1].AssignmentID)
	assert.True(t, tl.Branches[0].Rows[1].StillWorking)
	require.Len(t, tl.Entries, 2)
	assert.Equal(t, successor.ID, tl.Entries[0].AssignmentID)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAssignmentServiceReassignBySupervisorTakesOver(t *testing.T) {
	f := newWorkflowFixture(t)
	f.openMail("m-a", "aao1")
	f.db.seedAssignment(models.Assignment{ID: "a1", MailID: "m-a", AssignedToID: "aao1", AssignedByID: "ag"})

	f.expectRollback()
	successor, err := f.assignments.Reassign(context.Background(), actorFor(f.db, "dag"), "a1", ReassignAssignmentRequest{NewAssigneeID: "aao2", Remarks: "Balance load"})
	require.Error(t, err, "dag did not make this assignment")
	assert.Nil(t, successor)
	assert.Contains(t, appErrors.FromError(err).Message, string(policy.ReasonNotAssignee))

	f.expectCommit()
	successor, err = f.assignments.Reassign(context.Background(), actorFor(f.db, "ag"), "a1", ReassignAssignmentRequest{NewAssigneeID: "aao2", Remarks: "Balance load"})
	require.NoError(t, err)
	assert.Equal(t, "ag", successor.AssignedByID)
	assert.Equal(t, "aao2", successor.AssignedToID)
	assert.Equal(t, "aao2", f.db.mail("m-a").CurrentHandlerID)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAssignmentServiceReassignRejections(t *testing.T) {
	f := newWorkflowFixture(t)
	f.db.seedMail(models.MailRecord{
		ID: "m-multi", SectionID: "sec-A", Status: models.MailInProgress, AssignedToID: "aao1",
		CurrentHandlerID: "aao1", CreatedBy: "clerk", IsMultiAssigned: true,
	})
	f.db.seedAssignment(models.Assignment{ID: "a1", MailID: "m-multi", AssignedToID: "aao1", AssignedByID: "dag"})
	f.db.seedAssignment(models.Assignment{ID: "a2", MailID: "m-multi", AssignedToID: "srao", AssignedByID: "dag"})
	aao1 := actorFor(f.db, "aao1")

	_, err := f.assignments.Reassign(context.Background(), aao1, "a1", ReassignAssignmentRequest{NewAssigneeID: "user42"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	f.expectRollback()
	_, err = f.assignments.Reassign(context.Background(), aao1, "a1", ReassignAssignmentRequest{NewAssigneeID: "srao", Remarks: "help"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, errCode(err))

	f.expectRollback()
	_, err = f.assignments.Reassign(context.Background(), aao1, "a1", ReassignAssignmentRequest{NewAssigneeID: "other", Remarks: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))

	f.expectRollback()
	_, err = f.assignments.Reassign(context.Background(), aao1, "a1", ReassignAssignmentRequest{NewAssigneeID: "aao1", Remarks: "self"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	assert.Equal(t, models.AssignmentActive, f.db.assignment("a1").Status)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAssignmentServiceRevoke(t *testing.T) {
	f := newWorkflowFixture(t)
	f.db.seedMail(models.MailRecord{
		ID: "m-multi", SectionID: "sec-A", Status: models.MailInProgress, AssignedToID: "aao1",
		CurrentHandlerID: "aao1", CreatedBy: "clerk", IsMultiAssigned: true,
	})
	for _, id := range []string{"aao1", "srao", "user42"} {
		f.db.seedAssignment(models.Assignment{ID: "a-" + id, MailID: "m-multi", AssignedToID: id, AssignedByID: "dag"})
	}
	dag := actorFor(f.db, "dag")

	f.expectRollback()
	_, err := f.assignments.Revoke(context.Background(), actorFor(f.db, "aao1"), "a-srao", RemarksRequest{Remarks: "not needed"})
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Message, string(policy.ReasonNotSupervisor))

	f.expectCommit()
	asg, err := f.assignments.Revoke(context.Background(), dag, "a-srao", RemarksRequest{Remarks: "not needed"})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentRevoked, asg.Status)
	require.NotNil(t, asg.RevokedAt)
	assert.Equal(t, models.EventRevoke, asg.Events[len(asg.Events)-1].Kind)
	assert.True(t, f.db.mail("m-multi").IsMultiAssigned)

	f.expectCommit()
	_, err = f.assignments.Revoke(context.Background(), dag, "a-user42", RemarksRequest{Remarks: "done elsewhere"})
	require.NoError(t, err)
	assert.False(t, f.db.mail("m-multi").IsMultiAssigned)

	f.expectRollback()
	_, err = f.assignments.AddRemark(context.Background(), actorFor(f.db, "srao"), "a-srao", AddRemarkRequest{Content: "still here"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAssignmentNotActive.Code, errCode(err))

	f.expectRollback()
	_, err = f.assignments.Revoke(context.Background(), dag, "a-srao", RemarksRequest{Remarks: "again"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAssignmentNotActive.Code, errCode(err))

	_, err = f.assignments.Revoke(context.Background(), dag, "a-aao1", RemarksRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAssignmentServiceRevokeOnClosedMail(t *testing.T) {
	f := newWorkflowFixture(t)
	done := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	f.db.seedMail(models.MailRecord{
		ID: "m-c", SectionID: "sec-A", Status: models.MailClosed, AssignedToID: "aao1",
		CurrentHandlerID: "aao1", CreatedBy: "clerk", DateOfCompletion: &done,
	})
	f.db.seedAssignment(models.Assignment{ID: "a1", MailID: "m-c", AssignedToID: "aao1", AssignedByID: "dag"})

	f.expectRollback()
	_, err := f.assignments.AddRemark(context.Background(), actorFor(f.db, "aao1"), "a1", AddRemarkRequest{Content: "after close"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMailClosed.Code, errCode(err))

	f.expectCommit()
	asg, err := f.assignments.Revoke(context.Background(), actorFor(f.db, "dag"), "a1", RemarksRequest{Remarks: "tidy up"})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentRevoked, asg.Status)
	assert.Equal(t, models.MailClosed, f.db.mail("m-c").Status)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
