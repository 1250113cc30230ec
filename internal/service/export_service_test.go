package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mailtrack-api/internal/models"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
)

func newExportFixture(t *testing.T, cfg ExportConfig) (*ExportService, *memDB) {
	db := newMemDB(officeUsers()...)
	svc := NewExportService(memMails{db}, memAssignments{db}, cfg, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 10, 12, 30, 0, 0, time.UTC) }
	return svc, db
}

func TestExportServiceRegisterCSV(t *testing.T) {
	svc, db := newExportFixture(t, ExportConfig{Enabled: true})
	completed := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	db.seedMail(models.MailRecord{
		ID: "m-1", SerialNo: "2024/001", LetterNo: "FIN/1", Subject: "Budget, revised", FromOffice: "Finance",
		DateReceived: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), DueDate: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		ActionRequired: models.ActionOther, ActionRequiredOther: strp("Forward to ministry"),
		SectionID: "sec-A", SectionName: "Accounts", Status: models.MailInProgress, CurrentHandlerID: "aao1", CreatedBy: "clerk",
	})
	db.seedMail(models.MailRecord{
		ID: "m-2", SerialNo: "2024/002", LetterNo: "HR/9", Subject: "Leave", FromOffice: "HR",
		DateReceived: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), DueDate: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		ActionRequired: models.ActionFile, SectionID: "sec-A", Status: models.MailClosed, CurrentHandlerID: "aao1",
		CreatedBy: "clerk", DateOfCompletion: &completed,
	})
	db.seedMail(models.MailRecord{ID: "m-3", SerialNo: "2024/003", SectionID: "sec-B", Status: models.MailAssigned, CurrentHandlerID: "other", CreatedBy: "other"})

	result, err := svc.Register(context.Background(), actorFor(db, "aao1"), models.MailFilter{}, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "mail-register-20240310-1230.csv", result.FileName)
	assert.Equal(t, "text/csv; charset=utf-8", result.ContentType)
	assert.Equal(t, 2, result.Rows)

	records, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(result.Data, []byte("\ufeff")))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, registerHeaders, records[0])
	totals := records[3]
	assert.Equal(t, "Total", totals[0])
	assert.Equal(t, "2 records", totals[2])
	assert.Equal(t, "1 closed", totals[9])
	assert.Equal(t, "1 overdue", totals[10])

	bySerial := map[string][]string{}
	for _, r := range records[1:3] {
		bySerial[r[0]] = r
	}
	open := bySerial["2024/001"]
	assert.Equal(t, "Budget, revised", open[2])
	assert.Equal(t, "Forward to ministry", open[6])
	assert.Equal(t, "Ann Officer", open[8])
	assert.Equal(t, "Yes", open[10])
	assert.Empty(t, open[12])

	closed := bySerial["2024/002"]
	assert.Equal(t, "Closed", closed[9])
	assert.Equal(t, "No", closed[10])
	assert.Equal(t, "2024-03-08", closed[12])
}

func TestExportServiceRegisterListsEveryHandler(t *testing.T) {
	svc, db := newExportFixture(t, ExportConfig{Enabled: true})
	db.seedMail(models.MailRecord{ID: "m-x", SerialNo: "2024/010", SectionID: "sec-A", Status: models.MailAssigned, CurrentHandlerID: "srao", CreatedBy: "clerk", IsMultiAssigned: true})
	db.seedAssignment(models.Assignment{ID: "a-1", MailID: "m-x", AssignedToID: "aao1", AssignedByID: "dag"})
	db.seedAssignment(models.Assignment{ID: "a-2", MailID: "m-x", AssignedToID: "aao2", AssignedByID: "dag"})

	result, err := svc.Register(context.Background(), actorFor(db, "ag"), models.MailFilter{}, ExportCSV)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(result.Data, []byte("\ufeff")))).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "Ann Officer, Abe Officer", records[1][8])
}

func TestExportServiceRegisterPDF(t *testing.T) {
	svc, db := newExportFixture(t, ExportConfig{Enabled: true, MaxRows: 1})
	db.seedMail(models.MailRecord{ID: "m-1", SerialNo: "2024/001", Subject: "One", Status: models.MailAssigned, CurrentHandlerID: "aao1"})
	db.seedMail(models.MailRecord{ID: "m-2", SerialNo: "2024/002", Subject: "Two", Status: models.MailAssigned, CurrentHandlerID: "aao1"})

	result, err := svc.Register(context.Background(), actorFor(db, "ag"), models.MailFilter{}, ExportPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, strings.HasSuffix(result.FileName, ".pdf"))
	assert.Equal(t, 1, result.Rows)
	assert.True(t, bytes.HasPrefix(result.Data, []byte("%PDF")))
}

func TestExportServiceRegisterRejections(t *testing.T) {
	svc, db := newExportFixture(t, ExportConfig{})
	_, err := svc.Register(context.Background(), actorFor(db, "ag"), models.MailFilter{}, ExportCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))

	svc.cfg.Enabled = true
	_, err = svc.Register(context.Background(), actorFor(db, "ag"), models.MailFilter{}, "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	_, err = svc.Register(context.Background(), nil, models.MailFilter{}, ExportCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errCode(err))
}
