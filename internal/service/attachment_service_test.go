package service

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mailtrack-api/internal/models"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
	"github.com/noah-isme/mailtrack-api/pkg/storage"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

type attachmentFixture struct {
	*workflowFixture
	dir     string
	service *AttachmentService
}

func newAttachmentFixture(t *testing.T) *attachmentFixture {
	f := newWorkflowFixture(t)
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	tx, mock := newTxProviderMock(t)
	f.mock = mock
	svc := NewAttachmentService(memMails{f.db}, memAssignments{f.db}, memAudits{f.db}, f.mails, tx, store,
		storage.NewSignedURLSigner("attachment-secret", time.Minute), NewMetricsService(), nil,
		AttachmentConfig{MaxFileSizeBytes: 1024})
	svc.pageCount = func(data []byte) (int, error) {
		if !strings.Contains(string(data), "%%EOF") {
			return 0, errors.New("no trailer")
		}
		return 3, nil
	}
	return &attachmentFixture{workflowFixture: f, dir: dir, service: svc}
}

func tokenFrom(t *testing.T, info *AttachmentInfo) string {
	u, err := url.Parse(info.DownloadURL)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/attachments/download", u.Path)
	return u.Query().Get("token")
}

func countFiles(t *testing.T, dir string) int {
	n := 0
	require.NoError(t, filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return err
	}))
	return n
}

func TestAttachmentServiceRejectsInvalidFiles(t *testing.T) {
	f := newAttachmentFixture(t)
	f.openMail("m-1", "aao1")
	aao1 := actorFor(f.db, "aao1")

	cases := map[string]struct {
		name string
		data []byte
	}{
		"empty":      {"letter.pdf", nil},
		"wrong ext":  {"letter.docx", samplePDF},
		"not a pdf":  {"letter.pdf", []byte("PK\x03\x04 zip archive body")},
		"too large":  {"letter.pdf", append(append([]byte{}, samplePDF...), make([]byte, 2048)...)},
		"unreadable": {"letter.pdf", []byte("%PDF-1.4\ntruncated")},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.Upload(context.Background(), aao1, "m-1", tc.name, tc.data)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrInvalidAttachment.Code, errCode(err))
		})
	}
	assert.Equal(t, 0, countFiles(t, f.dir))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAttachmentServiceUploadAndDownload(t *testing.T) {
	f := newAttachmentFixture(t)
	f.openMail("m-1", "aao1")
	aao1 := actorFor(f.db, "aao1")

	f.expectCommit()
	info, err := f.service.Upload(context.Background(), aao1, "m-1", `C:\scans\reply.pdf`, samplePDF)
	require.NoError(t, err)
	assert.Equal(t, "reply.pdf", info.FileName)
	assert.Equal(t, 3, info.Pages)
	assert.Equal(t, int64(len(samplePDF)), info.Size)
	assert.Equal(t, "aao1", info.UploadedBy)
	assert.Contains(t, f.db.auditActions("m-1"), models.AuditAttachment)

	token := tokenFrom(t, info)
	download, err := f.service.Open(context.Background(), token)
	require.NoError(t, err)
	body, err := io.ReadAll(download.Body)
	require.NoError(t, err)
	require.NoError(t, download.Body.Close())
	assert.Equal(t, samplePDF, body)
	assert.Equal(t, "reply.pdf", download.FileName)

	current, err := f.service.Info(context.Background(), actorFor(f.db, "dag"), "m-1")
	require.NoError(t, err)
	assert.Equal(t, "reply.pdf", current.FileName)

	f.expectCommit()
	_, err = f.service.Upload(context.Background(), aao1, "m-1", "reply-v2.pdf", samplePDF)
	require.NoError(t, err)
	assert.Equal(t, 1, countFiles(t, f.dir), "replaced file is removed")

	_, err = f.service.Open(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))

	_, err = f.service.Open(context.Background(), token+"x")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errCode(err))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAttachmentServiceUploadPermissions(t *testing.T) {
	f := newAttachmentFixture(t)
	f.openMail("m-1", "aao1")
	done := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	f.db.seedMail(models.MailRecord{ID: "m-c", SectionID: "sec-A", Status: models.MailClosed, CurrentHandlerID: "aao1", CreatedBy: "clerk", DateOfCompletion: &done})

	f.expectRollback()
	_, err := f.service.Upload(context.Background(), actorFor(f.db, "other"), "m-1", "x.pdf", samplePDF)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))

	f.expectRollback()
	_, err = f.service.Upload(context.Background(), actorFor(f.db, "aao1"), "m-c", "x.pdf", samplePDF)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMailClosed.Code, errCode(err))

	f.expectCommit()
	_, err = f.service.Upload(context.Background(), actorFor(f.db, "clerk"), "m-1", "x.pdf", samplePDF)
	require.NoError(t, err, "the creator may attach the scan")

	_, err = f.service.Info(context.Background(), actorFor(f.db, "ag"), "m-c")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))
	assert.Equal(t, 1, countFiles(t, f.dir))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAttachmentServiceUploadCleansUpOnFailure(t *testing.T) {
	f := newAttachmentFixture(t)
	f.openMail("m-1", "aao1")
	f.db.updateErr = errors.New("disk full")

	f.expectRollback()
	_, err := f.service.Upload(context.Background(), actorFor(f.db, "aao1"), "m-1", "x.pdf", samplePDF)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, errCode(err))
	assert.Equal(t, 0, countFiles(t, f.dir))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "scan.pdf", sanitizeFileName("../../etc/scan.pdf"))
	assert.Equal(t, "scan.pdf", sanitizeFileName(`C:\Users\me\scan.pdf`))
	assert.Equal(t, "attachment.pdf", sanitizeFileName("  "))
}
