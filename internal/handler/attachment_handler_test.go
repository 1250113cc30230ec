package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mailtrack-api/internal/middleware"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	"github.com/noah-isme/mailtrack-api/internal/service"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
)

type attachmentServiceMock struct {
	uploadedName string
	uploadedData []byte
	openErr      error
}

func (m *attachmentServiceMock) Upload(ctx context.Context, actor *policy.Actor, mailID, fileName string, data []byte) (*service.AttachmentInfo, error) {
	m.uploadedName = fileName
	m.uploadedData = data
	return &service.AttachmentInfo{MailID: mailID, FileName: fileName, Size: int64(len(data))}, nil
}

func (m *attachmentServiceMock) Info(ctx context.Context, actor *policy.Actor, mailID string) (*service.AttachmentInfo, error) {
	return &service.AttachmentInfo{MailID: mailID}, nil
}

func (m *attachmentServiceMock) Open(ctx context.Context, token string) (*service.AttachmentDownload, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	body := "%PDF-1.4 body"
	return &service.AttachmentDownload{FileName: "letter.pdf", Size: int64(len(body)), Body: io.NopCloser(strings.NewReader(body))}, nil
}

func multipartContext(t *testing.T, content []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "letter.pdf")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/mails/m-1/attachment", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "m-1"}}
	c.Set(middleware.ContextActorKey, dagActor)
	return c, w
}

func TestAttachmentHandlerUpload(t *testing.T) {
	svc := &attachmentServiceMock{}
	handler := NewAttachmentHandler(svc, 1024)
	c, w := multipartContext(t, []byte("%PDF-1.4 data"))

	handler.Upload(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "letter.pdf", svc.uploadedName)
	assert.Equal(t, []byte("%PDF-1.4 data"), svc.uploadedData)
}

func TestAttachmentHandlerUploadTooLarge(t *testing.T) {
	svc := &attachmentServiceMock{}
	handler := NewAttachmentHandler(svc, 4)
	c, w := multipartContext(t, []byte("%PDF-1.4 data"))

	handler.Upload(c)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Nil(t, svc.uploadedData)
}

func TestAttachmentHandlerUploadMissingFile(t *testing.T) {
	handler := NewAttachmentHandler(&attachmentServiceMock{}, 1024)
	c, w := newTestContext(http.MethodPost, "/mails/m-1/attachment", []byte(`{}`), dagActor)

	handler.Upload(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttachmentHandlerDownload(t *testing.T) {
	handler := NewAttachmentHandler(&attachmentServiceMock{}, 1024)
	c, w := newTestContext(http.MethodGet, "/attachments/download?token=abc", nil, nil)

	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "letter.pdf")
	assert.Equal(t, "%PDF-1.4 body", w.Body.String())
}

func TestAttachmentHandlerDownloadErrors(t *testing.T) {
	handler := NewAttachmentHandler(&attachmentServiceMock{}, 1024)
	c, w := newTestContext(http.MethodGet, "/attachments/download", nil, nil)
	handler.Download(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	expired := NewAttachmentHandler(&attachmentServiceMock{openErr: appErrors.Clone(appErrors.ErrUnauthorized, "download link has expired")}, 1024)
	c, w = newTestContext(http.MethodGet, "/attachments/download?token=old", nil, nil)
	expired.Download(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
