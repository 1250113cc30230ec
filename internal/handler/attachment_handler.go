package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mailtrack-api/internal/policy"
	"github.com/noah-isme/mailtrack-api/internal/service"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
	"github.com/noah-isme/mailtrack-api/pkg/response"
)

type attachmentService interface {
	Upload(ctx context.Context, actor *policy.Actor, mailID, fileName string, data []byte) (*service.AttachmentInfo, error)
	Info(ctx context.Context, actor *policy.Actor, mailID string) (*service.AttachmentInfo, error)
	Open(ctx context.Context, token string) (*service.AttachmentDownload, error)
}

// AttachmentHandler handles the PDF attached to a mail.
type AttachmentHandler struct {
	service  attachmentService
	maxBytes int64
}

// NewAttachmentHandler constructs the handler; maxBytes caps the multipart read.
func NewAttachmentHandler(svc attachmentService, maxBytes int64) *AttachmentHandler {
	return &AttachmentHandler{service: svc, maxBytes: maxBytes}
}

// Upload godoc
// @Summary Upload attachment
// @Description Attach or replace the mail's PDF
// @Tags Attachments
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Mail ID"
// @Param file formData file true "PDF file"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /mails/{id}/attachment [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	if h.maxBytes > 0 && header.Size > h.maxBytes {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidAttachment, fmt.Sprintf("file exceeds %d bytes", h.maxBytes)))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read upload"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read upload"))
		return
	}

	info, err := h.service.Upload(c.Request.Context(), actor, c.Param("id"), header.Filename, data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, info)
}

// Info godoc
// @Summary Attachment info
// @Description Metadata and a short-lived signed download link
// @Tags Attachments
// @Produce json
// @Param id path string true "Mail ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /mails/{id}/attachment [get]
func (h *AttachmentHandler) Info(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	info, err := h.service.Info(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info, nil)
}

// Download godoc
// @Summary Download attachment
// @Description Streams the PDF named by a signed token
// @Tags Attachments
// @Produce application/pdf
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attachments/download [get]
func (h *AttachmentHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token required"))
		return
	}
	download, err := h.service.Open(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.Body.Close()

	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, download.Size, "application/pdf", download.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", download.FileName),
	})
}
