package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
	"github.com/noah-isme/mailtrack-api/pkg/response"
)

type auditService interface {
	ListByMail(ctx context.Context, actor *policy.Actor, mailID string) ([]models.AuditEntry, error)
}

// AuditHandler exposes the per-mail audit trail.
type AuditHandler struct {
	service auditService
}

// NewAuditHandler constructs an audit handler.
func NewAuditHandler(svc auditService) *AuditHandler {
	return &AuditHandler{service: svc}
}

// List godoc
// @Summary Audit trail
// @Description Audit entries for a mail, oldest first
// @Tags Audit
// @Produce json
// @Param mail_id query string true "Mail ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	mailID := c.Query("mail_id")
	if mailID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "mail_id required"))
		return
	}
	entries, err := h.service.ListByMail(c.Request.Context(), actor, mailID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
