package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mailtrack-api/internal/middleware"
	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	"github.com/noah-isme/mailtrack-api/internal/service"
	"github.com/noah-isme/mailtrack-api/pkg/response"
)

type mailService interface {
	List(ctx context.Context, actor *policy.Actor, filter models.MailFilter) ([]models.MailRecord, *models.Pagination, error)
	Get(ctx context.Context, actor *policy.Actor, id string) (*models.MailRecord, error)
	Create(ctx context.Context, actor *policy.Actor, req service.CreateMailRequest) (*models.MailRecord, error)
	UpdateRemarks(ctx context.Context, actor *policy.Actor, mailID string, req service.UpdateRemarksRequest) (*models.MailRecord, error)
	Reassign(ctx context.Context, actor *policy.Actor, mailID string, req service.MailReassignRequest) (*models.MailRecord, error)
	Close(ctx context.Context, actor *policy.Actor, mailID string, req service.RemarksRequest) (*models.MailRecord, error)
	Reopen(ctx context.Context, actor *policy.Actor, mailID string, req service.RemarksRequest) (*models.MailRecord, error)
	UpdateCurrentAction(ctx context.Context, actor *policy.Actor, mailID string, req service.CurrentActionRequest) (*models.MailRecord, error)
	MultiAssign(ctx context.Context, actor *policy.Actor, mailID string, req service.MultiAssignRequest) (*models.MailRecord, error)
	Assignments(ctx context.Context, actor *policy.Actor, mailID string) ([]models.Assignment, error)
	Timeline(ctx context.Context, actor *policy.Actor, mailID string) (*service.MailTimeline, error)
	Permissions(ctx context.Context, actor *policy.Actor, mailID string) (*service.MailPermissionSet, error)
}

type registerExporter interface {
	Register(ctx context.Context, actor *policy.Actor, filter models.MailFilter, format service.ExportFormat) (*service.ExportResult, error)
}

// MailHandler exposes mail register and lifecycle endpoints.
type MailHandler struct {
	mails   mailService
	exports registerExporter
}

// NewMailHandler constructs a mail handler.
func NewMailHandler(mails mailService, exports registerExporter) *MailHandler {
	return &MailHandler{mails: mails, exports: exports}
}

func mailFilterFromQuery(c *gin.Context) models.MailFilter {
	filter := models.MailFilter{
		SectionID: c.Query("section_id"),
		Scope:     models.MailScope(c.Query("scope")),
		Search:    c.Query("search"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 20),
	}
	if status := c.Query("status"); status != "" {
		s := models.MailStatus(status)
		filter.Status = &s
	}
	filter.Overdue, _ = strconv.ParseBool(c.Query("overdue"))
	return filter
}

// List godoc
// @Summary List mail
// @Description Mail visible to the caller, newest first
// @Tags Mail
// @Produce json
// @Param status query string false "Status filter"
// @Param section_id query string false "Section filter"
// @Param overdue query bool false "Only overdue mail"
// @Param scope query string false "assigned | created_by_me | closed"
// @Param search query string false "Letter number or subject"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /mails [get]
func (h *MailHandler) List(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	filter := mailFilterFromQuery(c)
	if filter.Scope != models.ScopeAll {
		middleware.SetMeta(c, "scope", filter.Scope)
	}
	mails, pagination, err := h.mails.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mails, pagination, middleware.ResponseMeta(c))
}

// Create godoc
// @Summary Register mail
// @Description Create a mail record and hand it to its first handler
// @Tags Mail
// @Accept json
// @Produce json
// @Param payload body service.CreateMailRequest true "Mail payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /mails [post]
func (h *MailHandler) Create(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req service.CreateMailRequest
	if !bindJSON(c, &req, "invalid mail payload") {
		return
	}
	mail, err := h.mails.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, mail)
}

// Get godoc
// @Summary Mail detail
// @Tags Mail
// @Produce json
// @Param id path string true "Mail ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /mails/{id} [get]
func (h *MailHandler) Get(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	mail, err := h.mails.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mail, nil)
}

// UpdateRemarks godoc
// @Summary Edit remarks
// @Description Only the current handler may edit the mail remarks
// @Tags Mail
// @Accept json
// @Produce json
// @Param id path string true "Mail ID"
// @Param payload body service.UpdateRemarksRequest true "Remarks"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /mails/{id} [patch]
func (h *MailHandler) UpdateRemarks(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req service.UpdateRemarksRequest
	if !bindJSON(c, &req, "invalid remarks payload") {
		return
	}
	mail, err := h.mails.UpdateRemarks(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mail, nil)
}

// Reassign godoc
// @Summary Reassign mail
// @Description Move a single-handler mail to another user
// @Tags Mail
// @Accept json
// @Produce json
// @Param id path string true "Mail ID"
// @Param payload body service.MailReassignRequest true "Reassignment"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /mails/{id}/reassign [post]
func (h *MailHandler) Reassign(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req service.MailReassignRequest
	if !bindJSON(c, &req, "invalid reassignment payload") {
		return
	}
	mail, err := h.mails.Reassign(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mail, nil)
}

// Close godoc
// @Summary Close mail
// @Tags Mail
// @Accept json
// @Produce json
// @Param id path string true "Mail ID"
// @Param payload body service.RemarksRequest false "Closing remarks"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /mails/{id}/close [post]
func (h *MailHandler) Close(c *gin.Context) {
	h.statusChange(c, h.mails.Close)
}

// Reopen godoc
// @Summary Reopen mail
// @Description Only AG may reopen a closed mail
// @Tags Mail
// @Accept json
// @Produce json
// @Param id path string true "Mail ID"
// @Param payload body service.RemarksRequest false "Reopen remarks"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /mails/{id}/reopen [post]
func (h *MailHandler) Reopen(c *gin.Context) {
	h.statusChange(c, h.mails.Reopen)
}

type statusChangeFn func(ctx context.Context, actor *policy.Actor, mailID string, req service.RemarksRequest) (*models.MailRecord, error)

func (h *MailHandler) statusChange(c *gin.Context, fn statusChangeFn) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req service.RemarksRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid remarks payload") {
		return
	}
	mail, err := fn(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mail, nil)
}

// UpdateCurrentAction godoc
// @Summary Update current action
// @Description Record what the handler is doing right now
// @Tags Mail
// @Accept json
// @Produce json
// @Param id path string true "Mail ID"
// @Param payload body service.CurrentActionRequest true "Current action"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /mails/{id}/current-action [put]
func (h *MailHandler) UpdateCurrentAction(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req service.CurrentActionRequest
	if !bindJSON(c, &req, "invalid current action payload") {
		return
	}
	mail, err := h.mails.UpdateCurrentAction(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mail, nil)
}

// MultiAssign godoc
// @Summary Assign to several users
// @Description Supervisors fan a mail out to parallel assignees
// @Tags Mail
// @Accept json
// @Produce json
// @Param id path string true "Mail ID"
// @Param payload body service.MultiAssignRequest true "Assignees"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /mails/{id}/multi-assign [post]
func (h *MailHandler) MultiAssign(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req service.MultiAssignRequest
	if !bindJSON(c, &req, "invalid assignment payload") {
		return
	}
	mail, err := h.mails.MultiAssign(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mail, nil)
}

// Assignments godoc
// @Summary Mail assignments
// @Tags Mail
// @Produce json
// @Param id path string true "Mail ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /mails/{id}/assignments [get]
func (h *MailHandler) Assignments(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	list, err := h.mails.Assignments(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}

// Timeline godoc
// @Summary Mail timeline
// @Description Assignment branches and the merged activity feed
// @Tags Mail
// @Produce json
// @Param id path string true "Mail ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /mails/{id}/timeline [get]
func (h *MailHandler) Timeline(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	timeline, err := h.mails.Timeline(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, timeline, nil)
}

// Permissions godoc
// @Summary Caller permissions
// @Description Every action the caller may take on the mail and its assignments
// @Tags Mail
// @Produce json
// @Param id path string true "Mail ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /mails/{id}/permissions [get]
func (h *MailHandler) Permissions(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	set, err := h.mails.Permissions(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, set, nil)
}

// Export godoc
// @Summary Export mail register
// @Description Download the visible register as CSV or PDF
// @Tags Mail
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv | pdf"
// @Param status query string false "Status filter"
// @Param section_id query string false "Section filter"
// @Param overdue query bool false "Only overdue mail"
// @Param scope query string false "assigned | created_by_me | closed"
// @Param search query string false "Letter number or subject"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /mails/export [get]
func (h *MailHandler) Export(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	format := service.ExportFormat(c.DefaultQuery("format", string(service.ExportCSV)))
	result, err := h.exports.Register(c.Request.Context(), actor, mailFilterFromQuery(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("X-Export-Rows", strconv.Itoa(result.Rows))
	response.Attachment(c, result.FileName, result.ContentType, result.Data)
}
