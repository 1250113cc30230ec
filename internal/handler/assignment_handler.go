package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	"github.com/noah-isme/mailtrack-api/internal/service"
	"github.com/noah-isme/mailtrack-api/pkg/response"
)

type assignmentService interface {
	AddRemark(ctx context.Context, actor *policy.Actor, assignmentID string, req service.AddRemarkRequest) (*models.Assignment, error)
	Complete(ctx context.Context, actor *policy.Actor, assignmentID string, req service.CompleteAssignmentRequest) (*models.Assignment, error)
	Reassign(ctx context.Context, actor *policy.Actor, assignmentID string, req service.ReassignAssignmentRequest) (*models.Assignment, error)
	Revoke(ctx context.Context, actor *policy.Actor, assignmentID string, req service.RemarksRequest) (*models.Assignment, error)
}

// AssignmentHandler exposes per-assignee work endpoints.
type AssignmentHandler struct {
	service assignmentService
}

// NewAssignmentHandler constructs an assignment handler.
func NewAssignmentHandler(svc assignmentService) *AssignmentHandler {
	return &AssignmentHandler{service: svc}
}

// AddRemark godoc
// @Summary Add remark
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body service.AddRemarkRequest true "Remark"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /assignments/{id}/remarks [post]
func (h *AssignmentHandler) AddRemark(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req service.AddRemarkRequest
	if !bindJSON(c, &req, "invalid remark payload") {
		return
	}
	asg, err := h.service.AddRemark(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, asg, nil)
}

// Complete godoc
// @Summary Complete assignment
// @Description The assignee marks their share of the work as done
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body service.CompleteAssignmentRequest false "Closing remark"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /assignments/{id}/complete [post]
func (h *AssignmentHandler) Complete(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req service.CompleteAssignmentRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid completion payload") {
		return
	}
	asg, err := h.service.Complete(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, asg, nil)
}

// Reassign godoc
// @Summary Reassign assignment
// @Description Hand the assignment to someone else; the original is completed
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body service.ReassignAssignmentRequest true "New assignee"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /assignments/{id}/reassign [post]
func (h *AssignmentHandler) Reassign(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req service.ReassignAssignmentRequest
	if !bindJSON(c, &req, "invalid reassignment payload") {
		return
	}
	asg, err := h.service.Reassign(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, asg)
}

// Revoke godoc
// @Summary Revoke assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body service.RemarksRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /assignments/{id}/revoke [post]
func (h *AssignmentHandler) Revoke(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req service.RemarksRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid revoke payload") {
		return
	}
	asg, err := h.service.Revoke(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, asg, nil)
}
