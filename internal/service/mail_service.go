package service

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	"github.com/noah-isme/mailtrack-api/internal/repository"
	"github.com/noah-isme/mailtrack-api/internal/timeline"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
	"github.com/noah-isme/mailtrack-api/pkg/logger"
)

const dateLayout = "2006-01-02"

type mailStore interface {
	NextSerial(ctx context.Context, exec sqlx.ExtContext, year int) (string, error)
	Create(ctx context.Context, exec sqlx.ExtContext, mail *models.MailRecord) error
	FindByID(ctx context.Context, id string) (*models.MailRecord, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.MailRecord, error)
	Update(ctx context.Context, exec sqlx.ExtContext, mail *models.MailRecord) error
	Touched(ctx context.Context, mailID, userID string) (bool, error)
	List(ctx context.Context, actor *policy.Actor, filter models.MailFilter) ([]models.MailRecord, int, error)
}

type assignmentStore interface {
	ListByMail(ctx context.Context, mailID string) ([]models.Assignment, error)
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Assignment, error)
	ListActiveByMail(ctx context.Context, exec sqlx.ExtContext, mailID string) ([]models.Assignment, error)
	Create(ctx context.Context, exec sqlx.ExtContext, asg *models.Assignment) error
	UpdateState(ctx context.Context, exec sqlx.ExtContext, asg *models.Assignment) error
	AddEvent(ctx context.Context, exec sqlx.ExtContext, ev *models.AssignmentEvent) error
	HasActive(ctx context.Context, exec sqlx.ExtContext, mailID, userID string) (bool, error)
	activeAssigneeLoader
}

type activeAssigneeLoader interface {
	ListActiveByMails(ctx context.Context, mailIDs []string) ([]models.Assignment, error)
}

type mailDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindSectionDAG(ctx context.Context, sectionID string) (*models.User, error)
}

// CreateMailRequest registers a new piece of correspondence.
type CreateMailRequest struct {
	LetterNo            string                `json:"letter_no" validate:"required,max=100"`
	Subject             string                `json:"subject" validate:"required,max=500"`
	FromOffice          string                `json:"from_office" validate:"required,max=255"`
	DateReceived        string                `json:"date_received" validate:"required,datetime=2006-01-02"`
	DueDate             string                `json:"due_date" validate:"required,datetime=2006-01-02"`
	ActionRequired      models.ActionRequired `json:"action_required" validate:"required,oneof=Review Approve Process File Reply Other"`
	ActionRequiredOther string                `json:"action_required_other" validate:"required_if=ActionRequired Other,max=255"`
	SectionID           string                `json:"section_id" validate:"required"`
	AssignedTo          string                `json:"assigned_to" validate:"required"`
	Remarks             string                `json:"remarks"`
}

// UpdateRemarksRequest replaces the handler's working remarks.
type UpdateRemarksRequest struct {
	Remarks string `json:"remarks"`
}

// MailReassignRequest moves a single-handler mail to another officer.
type MailReassignRequest struct {
	NewHandlerID string `json:"new_handler" validate:"required"`
	Remarks      string `json:"remarks"`
}

// RemarksRequest carries the mandatory remarks of close and reopen.
type RemarksRequest struct {
	Remarks string `json:"remarks"`
}

// CurrentActionRequest records what the handler is doing right now.
type CurrentActionRequest struct {
	Status  string `json:"status" validate:"required,max=100"`
	Remarks string `json:"remarks"`
}

// MultiAssignRequest distributes a mail to several officers at once.
type MultiAssignRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,dive,required"`
	Remarks string   `json:"remarks"`
}

// MailPermissionSet is every decision the caller holds on one mail.
type MailPermissionSet struct {
	Mail        policy.MailPermissions                  `json:"mail"`
	Assignments map[string]policy.AssignmentPermissions `json:"assignments"`
}

// MailTimeline carries both timeline views of a mail.
type MailTimeline struct {
	Branches []timeline.Branch `json:"branches"`
	Entries  []timeline.Entry  `json:"entries"`
}

// MailService implements the mail-level workflows.
type MailService struct {
	mails        mailStore
	assignments  assignmentStore
	audits       auditWriter
	users        mailDirectory
	tx           txProvider
	consolidator consolidationScheduler
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewMailService constructs a MailService.
func NewMailService(
	mails mailStore,
	assignments assignmentStore,
	audits auditWriter,
	users mailDirectory,
	tx txProvider,
	consolidator consolidationScheduler,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *MailService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailService{
		mails:        mails,
		assignments:  assignments,
		audits:       audits,
		users:        users,
		tx:           tx,
		consolidator: consolidator,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// List returns the page of mail visible to actor.
func (s *MailService) List(ctx context.Context, actor *policy.Actor, filter models.MailFilter) ([]models.MailRecord, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, denied(s.metrics, policy.Decision{Reason: policy.ReasonMissingContext})
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown status "+string(*filter.Status))
	}
	switch filter.Scope {
	case models.ScopeAll, models.ScopeAssigned, models.ScopeCreatedByMe, models.ScopeClosed:
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown scope "+string(filter.Scope))
	}

	start := time.Now()
	mails, total, err := s.mails.List(ctx, actor, filter)
	s.metrics.ObserveDBQuery("mail_list", time.Since(start))
	if err != nil {
		return nil, nil, internal(err, "failed to list mail")
	}
	if err := attachActiveAssignments(ctx, s.assignments, mails); err != nil {
		return nil, nil, internal(err, "failed to load assignees")
	}
	now := s.now()
	for i := range mails {
		mails[i].Decorate(now)
	}

	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return mails, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads a mail with its assignments, checks visibility and fills in the
// derived fields.
func (s *MailService) Get(ctx context.Context, actor *policy.Actor, id string) (*models.MailRecord, error) {
	mail, err := s.mails.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "mail")
	}
	assignments, err := s.assignments.ListByMail(ctx, id)
	if err != nil {
		return nil, internal(err, "failed to load assignments")
	}
	mail.Assignments = assignments

	decision := policy.View(actor, mail, false)
	if !decision.Allowed && decision.Reason == policy.ReasonNotVisible && touchable(actor) {
		touched, err := s.mails.Touched(ctx, id, actor.UserID)
		if err != nil {
			return nil, internal(err, "failed to check mail access")
		}
		decision = policy.View(actor, mail, touched)
	}
	if !decision.Allowed {
		return nil, denied(s.metrics, decision)
	}

	mail.Decorate(s.now())
	return mail, nil
}

// attachActiveAssignments loads the Active assignments of the multi-assigned
// rows in one query so Decorate can list every current handler.
func attachActiveAssignments(ctx context.Context, loader activeAssigneeLoader, mails []models.MailRecord) error {
	if loader == nil {
		return nil
	}
	ids := make([]string, 0, len(mails))
	for _, m := range mails {
		if m.IsMultiAssigned {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	active, err := loader.ListActiveByMails(ctx, ids)
	if err != nil {
		return err
	}
	byMail := make(map[string][]models.Assignment, len(ids))
	for _, a := range active {
		byMail[a.MailID] = append(byMail[a.MailID], a)
	}
	for i := range mails {
		if mails[i].IsMultiAssigned {
			mails[i].Assignments = byMail[mails[i].ID]
		}
	}
	return nil
}

// touchable reports whether audit involvement can widen the actor's view.
func touchable(actor *policy.Actor) bool {
	if actor == nil {
		return false
	}
	switch actor.Role {
	case models.RoleDAG, models.RoleSrAO, models.RoleAAO:
		return true
	}
	return false
}

// Create registers a mail, reserves its serial and assigns the first handler.
func (s *MailService) Create(ctx context.Context, actor *policy.Actor, req CreateMailRequest) (mail *models.MailRecord, err error) {
	defer func() { s.metrics.RecordMutation("mail_create", err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mail payload")
	}
	received, _ := time.Parse(dateLayout, req.DateReceived)
	due, _ := time.Parse(dateLayout, req.DueDate)
	if due.Before(received) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "due date cannot be before the date received")
	}
	if d := policy.Create(actor, req.SectionID); !d.Allowed {
		return nil, denied(s.metrics, d)
	}

	assignee, err := loadTarget(ctx, s.users, actor, req.AssignedTo)
	if err != nil {
		return nil, err
	}

	now := s.now()
	mail = &models.MailRecord{
		LetterNo:            strings.TrimSpace(req.LetterNo),
		Subject:             strings.TrimSpace(req.Subject),
		FromOffice:          strings.TrimSpace(req.FromOffice),
		DateReceived:        received,
		DueDate:             due,
		ActionRequired:      req.ActionRequired,
		Status:              models.MailAssigned,
		AssignedToID:        assignee.ID,
		CurrentHandlerID:    assignee.ID,
		MonitoringOfficerID: s.monitoringOfficer(ctx, assignee, req.SectionID),
		SectionID:           req.SectionID,
		CreatedBy:           actor.UserID,
		Remarks:             strPtr(strings.TrimSpace(req.Remarks)),
		LastStatusChange:    now,
		CreatedAt:           now,
	}
	if req.ActionRequired == models.ActionOther {
		mail.ActionRequiredOther = strPtr(strings.TrimSpace(req.ActionRequiredOther))
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, internal(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if mail.SerialNo, err = s.mails.NextSerial(ctx, tx, now.Year()); err != nil {
		return nil, internal(err, "failed to reserve serial number")
	}
	if err = s.mails.Create(ctx, tx, mail); err != nil {
		return nil, internal(err, "failed to create mail")
	}
	created := map[string]string{"sl_no": mail.SerialNo, "subject": mail.Subject, "section_id": mail.SectionID}
	if err = s.audits.Create(ctx, tx, auditEntry(mail.ID, actor, models.AuditCreate, nil, created, "")); err != nil {
		return nil, internal(err, "failed to record audit entry")
	}
	assigned := map[string]string{"assigned_to": assignee.ID, "assigned_to_name": assignee.FullName}
	if err = s.audits.Create(ctx, tx, auditEntry(mail.ID, actor, models.AuditAssign, nil, assigned, strings.TrimSpace(req.Remarks))); err != nil {
		return nil, internal(err, "failed to record audit entry")
	}
	if err = tx.Commit(); err != nil {
		return nil, internal(err, "failed to commit mail")
	}

	logger.FromContext(ctx, s.logger).Info("mail created", zap.String("mail_id", mail.ID), zap.String("sl_no", mail.SerialNo))
	return s.Get(ctx, actor, mail.ID)
}

// monitoringOfficer picks the DAG of the assignee's section, falling back to
// the mail's section.
func (s *MailService) monitoringOfficer(ctx context.Context, assignee *models.User, sectionID string) *string {
	section := sectionID
	if assignee.SectionID != nil && *assignee.SectionID != "" {
		section = *assignee.SectionID
	}
	dag, err := s.users.FindSectionDAG(ctx, section)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.FromContext(ctx, s.logger).Warn("monitoring officer lookup failed", zap.String("section_id", section), zap.Error(err))
		}
		return nil
	}
	return &dag.ID
}

// mutate runs fn inside a transaction holding the mail row lock. The mail's
// Active assignments are loaded so handler checks see multi-assignees.
func (s *MailService) mutate(ctx context.Context, op, mailID string, fn func(tx *sqlx.Tx, mail *models.MailRecord) error) (err error) {
	defer func() { s.metrics.RecordMutation(op, err) }()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return internal(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	mail, err := s.mails.LockByID(ctx, tx, mailID)
	if err != nil {
		return notFoundOr(err, "mail")
	}
	if mail.Assignments, err = s.assignments.ListActiveByMail(ctx, tx, mailID); err != nil {
		return internal(err, "failed to load assignments")
	}
	if err = fn(tx, mail); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return internal(err, "failed to commit changes")
	}
	return nil
}

func (s *MailService) setStatus(mail *models.MailRecord, status models.MailStatus) {
	if mail.Status != status {
		mail.Status = status
		mail.LastStatusChange = s.now()
	}
}

// UpdateRemarks replaces the working remarks. Assigned mail moves to In
// Progress.
func (s *MailService) UpdateRemarks(ctx context.Context, actor *policy.Actor, mailID string, req UpdateRemarksRequest) (*models.MailRecord, error) {
	remarks, err := requireText(req.Remarks, "remarks")
	if err != nil {
		return nil, err
	}
	err = s.mutate(ctx, "mail_update_remarks", mailID, func(tx *sqlx.Tx, mail *models.MailRecord) error {
		if d := policy.EditRemarks(actor, mail); !d.Allowed {
			return denied(s.metrics, d)
		}
		old := map[string]interface{}{"remarks": mail.Remarks, "status": mail.Status}
		mail.Remarks = &remarks
		if mail.Status == models.MailAssigned || mail.Status == models.MailReceived {
			s.setStatus(mail, models.MailInProgress)
		}
		if err := s.mails.Update(ctx, tx, mail); err != nil {
			return internal(err, "failed to update mail")
		}
		updated := map[string]interface{}{"remarks": remarks, "status": mail.Status}
		return s.record(ctx, tx, auditEntry(mail.ID, actor, models.AuditUpdate, old, updated, remarks))
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, mailID)
}

// Reassign moves the single current handler to another officer.
func (s *MailService) Reassign(ctx context.Context, actor *policy.Actor, mailID string, req MailReassignRequest) (*models.MailRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "new handler is required")
	}
	remarks, err := requireText(req.Remarks, "remarks")
	if err != nil {
		return nil, err
	}
	err = s.mutate(ctx, "mail_reassign", mailID, func(tx *sqlx.Tx, mail *models.MailRecord) error {
		if d := policy.Reassign(actor, mail); !d.Allowed {
			return denied(s.metrics, d)
		}
		if mail.CurrentHandlerID == req.NewHandlerID {
			return appErrors.Clone(appErrors.ErrValidation, "mail is already with this officer")
		}
		target, err := loadTarget(ctx, s.users, actor, req.NewHandlerID)
		if err != nil {
			return err
		}
		old := map[string]string{"current_handler_id": mail.CurrentHandlerID, "current_handler_name": mail.CurrentHandlerName}
		mail.CurrentHandlerID = target.ID
		mail.MonitoringOfficerID = s.monitoringOfficer(ctx, target, mail.SectionID)
		s.setStatus(mail, models.MailInProgress)
		if err := s.mails.Update(ctx, tx, mail); err != nil {
			return internal(err, "failed to update mail")
		}
		updated := map[string]string{"current_handler_id": target.ID, "current_handler_name": target.FullName}
		return s.record(ctx, tx, auditEntry(mail.ID, actor, models.AuditReassign, old, updated, remarks))
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, mailID)
}

// Close finishes the mail. Assignments are left as they are.
func (s *MailService) Close(ctx context.Context, actor *policy.Actor, mailID string, req RemarksRequest) (*models.MailRecord, error) {
	remarks, err := requireText(req.Remarks, "remarks")
	if err != nil {
		return nil, err
	}
	err = s.mutate(ctx, "mail_close", mailID, func(tx *sqlx.Tx, mail *models.MailRecord) error {
		if d := policy.Close(actor, mail); !d.Allowed {
			return denied(s.metrics, d)
		}
		old := map[string]interface{}{"status": mail.Status}
		now := s.now()
		s.setStatus(mail, models.MailClosed)
		mail.DateOfCompletion = &now
		mail.Remarks = &remarks
		if err := s.mails.Update(ctx, tx, mail); err != nil {
			return internal(err, "failed to close mail")
		}
		updated := map[string]interface{}{"status": mail.Status, "date_of_completion": now}
		return s.record(ctx, tx, auditEntry(mail.ID, actor, models.AuditClose, old, updated, remarks))
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, mailID)
}

// Reopen returns a closed mail to In Progress.
func (s *MailService) Reopen(ctx context.Context, actor *policy.Actor, mailID string, req RemarksRequest) (*models.MailRecord, error) {
	remarks, err := requireText(req.Remarks, "remarks")
	if err != nil {
		return nil, err
	}
	err = s.mutate(ctx, "mail_reopen", mailID, func(tx *sqlx.Tx, mail *models.MailRecord) error {
		if d := policy.Reopen(actor, mail); !d.Allowed {
			return denied(s.metrics, d)
		}
		old := map[string]interface{}{"status": mail.Status, "date_of_completion": mail.DateOfCompletion}
		s.setStatus(mail, models.MailInProgress)
		mail.DateOfCompletion = nil
		if err := s.mails.Update(ctx, tx, mail); err != nil {
			return internal(err, "failed to reopen mail")
		}
		return s.record(ctx, tx, auditEntry(mail.ID, actor, models.AuditReopen, old, map[string]interface{}{"status": mail.Status}, remarks))
	})
	if err != nil {
		return nil, err
	}
	s.schedule(mailID)
	return s.Get(ctx, actor, mailID)
}

// UpdateCurrentAction records the handler's current activity.
func (s *MailService) UpdateCurrentAction(ctx context.Context, actor *policy.Actor, mailID string, req CurrentActionRequest) (*models.MailRecord, error) {
	req.Status = strings.TrimSpace(req.Status)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "current action status is required")
	}
	remarks := strings.TrimSpace(req.Remarks)
	err := s.mutate(ctx, "mail_current_action", mailID, func(tx *sqlx.Tx, mail *models.MailRecord) error {
		if d := policy.UpdateCurrentAction(actor, mail); !d.Allowed {
			return denied(s.metrics, d)
		}
		old := map[string]interface{}{"status": mail.CurrentActionStatus, "remarks": mail.CurrentActionRemarks}
		now := s.now()
		mail.CurrentActionStatus = &req.Status
		mail.CurrentActionRemarks = strPtr(remarks)
		mail.CurrentActionUpdatedAt = &now
		if err := s.mails.Update(ctx, tx, mail); err != nil {
			return internal(err, "failed to update current action")
		}
		updated := map[string]interface{}{"status": req.Status, "remarks": remarks}
		return s.record(ctx, tx, auditEntry(mail.ID, actor, models.AuditCurrentAction, old, updated, remarks))
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, mailID)
}

// MultiAssign opens one Active assignment per listed officer.
func (s *MailService) MultiAssign(ctx context.Context, actor *policy.Actor, mailID string, req MultiAssignRequest) (*models.MailRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "select at least one officer")
	}
	remarks, err := requireText(req.Remarks, "remarks")
	if err != nil {
		return nil, err
	}
	userIDs := dedupe(req.UserIDs)

	err = s.mutate(ctx, "mail_multi_assign", mailID, func(tx *sqlx.Tx, mail *models.MailRecord) error {
		if d := policy.MultiAssign(actor, mail); !d.Allowed {
			return denied(s.metrics, d)
		}
		names := make([]string, 0, len(userIDs))
		for _, id := range userIDs {
			target, err := loadTarget(ctx, s.users, actor, id)
			if err != nil {
				return err
			}
			if slices.ContainsFunc(mail.Assignments, func(a models.Assignment) bool { return a.AssignedToID == id }) {
				return appErrors.Clone(appErrors.ErrConflict, target.FullName+" already holds an active assignment on this mail")
			}
			asg := &models.Assignment{MailID: mail.ID, AssignedToID: id, AssignedByID: actor.UserID, AssignmentRemarks: remarks}
			if err := s.assignments.Create(ctx, tx, asg); err != nil {
				if repository.IsUniqueViolation(err) {
					return appErrors.Clone(appErrors.ErrConflict, target.FullName+" already holds an active assignment on this mail")
				}
				return internal(err, "failed to create assignment")
			}
			mail.Assignments = append(mail.Assignments, *asg)
			names = append(names, target.FullName)
		}

		mail.IsMultiAssigned = len(mail.Assignments) > 1
		s.setStatus(mail, policy.DeriveMailStatus(mail.Status, mail.Assignments))
		if err := s.mails.Update(ctx, tx, mail); err != nil {
			return internal(err, "failed to update mail")
		}
		updated := map[string]interface{}{"user_ids": userIDs, "names": names}
		return s.record(ctx, tx, auditEntry(mail.ID, actor, models.AuditMultiAssign, nil, updated, remarks))
	})
	if err != nil {
		return nil, err
	}
	s.schedule(mailID)
	return s.Get(ctx, actor, mailID)
}

// Assignments lists every assignment of a visible mail, newest first.
func (s *MailService) Assignments(ctx context.Context, actor *policy.Actor, mailID string) ([]models.Assignment, error) {
	mail, err := s.Get(ctx, actor, mailID)
	if err != nil {
		return nil, err
	}
	if mail.Assignments == nil {
		return []models.Assignment{}, nil
	}
	return mail.Assignments, nil
}

// Timeline returns the handling chains and the flat view of a visible mail.
func (s *MailService) Timeline(ctx context.Context, actor *policy.Actor, mailID string) (*MailTimeline, error) {
	mail, err := s.Get(ctx, actor, mailID)
	if err != nil {
		return nil, err
	}
	return &MailTimeline{Branches: timeline.Build(mail.Assignments), Entries: timeline.Flat(mail.Assignments)}, nil
}

// Permissions evaluates every predicate for the caller.
func (s *MailService) Permissions(ctx context.Context, actor *policy.Actor, mailID string) (*MailPermissionSet, error) {
	mail, err := s.Get(ctx, actor, mailID)
	if err != nil {
		return nil, err
	}
	set := &MailPermissionSet{
		Mail:        policy.Evaluate(actor, mail),
		Assignments: make(map[string]policy.AssignmentPermissions, len(mail.Assignments)),
	}
	for i := range mail.Assignments {
		asg := &mail.Assignments[i]
		set.Assignments[asg.ID] = policy.EvaluateAssignment(actor, mail, asg)
	}
	return set, nil
}

func (s *MailService) record(ctx context.Context, exec sqlx.ExtContext, entry *models.AuditEntry) error {
	if err := s.audits.Create(ctx, exec, entry); err != nil {
		return internal(err, "failed to record audit entry")
	}
	return nil
}

func (s *MailService) schedule(mailID string) {
	if s.consolidator != nil {
		s.consolidator.Schedule(mailID)
	}
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
