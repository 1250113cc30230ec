package policy

import (
	"slices"

	"github.com/noah-isme/mailtrack-api/internal/models"
)

// EditRemarks allows the current handler (any current handler of a
// multi-assigned mail) to edit the working remarks.
func EditRemarks(actor *Actor, mail *models.MailRecord) Decision {
	if actor == nil || mail == nil {
		return deny(ReasonMissingContext)
	}
	if mail.IsClosed() {
		return deny(ReasonMailClosed)
	}
	if actor.handles(mail) {
		return allow()
	}
	return deny(ReasonNotHandler)
}

// Reassign covers moving the mail's single handler to another user.
func Reassign(actor *Actor, mail *models.MailRecord) Decision {
	if actor == nil || mail == nil {
		return deny(ReasonMissingContext)
	}
	if mail.IsClosed() {
		return deny(ReasonMailClosed)
	}
	switch {
	case actor.is(models.RoleAG):
		return allow()
	case actor.Manages(mail.SectionID):
		return allow()
	case actor.handles(mail):
		return allow()
	case actor.is(models.RoleDAG):
		return deny(ReasonOutsideSection)
	}
	return deny(ReasonNotHandler)
}

// Close decides whether the mail can be closed. Multi-assigned mail is
// reserved for AG.
func Close(actor *Actor, mail *models.MailRecord) Decision {
	if actor == nil || mail == nil {
		return deny(ReasonMissingContext)
	}
	if mail.IsClosed() {
		return deny(ReasonMailClosed)
	}
	if mail.IsMultiAssigned {
		if actor.is(models.RoleAG) {
			return allow()
		}
		return deny(ReasonMultiAssignedAGOnly)
	}
	if actor.is(models.RoleAG) || actor.handles(mail) {
		return allow()
	}
	return deny(ReasonNotHandler)
}

// Reopen is AG only and only for closed mail.
func Reopen(actor *Actor, mail *models.MailRecord) Decision {
	if actor == nil || mail == nil {
		return deny(ReasonMissingContext)
	}
	if !actor.is(models.RoleAG) {
		return deny(ReasonRoleNotPermitted)
	}
	if !mail.IsClosed() {
		return deny(ReasonMailNotClosed)
	}
	return allow()
}

// MultiAssign decides whether the actor may distribute the mail to several
// officers. A DAG qualifies by managing the section or by holding an Active
// assignment on the mail.
func MultiAssign(actor *Actor, mail *models.MailRecord) Decision {
	if actor == nil || mail == nil {
		return deny(ReasonMissingContext)
	}
	if mail.IsClosed() {
		return deny(ReasonMailClosed)
	}
	switch {
	case actor.is(models.RoleAG):
		return allow()
	case actor.Manages(mail.SectionID):
		return allow()
	case actor.is(models.RoleDAG) && actor.holdsActiveAssignment(mail):
		return allow()
	case actor.is(models.RoleDAG):
		return deny(ReasonOutsideSection)
	}
	return deny(ReasonRoleNotPermitted)
}

// UpdateCurrentAction is reserved for current handlers of open mail.
func UpdateCurrentAction(actor *Actor, mail *models.MailRecord) Decision {
	if actor == nil || mail == nil {
		return deny(ReasonMissingContext)
	}
	if mail.IsClosed() {
		return deny(ReasonMailClosed)
	}
	if actor.handles(mail) {
		return allow()
	}
	return deny(ReasonNotHandler)
}

// UploadAttachment allows AG, the creator, a managing DAG or a current handler.
func UploadAttachment(actor *Actor, mail *models.MailRecord) Decision {
	if actor == nil || mail == nil {
		return deny(ReasonMissingContext)
	}
	if mail.IsClosed() {
		return deny(ReasonMailClosed)
	}
	if actor.is(models.RoleAG) || mail.CreatedBy == actor.UserID || actor.Manages(mail.SectionID) || actor.handles(mail) {
		return allow()
	}
	return deny(ReasonNotHandler)
}

// Create decides whether the actor may register new mail for sectionID.
func Create(actor *Actor, sectionID string) Decision {
	if actor == nil {
		return deny(ReasonMissingContext)
	}
	switch actor.Role {
	case models.RoleAG, models.RoleClerk:
		return allow()
	case models.RoleDAG:
		if actor.Manages(sectionID) {
			return allow()
		}
		return deny(ReasonOutsideSection)
	}
	return deny(ReasonRoleNotPermitted)
}

// View decides visibility. touched reports whether the actor appears in the
// mail's audit trail.
func View(actor *Actor, mail *models.MailRecord, touched bool) Decision {
	if actor == nil || mail == nil {
		return deny(ReasonMissingContext)
	}
	involved := actor.handles(mail) || mail.AssignedToID == actor.UserID || actor.holdsActiveAssignment(mail)
	switch actor.Role {
	case models.RoleAG:
		return allow()
	case models.RoleDAG:
		if actor.Manages(mail.SectionID) || involved || touched {
			return allow()
		}
		if mail.HandlerSectionID != nil && actor.Manages(*mail.HandlerSectionID) {
			return allow()
		}
	case models.RoleSrAO, models.RoleAAO:
		if involved || touched {
			return allow()
		}
		if actor.SubsectionID != "" && mail.HandlerSubsectionID != nil && *mail.HandlerSubsectionID == actor.SubsectionID {
			return allow()
		}
	case models.RoleClerk:
		if involved || mail.CreatedBy == actor.UserID {
			return allow()
		}
	case models.RoleAuditor:
		if mail.HandlerSubsectionID != nil && slices.Contains(actor.AuditorSubsections, *mail.HandlerSubsectionID) {
			return allow()
		}
	}
	return deny(ReasonNotVisible)
}

// CanEditRemarks reports whether actor is a current handler of the mail.
func CanEditRemarks(actor *Actor, mail *models.MailRecord) bool {
	return EditRemarks(actor, mail).Allowed
}

// CanReassign is the boolean form of Reassign.
func CanReassign(actor *Actor, mail *models.MailRecord) bool {
	return Reassign(actor, mail).Allowed
}

// CanClose is the boolean form of Close.
func CanClose(actor *Actor, mail *models.MailRecord) bool {
	return Close(actor, mail).Allowed
}

// CanReopen is the boolean form of Reopen.
func CanReopen(actor *Actor, mail *models.MailRecord) bool {
	return Reopen(actor, mail).Allowed
}

// CanMultiAssign is the boolean form of MultiAssign.
func CanMultiAssign(actor *Actor, mail *models.MailRecord) bool {
	return MultiAssign(actor, mail).Allowed
}

// CanUpdateCurrentAction is the boolean form of UpdateCurrentAction.
func CanUpdateCurrentAction(actor *Actor, mail *models.MailRecord) bool {
	return UpdateCurrentAction(actor, mail).Allowed
}

// MailPermissions is the full predicate set for one actor and mail.
type MailPermissions struct {
	EditRemarks         Decision `json:"edit_remarks"`
	Reassign            Decision `json:"reassign"`
	Close               Decision `json:"close"`
	Reopen              Decision `json:"reopen"`
	MultiAssign         Decision `json:"multi_assign"`
	UpdateCurrentAction Decision `json:"update_current_action"`
	UploadAttachment    Decision `json:"upload_attachment"`
}

// Evaluate computes every mail-level predicate.
func Evaluate(actor *Actor, mail *models.MailRecord) MailPermissions {
	return MailPermissions{
		EditRemarks:         EditRemarks(actor, mail),
		Reassign:            Reassign(actor, mail),
		Close:               Close(actor, mail),
		Reopen:              Reopen(actor, mail),
		MultiAssign:         MultiAssign(actor, mail),
		UpdateCurrentAction: UpdateCurrentAction(actor, mail),
		UploadAttachment:    UploadAttachment(actor, mail),
	}
}
