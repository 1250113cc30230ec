package policy

import "github.com/noah-isme/mailtrack-api/internal/models"

// Supervisor reports whether actor supervises the assignment: AG always, a DAG
// only when it made the assignment.
func Supervisor(actor *Actor, asg *models.Assignment) Decision {
	if actor == nil || asg == nil {
		return deny(ReasonMissingContext)
	}
	if actor.is(models.RoleAG) {
		return allow()
	}
	if actor.is(models.RoleDAG) && asg.AssignedByID == actor.UserID {
		return allow()
	}
	return deny(ReasonNotSupervisor)
}

// IsSupervisor is the boolean form of Supervisor.
func IsSupervisor(actor *Actor, asg *models.Assignment) bool {
	return Supervisor(actor, asg).Allowed
}

// AddRemark allows the assignee to append to an Active assignment of open mail.
func AddRemark(actor *Actor, mail *models.MailRecord, asg *models.Assignment) Decision {
	if d, ok := activeWork(actor, mail, asg); !ok {
		return d
	}
	if asg.AssignedToID != actor.UserID {
		return deny(ReasonNotAssignee)
	}
	return allow()
}

// Complete has the same gate as AddRemark; the remark requirement is checked
// by the caller against the timeline.
func Complete(actor *Actor, mail *models.MailRecord, asg *models.Assignment) Decision {
	return AddRemark(actor, mail, asg)
}

// ReassignAssignment allows the assignee or a supervisor to hand the work on.
func ReassignAssignment(actor *Actor, mail *models.MailRecord, asg *models.Assignment) Decision {
	if d, ok := activeWork(actor, mail, asg); !ok {
		return d
	}
	if asg.AssignedToID == actor.UserID || IsSupervisor(actor, asg) {
		return allow()
	}
	return deny(ReasonNotAssignee)
}

// Revoke is supervisor only and needs an Active assignment.
func Revoke(actor *Actor, asg *models.Assignment) Decision {
	if actor == nil || asg == nil {
		return deny(ReasonMissingContext)
	}
	if !asg.IsActive() {
		return deny(ReasonAssignmentInactive)
	}
	return Supervisor(actor, asg)
}

func activeWork(actor *Actor, mail *models.MailRecord, asg *models.Assignment) (Decision, bool) {
	if actor == nil || mail == nil || asg == nil {
		return deny(ReasonMissingContext), false
	}
	if mail.IsClosed() {
		return deny(ReasonMailClosed), false
	}
	if !asg.IsActive() {
		return deny(ReasonAssignmentInactive), false
	}
	return Decision{}, true
}

// AssignmentPermissions is the predicate set for one assignment.
type AssignmentPermissions struct {
	AddRemark Decision `json:"add_remark"`
	Complete  Decision `json:"complete"`
	Reassign  Decision `json:"reassign"`
	Revoke    Decision `json:"revoke"`
}

// EvaluateAssignment computes every assignment-level predicate.
func EvaluateAssignment(actor *Actor, mail *models.MailRecord, asg *models.Assignment) AssignmentPermissions {
	return AssignmentPermissions{
		AddRemark: AddRemark(actor, mail, asg),
		Complete:  Complete(actor, mail, asg),
		Reassign:  ReassignAssignment(actor, mail, asg),
		Revoke:    Revoke(actor, asg),
	}
}
