package policy

// Reason explains a Decision.
type Reason string

const (
	ReasonOK                  Reason = "OK"
	ReasonMissingContext      Reason = "MISSING_CONTEXT"
	ReasonMailClosed          Reason = "MAIL_CLOSED"
	ReasonMailNotClosed       Reason = "MAIL_NOT_CLOSED"
	ReasonRoleNotPermitted    Reason = "ROLE_NOT_PERMITTED"
	ReasonOutsideSection      Reason = "OUTSIDE_MANAGED_SECTIONS"
	ReasonNotHandler          Reason = "NOT_CURRENT_HANDLER"
	ReasonMultiAssignedAGOnly Reason = "MULTI_ASSIGNED_AG_ONLY"
	ReasonNotSupervisor       Reason = "NOT_SUPERVISOR"
	ReasonNotAssignee         Reason = "NOT_ASSIGNEE"
	ReasonAssignmentInactive  Reason = "ASSIGNMENT_NOT_ACTIVE"
	ReasonNotVisible          Reason = "NOT_VISIBLE"
)

var reasonMessages = map[Reason]string{
	ReasonOK:                  "allowed",
	ReasonMissingContext:      "user or mail context missing",
	ReasonMailClosed:          "mail is closed",
	ReasonMailNotClosed:       "mail is not closed",
	ReasonRoleNotPermitted:    "your role does not permit this action",
	ReasonOutsideSection:      "mail belongs to a section you do not manage",
	ReasonNotHandler:          "only the current handler can do this",
	ReasonMultiAssignedAGOnly: "only AG can close a multi-assigned mail",
	ReasonNotSupervisor:       "only a supervisor of this assignment can do this",
	ReasonNotAssignee:         "only the assignee can do this",
	ReasonAssignmentInactive:  "assignment is no longer active",
	ReasonNotVisible:          "you do not have access to this mail",
}

// Message renders the reason for end users.
func (r Reason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return string(r)
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

func allow() Decision { return Decision{Allowed: true, Reason: ReasonOK} }

func deny(r Reason) Decision { return Decision{Reason: r} }
