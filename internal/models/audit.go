package models

import (
	"encoding/json"
	"time"
)

// AuditAction names an entry in a mail's audit trail.
type AuditAction string

const (
	AuditCreate        AuditAction = "CREATE"
	AuditAssign        AuditAction = "ASSIGN"
	AuditReassign      AuditAction = "REASSIGN"
	AuditUpdate        AuditAction = "UPDATE"
	AuditClose         AuditAction = "CLOSE"
	AuditReopen        AuditAction = "REOPEN"
	AuditMultiAssign   AuditAction = "MULTI_ASSIGN"
	AuditRemark        AuditAction = "REMARK"
	AuditComplete      AuditAction = "COMPLETE"
	AuditRevoke        AuditAction = "REVOKE"
	AuditCurrentAction AuditAction = "CURRENT_ACTION"
	AuditAttachment    AuditAction = "ATTACHMENT"
)

// AuditEntry is one immutable row of a mail's audit trail.
type AuditEntry struct {
	ID              string          `db:"id" json:"id"`
	MailID          string          `db:"mail_id" json:"mail_id"`
	Action          AuditAction     `db:"action" json:"action"`
	PerformedBy     string          `db:"performed_by" json:"performed_by"`
	PerformedByName string          `db:"performed_by_name" json:"performed_by_name"`
	OldValue        json.RawMessage `db:"old_value" json:"old_value,omitempty"`
	NewValue        json.RawMessage `db:"new_value" json:"new_value,omitempty"`
	Remarks         string          `db:"remarks" json:"remarks"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Auth and user administration events are kept apart from the mail trail.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionUserCreate     = "USER_CREATE"
	AuditActionUserUpdate     = "USER_UPDATE"
	AuditActionUserDelete     = "USER_DELETE"
)

// AuditLog records authentication and user administration events.
type AuditLog struct {
	ID        string    `db:"id" json:"id"`
	UserID    *string   `db:"user_id" json:"user_id,omitempty"`
	Action    string    `db:"action" json:"action"`
	Detail    []byte    `db:"detail" json:"detail,omitempty"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
