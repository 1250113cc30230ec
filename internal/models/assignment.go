package models

import "time"

// AssignmentStatus is the lifecycle state of one officer's stake in a mail.
type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "Active"
	AssignmentCompleted AssignmentStatus = "Completed"
	AssignmentRevoked   AssignmentStatus = "Revoked"
)

// Terminal reports whether no further transitions are possible.
func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentCompleted || s == AssignmentRevoked
}

// Assignment tracks one officer's handling of a mail item.
type Assignment struct {
	ID                string           `db:"id" json:"id"`
	MailID            string           `db:"mail_id" json:"mail_id"`
	AssignedToID      string           `db:"assigned_to" json:"assigned_to"`
	AssignedToName    string           `db:"assigned_to_name" json:"assigned_to_name"`
	AssignedByID      string           `db:"assigned_by" json:"assigned_by"`
	AssignedByName    string           `db:"assigned_by_name" json:"assigned_by_name"`
	Status            AssignmentStatus `db:"status" json:"status"`
	AssignmentRemarks string           `db:"assignment_remarks" json:"assignment_remarks"`
	PredecessorID     *string          `db:"predecessor_id" json:"predecessor_id,omitempty"`
	ReassignedToID    *string          `db:"reassigned_to" json:"reassigned_to,omitempty"`
	ReassignedToName  *string          `db:"reassigned_to_name" json:"reassigned_to_name,omitempty"`
	ReassignedAt      *time.Time       `db:"reassigned_at" json:"reassigned_at,omitempty"`
	CompletedAt       *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	RevokedAt         *time.Time       `db:"revoked_at" json:"revoked_at,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`

	Events []AssignmentEvent `db:"-" json:"events"`
}

// IsActive reports whether the assignment still accepts work.
func (a *Assignment) IsActive() bool {
	return a != nil && a.Status == AssignmentActive
}

// RemarkCount counts REMARK events on the timeline.
func (a *Assignment) RemarkCount() int {
	if a == nil {
		return 0
	}
	n := 0
	for _, e := range a.Events {
		if e.Kind == EventRemark {
			n++
		}
	}
	return n
}

// EventKind tags an entry on an assignment timeline.
type EventKind string

const (
	EventRemark   EventKind = "REMARK"
	EventReassign EventKind = "REASSIGN"
	EventComplete EventKind = "COMPLETE"
	EventRevoke   EventKind = "REVOKE"
)

// AssignmentEvent is one append-only timeline entry. Reassignments carry the
// target user explicitly instead of encoding it in the remark text.
type AssignmentEvent struct {
	ID             string    `db:"id" json:"id"`
	AssignmentID   string    `db:"assignment_id" json:"assignment_id"`
	Seq            int64     `db:"seq" json:"seq"`
	Kind           EventKind `db:"kind" json:"kind"`
	Content        string    `db:"content" json:"content"`
	AuthorID       string    `db:"author_id" json:"author_id"`
	AuthorName     string    `db:"author_name" json:"author_name"`
	TargetUserID   *string   `db:"target_user_id" json:"target_user_id,omitempty"`
	TargetUserName *string   `db:"target_user_name" json:"target_user_name,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
