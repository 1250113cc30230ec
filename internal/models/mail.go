package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MailStatus is the top-level handling state of a mail record.
type MailStatus string

const (
	MailReceived   MailStatus = "Received"
	MailAssigned   MailStatus = "Assigned"
	MailInProgress MailStatus = "In Progress"
	MailClosed     MailStatus = "Closed"
)

// Valid reports whether s is a known status.
func (s MailStatus) Valid() bool {
	switch s {
	case MailReceived, MailAssigned, MailInProgress, MailClosed:
		return true
	}
	return false
}

// ActionRequired enumerates what the sender expects from the office.
type ActionRequired string

const (
	ActionReview  ActionRequired = "Review"
	ActionApprove ActionRequired = "Approve"
	ActionProcess ActionRequired = "Process"
	ActionFile    ActionRequired = "File"
	ActionReply   ActionRequired = "Reply"
	ActionOther   ActionRequired = "Other"
)

// MailRecord is one piece of incoming correspondence.
type MailRecord struct {
	ID                     string         `db:"id" json:"id"`
	SerialNo               string         `db:"sl_no" json:"sl_no"`
	LetterNo               string         `db:"letter_no" json:"letter_no"`
	Subject                string         `db:"subject" json:"subject"`
	FromOffice             string         `db:"from_office" json:"from_office"`
	DateReceived           time.Time      `db:"date_received" json:"date_received"`
	DueDate                time.Time      `db:"due_date" json:"due_date"`
	ActionRequired         ActionRequired `db:"action_required" json:"action_required"`
	ActionRequiredOther    *string        `db:"action_required_other" json:"action_required_other,omitempty"`
	Status                 MailStatus     `db:"status" json:"status"`
	AssignedToID           string         `db:"assigned_to" json:"assigned_to"`
	AssignedToName         string         `db:"assigned_to_name" json:"assigned_to_name"`
	CurrentHandlerID       string         `db:"current_handler_id" json:"current_handler_id"`
	CurrentHandlerName     string         `db:"current_handler_name" json:"current_handler_name"`
	HandlerSubsectionID    *string        `db:"handler_subsection_id" json:"-"`
	HandlerSectionID       *string        `db:"handler_section_id" json:"-"`
	MonitoringOfficerID    *string        `db:"monitoring_officer_id" json:"monitoring_officer_id,omitempty"`
	SectionID              string         `db:"section_id" json:"section_id"`
	SectionName            string         `db:"section_name" json:"section_name"`
	CreatedBy              string         `db:"created_by" json:"created_by"`
	CreatedByName          string         `db:"created_by_name" json:"created_by_name"`
	IsMultiAssigned        bool           `db:"is_multi_assigned" json:"is_multi_assigned"`
	Remarks                *string        `db:"remarks" json:"remarks,omitempty"`
	ConsolidatedRemarks    *string        `db:"consolidated_remarks" json:"consolidated_remarks,omitempty"`
	CurrentActionStatus    *string        `db:"current_action_status" json:"current_action_status,omitempty"`
	CurrentActionRemarks   *string        `db:"current_action_remarks" json:"current_action_remarks,omitempty"`
	CurrentActionUpdatedAt *time.Time     `db:"current_action_updated_at" json:"current_action_updated_at,omitempty"`
	AttachmentName         *string        `db:"attachment_name" json:"attachment_name,omitempty"`
	AttachmentSize         *int64         `db:"attachment_size" json:"attachment_size,omitempty"`
	AttachmentPages        *int           `db:"attachment_pages" json:"attachment_pages,omitempty"`
	AttachmentKey          *string        `db:"attachment_key" json:"-"`
	AttachmentUploadedBy   *string        `db:"attachment_uploaded_by" json:"attachment_uploaded_by,omitempty"`
	AttachmentUploadedAt   *time.Time     `db:"attachment_uploaded_at" json:"attachment_uploaded_at,omitempty"`
	DateOfCompletion       *time.Time     `db:"date_of_completion" json:"date_of_completion,omitempty"`
	LastStatusChange       time.Time      `db:"last_status_change" json:"last_status_change"`
	CreatedAt              time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at" json:"updated_at"`

	// Embedded on detail reads only.
	Assignments []Assignment `db:"-" json:"assignments,omitempty"`

	// Derived fields, filled by Decorate.
	CurrentHandlers        []UserRef `db:"-" json:"current_handlers"`
	CurrentHandlersDisplay string    `db:"-" json:"current_handlers_display"`
	AssigneeCount          int       `db:"-" json:"assignee_count"`
	IsOverdue              bool      `db:"-" json:"is_overdue"`
	TimeInStage            string    `db:"-" json:"time_in_stage"`
}

// UserRef names a user without exposing the full profile.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IsClosed reports whether the record is closed.
func (m *MailRecord) IsClosed() bool {
	return m != nil && m.Status == MailClosed
}

// ActiveAssignments returns the embedded assignments that are still Active.
func (m *MailRecord) ActiveAssignments() []Assignment {
	if m == nil {
		return nil
	}
	active := make([]Assignment, 0, len(m.Assignments))
	for _, a := range m.Assignments {
		if a.Status == AssignmentActive {
			active = append(active, a)
		}
	}
	return active
}

// HandlerIDs lists the users currently responsible for the mail. For
// multi-assigned mail these are the assignees of Active assignments.
func (m *MailRecord) HandlerIDs() []string {
	if m == nil {
		return nil
	}
	if m.IsMultiAssigned {
		active := m.ActiveAssignments()
		if len(active) > 0 {
			ids := make([]string, 0, len(active))
			for _, a := range active {
				ids = append(ids, a.AssignedToID)
			}
			return ids
		}
	}
	if m.CurrentHandlerID == "" {
		return nil
	}
	return []string{m.CurrentHandlerID}
}

// Decorate computes the derived read-only fields relative to now.
func (m *MailRecord) Decorate(now time.Time) {
	if m == nil {
		return
	}
	m.CurrentHandlers = m.CurrentHandlers[:0]
	if active := m.ActiveAssignments(); m.IsMultiAssigned && len(active) > 0 {
		sort.SliceStable(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
		for _, a := range active {
			m.CurrentHandlers = append(m.CurrentHandlers, UserRef{ID: a.AssignedToID, Name: a.AssignedToName})
		}
	} else if m.CurrentHandlerID != "" {
		m.CurrentHandlers = append(m.CurrentHandlers, UserRef{ID: m.CurrentHandlerID, Name: m.CurrentHandlerName})
	}
	names := make([]string, 0, len(m.CurrentHandlers))
	for _, h := range m.CurrentHandlers {
		names = append(names, h.Name)
	}
	m.CurrentHandlersDisplay = strings.Join(names, ", ")
	m.AssigneeCount = len(m.CurrentHandlers)
	m.IsOverdue = IsOverdue(m.Status, m.DueDate, now)
	m.TimeInStage = TimeInStage(m, now)
}

// IsOverdue reports whether an open mail is past its due date.
func IsOverdue(status MailStatus, due time.Time, now time.Time) bool {
	if status == MailClosed || due.IsZero() {
		return false
	}
	y, mo, d := now.Date()
	today := time.Date(y, mo, d, 0, 0, 0, 0, now.Location())
	dy, dmo, dd := due.Date()
	dueDay := time.Date(dy, dmo, dd, 0, 0, 0, 0, now.Location())
	return today.After(dueDay)
}

// TimeInStage renders the time spent in the current stage. Closed mail
// reports total processing time from creation to completion.
func TimeInStage(m *MailRecord, now time.Time) string {
	start, end := m.LastStatusChange, now
	if m.Status == MailClosed && m.DateOfCompletion != nil {
		start, end = m.CreatedAt, *m.DateOfCompletion
	}
	if start.IsZero() || end.Before(start) {
		return "0 mins"
	}
	delta := end.Sub(start)
	days := int(delta.Hours()) / 24
	hours := int(delta.Hours()) % 24
	mins := int(delta.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%d days %d hours", days, hours)
	case hours > 0:
		return fmt.Sprintf("%d hours %d mins", hours, mins)
	default:
		return fmt.Sprintf("%d mins", mins)
	}
}

// MailScope narrows a listing to a user-relative slice.
type MailScope string

const (
	ScopeAll         MailScope = ""
	ScopeAssigned    MailScope = "assigned"
	ScopeCreatedByMe MailScope = "created_by_me"
	ScopeClosed      MailScope = "closed"
)

// MailFilter captures list criteria for mail records.
type MailFilter struct {
	Status    *MailStatus
	SectionID string
	Overdue   bool
	Scope     MailScope
	Search    string
	Page      int
	PageSize  int
}
