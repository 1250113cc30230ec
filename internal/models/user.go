package models

import (
	"time"

	"github.com/lib/pq"
)

// UserRole represents the office roles known to the permission model.
type UserRole string

const (
	RoleAG      UserRole = "AG"
	RoleDAG     UserRole = "DAG"
	RoleSrAO    UserRole = "SrAO"
	RoleAAO     UserRole = "AAO"
	RoleAuditor UserRole = "auditor"
	RoleClerk   UserRole = "clerk"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAG, RoleDAG, RoleSrAO, RoleAAO, RoleAuditor, RoleClerk:
		return true
	}
	return false
}

// User represents an application user stored in the users table.
//
// SectionID and the name columns are joined from subsections/sections.
// ManagedSections is only populated for DAG users and AuditorSubsections only
// for auditors.
type User struct {
	ID                 string         `db:"id" json:"id"`
	Email              string         `db:"email" json:"email"`
	PasswordHash       string         `db:"password_hash" json:"-"`
	FullName           string         `db:"full_name" json:"full_name"`
	Role               UserRole       `db:"role" json:"role"`
	SubsectionID       *string        `db:"subsection_id" json:"subsection_id,omitempty"`
	SubsectionName     *string        `db:"subsection_name" json:"subsection_name,omitempty"`
	SectionID          *string        `db:"section_id" json:"section_id,omitempty"`
	SectionName        *string        `db:"section_name" json:"section_name,omitempty"`
	ManagedSections    pq.StringArray `db:"managed_sections" json:"managed_sections,omitempty"`
	AuditorSubsections pq.StringArray `db:"auditor_subsections" json:"auditor_subsections,omitempty"`
	Active             bool           `db:"active" json:"active"`
	LastLogin          *time.Time     `db:"last_login" json:"last_login,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// UserSummary is the minimal directory entry used by pickers.
type UserSummary struct {
	ID             string   `json:"id"`
	FullName       string   `json:"full_name"`
	Role           UserRole `json:"role"`
	SubsectionName string   `json:"subsection_name,omitempty"`
	SectionName    string   `json:"section_name,omitempty"`
}

// Summary projects the user into a UserSummary.
func (u User) Summary() UserSummary {
	s := UserSummary{ID: u.ID, FullName: u.FullName, Role: u.Role}
	if u.SubsectionName != nil {
		s.SubsectionName = *u.SubsectionName
	}
	if u.SectionName != nil {
		s.SectionName = *u.SectionName
	}
	return s
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	SectionID string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
