// Package policy holds the permission model for mail records and their
// assignments. Every function is pure: callers pass the acting user and the
// current state, and receive an allow/deny Decision with a reason code.
package policy

import (
	"slices"

	"github.com/noah-isme/mailtrack-api/internal/models"
)

// Actor is the explicit session context a decision is made for.
type Actor struct {
	UserID             string
	Role               models.UserRole
	SubsectionID       string
	SectionID          string
	ManagedSections    []string
	AuditorSubsections []string
}

// ActorFromUser builds an Actor from a stored user row.
func ActorFromUser(u *models.User) *Actor {
	if u == nil {
		return nil
	}
	a := &Actor{
		UserID:             u.ID,
		Role:               u.Role,
		ManagedSections:    []string(u.ManagedSections),
		AuditorSubsections: []string(u.AuditorSubsections),
	}
	if u.SubsectionID != nil {
		a.SubsectionID = *u.SubsectionID
	}
	if u.SectionID != nil {
		a.SectionID = *u.SectionID
	}
	return a
}

// ActorFromInfo builds an Actor from the /users/me payload held by clients.
func ActorFromInfo(info *models.UserInfo) *Actor {
	if info == nil {
		return nil
	}
	return &Actor{
		UserID:             info.ID,
		Role:               info.Role,
		SubsectionID:       info.SubsectionID,
		SectionID:          info.SectionID,
		ManagedSections:    info.ManagedSections,
		AuditorSubsections: info.AuditorSubsections,
	}
}

func (a *Actor) is(role models.UserRole) bool {
	return a != nil && a.Role == role
}

// Manages reports whether a DAG actor manages sectionID.
func (a *Actor) Manages(sectionID string) bool {
	if a == nil || a.Role != models.RoleDAG || sectionID == "" {
		return false
	}
	return slices.Contains(a.ManagedSections, sectionID)
}

func (a *Actor) handles(mail *models.MailRecord) bool {
	return slices.Contains(mail.HandlerIDs(), a.UserID)
}

func (a *Actor) holdsActiveAssignment(mail *models.MailRecord) bool {
	for _, asg := range mail.Assignments {
		if asg.Status == models.AssignmentActive && asg.AssignedToID == a.UserID {
			return true
		}
	}
	return false
}
