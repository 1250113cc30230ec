package policy

import (
	"slices"

	"github.com/noah-isme/mailtrack-api/internal/models"
)

// CandidateOptions tunes FilterCandidates.
type CandidateOptions struct {
	// AllowSelf keeps the acting user in the result (AG/DAG creation flow).
	AllowSelf bool
}

// FilterCandidates narrows a user directory to the users the actor may assign
// work to. Inactive users are always dropped.
//
//	AG               everyone
//	DAG              users whose subsection sits in a managed section,
//	                 plus DAGs sharing a managed section
//	SrAO, AAO, clerk users in the same subsection
//	auditor          users in an allow-listed subsection
func FilterCandidates(actor *Actor, users []models.User, opts CandidateOptions) []models.User {
	if actor == nil {
		return nil
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if !u.Active {
			continue
		}
		if u.ID == actor.UserID {
			if opts.AllowSelf && (actor.is(models.RoleAG) || actor.is(models.RoleDAG)) {
				out = append(out, u)
			}
			continue
		}
		if candidate(actor, u) {
			out = append(out, u)
		}
	}
	return out
}

func candidate(actor *Actor, u models.User) bool {
	switch actor.Role {
	case models.RoleAG:
		return true
	case models.RoleDAG:
		if u.SectionID != nil && actor.Manages(*u.SectionID) {
			return true
		}
		if u.Role == models.RoleDAG {
			for _, s := range u.ManagedSections {
				if actor.Manages(s) {
					return true
				}
			}
		}
		return false
	case models.RoleAuditor:
		return u.SubsectionID != nil && slices.Contains(actor.AuditorSubsections, *u.SubsectionID)
	case models.RoleSrAO, models.RoleAAO, models.RoleClerk:
		return actor.SubsectionID != "" && u.SubsectionID != nil && *u.SubsectionID == actor.SubsectionID
	}
	return false
}
