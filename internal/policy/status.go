package policy

import "github.com/noah-isme/mailtrack-api/internal/models"

// DeriveMailStatus aggregates assignment states into the mail status.
//
// Closed is sticky. Any Completed assignment, or an Active one with at least
// one remark or reassignment, means work is In Progress. Untouched Active
// assignments mean Assigned. With no assignments the stored status stands.
func DeriveMailStatus(current models.MailStatus, assignments []models.Assignment) models.MailStatus {
	if current == models.MailClosed {
		return current
	}
	if len(assignments) == 0 {
		return current
	}
	hasActive := false
	for _, a := range assignments {
		switch a.Status {
		case models.AssignmentCompleted:
			return models.MailInProgress
		case models.AssignmentActive:
			hasActive = true
			if len(a.Events) > 0 {
				return models.MailInProgress
			}
		}
	}
	if hasActive {
		if current == models.MailInProgress {
			return current
		}
		return models.MailAssigned
	}
	return current
}
