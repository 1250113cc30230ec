package timeline

import (
	"regexp"
	"strings"
	"time"

	"github.com/noah-isme/mailtrack-api/internal/models"
)

var reassignMarker = regexp.MustCompile(`^Reassigned to\s+(.+?):\s*(.*)$`)

// LegacyRemark is a free-text remark from systems that encoded reassignment
// as a "Reassigned to NAME: reason" prefix.
type LegacyRemark struct {
	ID        string
	Content   string
	AuthorID  string
	Author    string
	CreatedAt time.Time
}

// ParseLegacy converts legacy remarks into typed events for import. Matching
// remarks become REASSIGN events carrying the target name; the caller resolves
// the name to a user id when it can.
func ParseLegacy(assignmentID string, remarks []LegacyRemark) []models.AssignmentEvent {
	events := make([]models.AssignmentEvent, 0, len(remarks))
	for i, r := range remarks {
		e := models.AssignmentEvent{
			ID:           r.ID,
			AssignmentID: assignmentID,
			Seq:          int64(i + 1),
			Kind:         models.EventRemark,
			Content:      r.Content,
			AuthorID:     r.AuthorID,
			AuthorName:   r.Author,
			CreatedAt:    r.CreatedAt,
		}
		if m := reassignMarker.FindStringSubmatch(strings.TrimSpace(r.Content)); m != nil {
			target := strings.TrimSpace(m[1])
			e.Kind = models.EventReassign
			e.TargetUserName = &target
			e.Content = strings.TrimSpace(m[2])
		}
		events = append(events, e)
	}
	return events
}
