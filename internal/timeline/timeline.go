// Package timeline reconstructs who handled an assignment chain, what they
// said and whom they handed it to, from structured assignment events.
package timeline

import (
	"sort"
	"time"

	"github.com/noah-isme/mailtrack-api/internal/models"
)

// Row is one link of a handling chain.
type Row struct {
	AssignmentID string                  `json:"assignment_id"`
	Officer      models.UserRef          `json:"officer"`
	Status       models.AssignmentStatus `json:"status"`
	Remarks      []Remark                `json:"remarks"`
	ReassignedTo *models.UserRef         `json:"reassigned_to,omitempty"`
	Reason       string                  `json:"reason,omitempty"`
	On           *time.Time              `json:"on,omitempty"`
	StillWorking bool                    `json:"still_working"`
}

// Remark is a plain note inside a row.
type Remark struct {
	Content string    `json:"content"`
	Author  string    `json:"author"`
	At      time.Time `json:"at"`
}

// Branch is the chain that started with one original assignment. A
// multi-assigned mail has one branch per original assignee.
type Branch struct {
	RootID     string `json:"root_id"`
	AssignedBy string `json:"assigned_by"`
	Rows       []Row  `json:"rows"`
}

// Build groups assignments into branches by following predecessor links.
// Assignments whose predecessor is unknown start their own branch.
func Build(assignments []models.Assignment) []Branch {
	byID := make(map[string]models.Assignment, len(assignments))
	successors := make(map[string][]models.Assignment)
	for _, a := range assignments {
		byID[a.ID] = a
	}
	var roots []models.Assignment
	for _, a := range assignments {
		if a.PredecessorID != nil {
			if _, ok := byID[*a.PredecessorID]; ok {
				successors[*a.PredecessorID] = append(successors[*a.PredecessorID], a)
				continue
			}
		}
		roots = append(roots, a)
	}
	sortByCreated(roots)

	branches := make([]Branch, 0, len(roots))
	for _, root := range roots {
		b := Branch{RootID: root.ID, AssignedBy: root.AssignedByName}
		seen := map[string]bool{}
		for cur, ok := root, true; ok && !seen[cur.ID]; {
			seen[cur.ID] = true
			b.Rows = append(b.Rows, rowFor(cur))
			next := successors[cur.ID]
			sortByCreated(next)
			ok = len(next) > 0
			if ok {
				cur = next[0]
			}
		}
		branches = append(branches, b)
	}
	return branches
}

func rowFor(a models.Assignment) Row {
	row := Row{
		AssignmentID: a.ID,
		Officer:      models.UserRef{ID: a.AssignedToID, Name: a.AssignedToName},
		Status:       a.Status,
		Remarks:      []Remark{},
	}
	events := append([]models.AssignmentEvent(nil), a.Events...)
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].Seq < events[j].Seq
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	for _, e := range events {
		switch e.Kind {
		case models.EventRemark:
			row.Remarks = append(row.Remarks, Remark{Content: e.Content, Author: e.AuthorName, At: e.CreatedAt})
		case models.EventReassign:
			ref := models.UserRef{}
			if e.TargetUserID != nil {
				ref.ID = *e.TargetUserID
			}
			if e.TargetUserName != nil {
				ref.Name = *e.TargetUserName
			}
			at := e.CreatedAt
			row.ReassignedTo = &ref
			row.Reason = e.Content
			row.On = &at
		case models.EventComplete, models.EventRevoke:
			at := e.CreatedAt
			if row.On == nil {
				row.On = &at
			}
			if e.Content != "" && row.Reason == "" {
				row.Reason = e.Content
			}
		}
	}
	if row.On == nil {
		switch {
		case a.CompletedAt != nil:
			row.On = a.CompletedAt
		case a.RevokedAt != nil:
			row.On = a.RevokedAt
		}
	}
	row.StillWorking = a.Status == models.AssignmentActive && len(events) == 0
	return row
}

// Entry is one line of the flat assignment list view.
type Entry struct {
	AssignmentID string                  `json:"assignment_id"`
	Officer      models.UserRef          `json:"officer"`
	AssignedBy   models.UserRef          `json:"assigned_by"`
	Status       models.AssignmentStatus `json:"status"`
	Instructions string                  `json:"instructions"`
	RemarkCount  int                     `json:"remark_count"`
	LastRemark   string                  `json:"last_remark,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
}

// Flat lists assignments newest first without chain grouping.
func Flat(assignments []models.Assignment) []Entry {
	sorted := append([]models.Assignment(nil), assignments...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	out := make([]Entry, 0, len(sorted))
	for _, a := range sorted {
		e := Entry{
			AssignmentID: a.ID,
			Officer:      models.UserRef{ID: a.AssignedToID, Name: a.AssignedToName},
			AssignedBy:   models.UserRef{ID: a.AssignedByID, Name: a.AssignedByName},
			Status:       a.Status,
			Instructions: a.AssignmentRemarks,
			RemarkCount:  a.RemarkCount(),
			CreatedAt:    a.CreatedAt,
		}
		for i := len(a.Events) - 1; i >= 0; i-- {
			if a.Events[i].Kind == models.EventRemark {
				e.LastRemark = a.Events[i].Content
				break
			}
		}
		out = append(out, e)
	}
	return out
}

func sortByCreated(list []models.Assignment) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
}
