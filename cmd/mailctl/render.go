package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/noah-isme/mailtrack-api/internal/client"
	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
)

const dateLayout = "2006-01-02"

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func printUser(w io.Writer, me *models.UserInfo) {
	tw := newTable(w, table.Row{"Field", "Value"})
	tw.AppendRow(table.Row{"Name", me.FullName})
	tw.AppendRow(table.Row{"Email", me.Email})
	tw.AppendRow(table.Row{"Role", me.Role})
	tw.AppendRow(table.Row{"Subsection", me.SubsectionID})
	if len(me.ManagedSections) > 0 {
		tw.AppendRow(table.Row{"Manages", strings.Join(me.ManagedSections, ", ")})
	}
	tw.Render()
}

func printCandidates(w io.Writer, users []models.UserSummary) {
	tw := newTable(w, table.Row{"ID", "Name", "Role", "Subsection", "Section"})
	for _, u := range users {
		tw.AppendRow(table.Row{u.ID, u.FullName, u.Role, u.SubsectionName, u.SectionName})
	}
	tw.Render()
}

func printMailList(w io.Writer, mails []models.MailRecord, page *client.Page) {
	tw := newTable(w, table.Row{"Sl No", "Letter No", "Subject", "Status", "Handlers", "Due", "Overdue"})
	for _, m := range mails {
		overdue := ""
		if m.IsOverdue {
			overdue = "yes"
		}
		tw.AppendRow(table.Row{m.SerialNo, m.LetterNo, truncate(m.Subject, 48), m.Status, m.CurrentHandlersDisplay, m.DueDate.Format(dateLayout), overdue})
	}
	if page != nil {
		tw.AppendFooter(table.Row{"", "", fmt.Sprintf("page %d, %d total", page.Page, page.TotalCount)})
	}
	tw.Render()
}

func printDetail(w io.Writer, actor *policy.Actor, detail *client.MailDetail) {
	m := detail.Mail
	tw := newTable(w, table.Row{"Field", "Value"})
	tw.AppendRow(table.Row{"Sl No", m.SerialNo})
	tw.AppendRow(table.Row{"Letter No", m.LetterNo})
	tw.AppendRow(table.Row{"Subject", m.Subject})
	tw.AppendRow(table.Row{"From", m.FromOffice})
	tw.AppendRow(table.Row{"Status", m.Status})
	tw.AppendRow(table.Row{"Handlers", m.CurrentHandlersDisplay})
	tw.AppendRow(table.Row{"Due", m.DueDate.Format(dateLayout)})
	tw.AppendRow(table.Row{"Time in stage", m.TimeInStage})
	if m.ConsolidatedRemarks != nil {
		tw.AppendRow(table.Row{"Consolidated", *m.ConsolidatedRemarks})
	} else if m.Remarks != nil {
		tw.AppendRow(table.Row{"Remarks", *m.Remarks})
	}
	tw.Render()

	if len(m.Assignments) > 0 {
		at := newTable(w, table.Row{"Assignment", "Assignee", "By", "Status", "Remarks", "You can"})
		for i := range m.Assignments {
			a := &m.Assignments[i]
			at.AppendRow(table.Row{a.ID, a.AssignedToName, a.AssignedByName, a.Status, len(a.Events), strings.Join(assignmentActions(actor, m, a), ", ")})
		}
		at.Render()
	}

	if len(detail.Audit) > 0 {
		ht := newTable(w, table.Row{"When", "Action", "By", "Remarks"})
		for _, e := range detail.Audit {
			ht.AppendRow(table.Row{e.CreatedAt.Format("2006-01-02 15:04"), e.Action, e.PerformedByName, truncate(e.Remarks, 60)})
		}
		ht.Render()
	}

	actions := mailActions(actor, m)
	if len(actions) == 0 {
		fmt.Fprintln(w, "No actions available.")
		return
	}
	fmt.Fprintf(w, "Available actions: %s\n", strings.Join(actions, ", "))
}

// mailActions lists the mail commands offered to actor. The server decides
// again on submit.
func mailActions(actor *policy.Actor, mail *models.MailRecord) []string {
	perms := policy.Evaluate(actor, mail)
	offered := []struct {
		name     string
		decision policy.Decision
	}{
		{"remarks", perms.EditRemarks},
		{"reassign", perms.Reassign},
		{"close", perms.Close},
		{"reopen", perms.Reopen},
		{"multi-assign", perms.MultiAssign},
		{"action", perms.UpdateCurrentAction},
	}
	out := make([]string, 0, len(offered))
	for _, o := range offered {
		if o.decision.Allowed {
			out = append(out, o.name)
		}
	}
	return out
}

func assignmentActions(actor *policy.Actor, mail *models.MailRecord, asg *models.Assignment) []string {
	perms := policy.EvaluateAssignment(actor, mail, asg)
	out := make([]string, 0, 4)
	if perms.AddRemark.Allowed {
		out = append(out, "remark")
	}
	if perms.Complete.Allowed {
		out = append(out, "complete")
	}
	if perms.Reassign.Allowed {
		out = append(out, "reassign")
	}
	if perms.Revoke.Allowed {
		out = append(out, "revoke")
	}
	return out
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
