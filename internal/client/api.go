package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/service"
)

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, invalid("email", "email and password are required")
	}
	var res models.LoginResponse
	if _, err := c.call(ctx, http.MethodPost, "/auth/login", nil, models.LoginRequest{Email: email, Password: password}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Logout revokes a refresh token.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	_, err := c.call(ctx, http.MethodPost, "/auth/logout", nil, map[string]string{"refresh_token": refreshToken}, nil)
	return err
}

// Me returns the caller's profile and scope.
func (c *Client) Me(ctx context.Context) (*models.UserInfo, error) {
	var info models.UserInfo
	if _, err := c.call(ctx, http.MethodGet, "/users/me", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Candidates lists the users the caller may assign work to.
func (c *Client) Candidates(ctx context.Context, mailID string, allowSelf bool) ([]models.UserSummary, error) {
	query := url.Values{}
	if mailID != "" {
		query.Set("mail_id", mailID)
	}
	if allowSelf {
		query.Set("allow_self", "true")
	}
	var users []models.UserSummary
	if _, err := c.call(ctx, http.MethodGet, "/users/candidates", query, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Sections lists the office sections.
func (c *Client) Sections(ctx context.Context) ([]models.Section, error) {
	var sections []models.Section
	if _, err := c.call(ctx, http.MethodGet, "/sections", nil, nil, &sections); err != nil {
		return nil, err
	}
	return sections, nil
}

// ListOptions filters a mail listing.
type ListOptions struct {
	Status    string
	SectionID string
	Overdue   bool
	Scope     string
	Search    string
	Page      int
	PageSize  int
}

func (o ListOptions) values() url.Values {
	query := url.Values{}
	set := func(key, value string) {
		if value != "" {
			query.Set(key, value)
		}
	}
	set("status", o.Status)
	set("section_id", o.SectionID)
	set("scope", o.Scope)
	set("search", o.Search)
	if o.Overdue {
		query.Set("overdue", "true")
	}
	if o.Page > 0 {
		query.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(o.PageSize))
	}
	return query
}

// ListMails returns one page of visible mail. The page is nil when the server
// answered with a flat array.
func (c *Client) ListMails(ctx context.Context, opts ListOptions) ([]models.MailRecord, *Page, error) {
	var mails []models.MailRecord
	page, err := c.call(ctx, http.MethodGet, "/mails", opts.values(), nil, &mails)
	if err != nil {
		return nil, nil, err
	}
	return mails, page, nil
}

// GetMail loads one mail with its embedded assignments.
func (c *Client) GetMail(ctx context.Context, id string) (*models.MailRecord, error) {
	var mail models.MailRecord
	if _, err := c.call(ctx, http.MethodGet, "/mails/"+url.PathEscape(id), nil, nil, &mail); err != nil {
		return nil, err
	}
	return &mail, nil
}

// AuditTrail loads the audit entries of a mail.
func (c *Client) AuditTrail(ctx context.Context, mailID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	if _, err := c.call(ctx, http.MethodGet, "/audit", url.Values{"mail_id": {mailID}}, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Timeline loads both timeline views of a mail.
func (c *Client) Timeline(ctx context.Context, mailID string) (*service.MailTimeline, error) {
	var tl service.MailTimeline
	if _, err := c.call(ctx, http.MethodGet, "/mails/"+url.PathEscape(mailID)+"/timeline", nil, nil, &tl); err != nil {
		return nil, err
	}
	return &tl, nil
}

// MailDetail is the authoritative state of one mail as shown to a user.
type MailDetail struct {
	Mail  *models.MailRecord
	Audit []models.AuditEntry
}

// LoadDetail fetches the mail and its audit trail concurrently. Either
// failure fails the whole load; nothing partial is returned.
func (c *Client) LoadDetail(ctx context.Context, mailID string) (*MailDetail, error) {
	g, gctx := errgroup.WithContext(ctx)
	detail := &MailDetail{}
	g.Go(func() error {
		mail, err := c.GetMail(gctx, mailID)
		if err != nil {
			return err
		}
		detail.Mail = mail
		return nil
	})
	g.Go(func() error {
		entries, err := c.AuditTrail(gctx, mailID)
		if err != nil {
			return err
		}
		detail.Audit = entries
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return detail, nil
}

// reloadAfter runs a mutation and then reloads the mail it touched.
func (c *Client) reloadAfter(ctx context.Context, mailID string, mutate func() error) (*MailDetail, error) {
	if err := mutate(); err != nil {
		return nil, err
	}
	return c.LoadDetail(ctx, mailID)
}

func requireRemarks(remarks string) error {
	if strings.TrimSpace(remarks) == "" {
		return invalid("remarks", "remarks are required")
	}
	return nil
}

func (c *Client) mailAction(ctx context.Context, method, mailID, action string, body interface{}) (*MailDetail, error) {
	path := "/mails/" + url.PathEscape(mailID)
	if action != "" {
		path += "/" + action
	}
	return c.reloadAfter(ctx, mailID, func() error {
		_, err := c.call(ctx, method, path, nil, body, &struct{}{})
		return err
	})
}

// CreateMail registers a mail.
func (c *Client) CreateMail(ctx context.Context, req service.CreateMailRequest) (*models.MailRecord, error) {
	switch {
	case strings.TrimSpace(req.LetterNo) == "":
		return nil, invalid("letter_no", "letter number is required")
	case strings.TrimSpace(req.Subject) == "":
		return nil, invalid("subject", "subject is required")
	case req.SectionID == "":
		return nil, invalid("section_id", "section is required")
	case req.AssignedTo == "":
		return nil, invalid("assigned_to", "assignee is required")
	}
	var mail models.MailRecord
	if _, err := c.call(ctx, http.MethodPost, "/mails", nil, req, &mail); err != nil {
		return nil, err
	}
	return &mail, nil
}

// UpdateRemarks replaces the handler's remarks.
func (c *Client) UpdateRemarks(ctx context.Context, mailID, remarks string) (*MailDetail, error) {
	return c.mailAction(ctx, http.MethodPatch, mailID, "", service.UpdateRemarksRequest{Remarks: remarks})
}

// ReassignMail moves a single-handler mail.
func (c *Client) ReassignMail(ctx context.Context, mailID, newHandlerID, remarks string) (*MailDetail, error) {
	if newHandlerID == "" {
		return nil, invalid("new_handler", "choose a user to reassign to")
	}
	if err := requireRemarks(remarks); err != nil {
		return nil, err
	}
	return c.mailAction(ctx, http.MethodPost, mailID, "reassign", service.MailReassignRequest{NewHandlerID: newHandlerID, Remarks: remarks})
}

// CloseMail closes a mail with final remarks.
func (c *Client) CloseMail(ctx context.Context, mailID, remarks string) (*MailDetail, error) {
	if err := requireRemarks(remarks); err != nil {
		return nil, err
	}
	return c.mailAction(ctx, http.MethodPost, mailID, "close", service.RemarksRequest{Remarks: remarks})
}

// ReopenMail reopens a closed mail.
func (c *Client) ReopenMail(ctx context.Context, mailID, remarks string) (*MailDetail, error) {
	if err := requireRemarks(remarks); err != nil {
		return nil, err
	}
	return c.mailAction(ctx, http.MethodPost, mailID, "reopen", service.RemarksRequest{Remarks: remarks})
}

// UpdateCurrentAction records what the handler is doing.
func (c *Client) UpdateCurrentAction(ctx context.Context, mailID, status, remarks string) (*MailDetail, error) {
	if strings.TrimSpace(status) == "" {
		return nil, invalid("status", "current action is required")
	}
	return c.mailAction(ctx, http.MethodPut, mailID, "current-action", service.CurrentActionRequest{Status: status, Remarks: remarks})
}

// MultiAssign hands the mail to several users at once.
func (c *Client) MultiAssign(ctx context.Context, mailID string, userIDs []string, remarks string) (*MailDetail, error) {
	if len(userIDs) == 0 {
		return nil, invalid("user_ids", "select at least one user")
	}
	if err := requireRemarks(remarks); err != nil {
		return nil, err
	}
	return c.mailAction(ctx, http.MethodPost, mailID, "multi-assign", service.MultiAssignRequest{UserIDs: userIDs, Remarks: remarks})
}

func (c *Client) assignmentAction(ctx context.Context, mailID, assignmentID, action string, body interface{}) (*MailDetail, error) {
	return c.reloadAfter(ctx, mailID, func() error {
		_, err := c.call(ctx, http.MethodPost, "/assignments/"+url.PathEscape(assignmentID)+"/"+action, nil, body, &struct{}{})
		return err
	})
}

// AddRemark appends a note to an assignment. mailID names the record to reload.
func (c *Client) AddRemark(ctx context.Context, mailID, assignmentID, content string) (*MailDetail, error) {
	if strings.TrimSpace(content) == "" {
		return nil, invalid("content", "remark is required")
	}
	return c.assignmentAction(ctx, mailID, assignmentID, "remarks", service.AddRemarkRequest{Content: content})
}

// CompleteAssignment finishes an assignment; remarks may be empty when the
// timeline already holds a remark.
func (c *Client) CompleteAssignment(ctx context.Context, mailID, assignmentID, remarks string) (*MailDetail, error) {
	return c.assignmentAction(ctx, mailID, assignmentID, "complete", service.CompleteAssignmentRequest{Remarks: remarks})
}

// ReassignAssignment hands an assignment to another user.
func (c *Client) ReassignAssignment(ctx context.Context, mailID, assignmentID, newAssigneeID, reason string) (*MailDetail, error) {
	if newAssigneeID == "" {
		return nil, invalid("new_assignee", "choose a user to reassign to")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, invalid("remarks", "a reason for the reassignment is required")
	}
	return c.assignmentAction(ctx, mailID, assignmentID, "reassign", service.ReassignAssignmentRequest{NewAssigneeID: newAssigneeID, Remarks: reason})
}

// RevokeAssignment withdraws an assignment.
func (c *Client) RevokeAssignment(ctx context.Context, mailID, assignmentID, reason string) (*MailDetail, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, invalid("remarks", "a reason for revoking is required")
	}
	return c.assignmentAction(ctx, mailID, assignmentID, "revoke", service.RemarksRequest{Remarks: reason})
}
