package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/noah-isme/mailtrack-api/internal/client"
	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/service"
)

func mailCmd() *cobra.Command {
	mail := &cobra.Command{Use: "mail", Short: "Work with mail records"}
	mail.AddCommand(mailListCmd())
	mail.AddCommand(mailShowCmd())
	mail.AddCommand(mailCreateCmd())
	mail.AddCommand(mailRemarksCmd())
	mail.AddCommand(mailReassignCmd())
	mail.AddCommand(mailCloseCmd())
	mail.AddCommand(mailReopenCmd())
	mail.AddCommand(mailActionCmd())
	mail.AddCommand(mailMultiAssignCmd())
	return mail
}

func mailListCmd() *cobra.Command {
	var opts client.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible mail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *client.Session, c *client.Client) error {
				mails, page, err := c.ListMails(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(mails)
				}
				printMailList(os.Stdout, mails, page)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "Received | Assigned | In Progress | Closed")
	cmd.Flags().StringVar(&opts.SectionID, "section", "", "section id")
	cmd.Flags().BoolVar(&opts.Overdue, "overdue", false, "only overdue mail")
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "assigned | created_by_me | closed")
	cmd.Flags().StringVar(&opts.Search, "search", "", "letter number or subject")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 20, "page size")
	return cmd
}

func showDetail(s *client.Session, detail *client.MailDetail) error {
	if viper.GetBool("json") {
		return printJSON(detail)
	}
	printDetail(os.Stdout, s.Actor(), detail)
	return nil
}

func mailShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show MAIL_ID",
		Short: "Show a mail, its assignments, audit trail and your available actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *client.Session, c *client.Client) error {
				detail, err := c.LoadDetail(ctx, args[0])
				if err != nil {
					return err
				}
				return showDetail(s, detail)
			})
		},
	}
}

func mailCreateCmd() *cobra.Command {
	var req service.CreateMailRequest
	var action string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register incoming mail",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ActionRequired = models.ActionRequired(action)
			return withSession(cmd.Context(), func(ctx context.Context, s *client.Session, c *client.Client) error {
				mail, err := c.CreateMail(ctx, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(mail)
				}
				fmt.Printf("registered %s (%s)\n", mail.SerialNo, mail.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.LetterNo, "letter-no", "", "letter number")
	f.StringVar(&req.Subject, "subject", "", "subject")
	f.StringVar(&req.FromOffice, "from", "", "sending office")
	f.StringVar(&req.DateReceived, "received", "", "date received (YYYY-MM-DD)")
	f.StringVar(&req.DueDate, "due", "", "due date (YYYY-MM-DD)")
	f.StringVar(&action, "action", "Review", "Review | Approve | Process | File | Reply | Other")
	f.StringVar(&req.ActionRequiredOther, "action-other", "", "action text when --action Other")
	f.StringVar(&req.SectionID, "section", "", "section id")
	f.StringVar(&req.AssignedTo, "assign-to", "", "first handler user id")
	f.StringVar(&req.Remarks, "remarks", "", "initial remarks")
	return cmd
}

// mutationCmd builds a command that runs one mutation and prints the
// reloaded detail.
func mutationCmd(use, short string, args cobra.PositionalArgs, run func(ctx context.Context, c *client.Client, args []string) (*client.MailDetail, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *client.Session, c *client.Client) error {
				detail, err := run(ctx, c, argv)
				if err != nil {
					return err
				}
				return showDetail(s, detail)
			})
		},
	}
}

func mailRemarksCmd() *cobra.Command {
	var text string
	cmd := mutationCmd("remarks MAIL_ID", "Replace the working remarks", cobra.ExactArgs(1),
		func(ctx context.Context, c *client.Client, args []string) (*client.MailDetail, error) {
			return c.UpdateRemarks(ctx, args[0], text)
		})
	cmd.Flags().StringVar(&text, "text", "", "remarks")
	return cmd
}

func mailReassignCmd() *cobra.Command {
	var to, remarks string
	cmd := mutationCmd("reassign MAIL_ID", "Move the mail to another handler", cobra.ExactArgs(1),
		func(ctx context.Context, c *client.Client, args []string) (*client.MailDetail, error) {
			return c.ReassignMail(ctx, args[0], to, remarks)
		})
	cmd.Flags().StringVar(&to, "to", "", "new handler user id")
	cmd.Flags().StringVar(&remarks, "remarks", "", "reason")
	return cmd
}

func mailCloseCmd() *cobra.Command {
	var remarks string
	cmd := mutationCmd("close MAIL_ID", "Close the mail with final remarks", cobra.ExactArgs(1),
		func(ctx context.Context, c *client.Client, args []string) (*client.MailDetail, error) {
			return c.CloseMail(ctx, args[0], remarks)
		})
	cmd.Flags().StringVar(&remarks, "remarks", "", "final remarks")
	return cmd
}

func mailReopenCmd() *cobra.Command {
	var remarks string
	cmd := mutationCmd("reopen MAIL_ID", "Reopen a closed mail (AG)", cobra.ExactArgs(1),
		func(ctx context.Context, c *client.Client, args []string) (*client.MailDetail, error) {
			return c.ReopenMail(ctx, args[0], remarks)
		})
	cmd.Flags().StringVar(&remarks, "remarks", "", "reason for reopening")
	return cmd
}

func mailActionCmd() *cobra.Command {
	var status, remarks string
	cmd := mutationCmd("action MAIL_ID", "Record the current action", cobra.ExactArgs(1),
		func(ctx context.Context, c *client.Client, args []string) (*client.MailDetail, error) {
			return c.UpdateCurrentAction(ctx, args[0], status, remarks)
		})
	cmd.Flags().StringVar(&status, "status", "", "what is being done")
	cmd.Flags().StringVar(&remarks, "remarks", "", "notes")
	return cmd
}

func mailMultiAssignCmd() *cobra.Command {
	var users []string
	var remarks string
	cmd := mutationCmd("multi-assign MAIL_ID", "Assign the mail to several users", cobra.ExactArgs(1),
		func(ctx context.Context, c *client.Client, args []string) (*client.MailDetail, error) {
			return c.MultiAssign(ctx, args[0], users, remarks)
		})
	cmd.Flags().StringSliceVar(&users, "users", nil, "comma separated user ids")
	cmd.Flags().StringVar(&remarks, "remarks", "", "instructions")
	return cmd
}

func assignmentCmd() *cobra.Command {
	asg := &cobra.Command{Use: "assignment", Short: "Work on assignments"}

	var remark string
	remarkCmd := mutationCmd("remark MAIL_ID ASSIGNMENT_ID", "Add a remark", cobra.ExactArgs(2),
		func(ctx context.Context, c *client.Client, args []string) (*client.MailDetail, error) {
			return c.AddRemark(ctx, args[0], args[1], remark)
		})
	remarkCmd.Flags().StringVar(&remark, "text", "", "remark")

	var closing string
	completeCmd := mutationCmd("complete MAIL_ID ASSIGNMENT_ID", "Complete your assignment", cobra.ExactArgs(2),
		func(ctx context.Context, c *client.Client, args []string) (*client.MailDetail, error) {
			return c.CompleteAssignment(ctx, args[0], args[1], closing)
		})
	completeCmd.Flags().StringVar(&closing, "remarks", "", "closing remark")

	var to, reason string
	reassignCmd := mutationCmd("reassign MAIL_ID ASSIGNMENT_ID", "Hand the assignment to someone else", cobra.ExactArgs(2),
		func(ctx context.Context, c *client.Client, args []string) (*client.MailDetail, error) {
			return c.ReassignAssignment(ctx, args[0], args[1], to, reason)
		})
	reassignCmd.Flags().StringVar(&to, "to", "", "new assignee user id")
	reassignCmd.Flags().StringVar(&reason, "reason", "", "reason")

	var revokeReason string
	revokeCmd := mutationCmd("revoke MAIL_ID ASSIGNMENT_ID", "Revoke an assignment you supervise", cobra.ExactArgs(2),
		func(ctx context.Context, c *client.Client, args []string) (*client.MailDetail, error) {
			return c.RevokeAssignment(ctx, args[0], args[1], revokeReason)
		})
	revokeCmd.Flags().StringVar(&revokeReason, "reason", "", "reason")

	asg.AddCommand(remarkCmd, completeCmd, reassignCmd, revokeCmd)
	return asg
}
