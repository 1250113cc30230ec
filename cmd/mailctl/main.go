package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/noah-isme/mailtrack-api/internal/client"
)

var rootCmd = &cobra.Command{
	Use:           "mailctl",
	Short:         "Mail tracking command line client",
	Long:          "mailctl records, assigns and follows office correspondence through the mail tracking API.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", client.Message(err))
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MAILCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "mailctl", "session.yaml")
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8080/api/v1", "API base URL including prefix")
	flags.String("session", defaultSessionPath(), "session file")
	flags.Duration("timeout", 30*time.Second, "HTTP timeout")
	flags.Bool("json", false, "output JSON")
	_ = viper.BindPFlag("server", flags.Lookup("server"))
	_ = viper.BindPFlag("session", flags.Lookup("session"))
	_ = viper.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(candidatesCmd())
	rootCmd.AddCommand(mailCmd())
	rootCmd.AddCommand(assignmentCmd())
}

var errNotSignedIn = &client.ValidationError{Field: "session", Message: "not signed in, run 'mailctl login' first"}

// withSession loads the saved session and runs fn with a client bound to it.
func withSession(ctx context.Context, fn func(ctx context.Context, s *client.Session, c *client.Client) error) error {
	s, err := client.LoadSession(viper.GetString("session"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errNotSignedIn
		}
		return err
	}
	if s.AccessToken == "" {
		return errNotSignedIn
	}
	return fn(ctx, s, s.Client(viper.GetDuration("timeout")))
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = viper.GetString("password")
			}
			server := viper.GetString("server")
			c := client.New(client.Config{BaseURL: server, Timeout: viper.GetDuration("timeout")})
			res, err := c.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			me, err := c.WithToken(res.AccessToken).Me(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.NewSession(server, res, me).Save(viper.GetString("session")); err != nil {
				return err
			}
			fmt.Printf("signed in as %s (%s)\n", me.FullName, me.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "password (or MAILCTL_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget it",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("session")
			err := withSession(cmd.Context(), func(ctx context.Context, s *client.Session, c *client.Client) error {
				return c.Logout(ctx, s.RefreshToken)
			})
			if err != nil && !errors.Is(err, errNotSignedIn) {
				fmt.Fprintln(os.Stderr, "warning:", client.Message(err))
			}
			return client.ClearSession(path)
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *client.Session, c *client.Client) error {
				me, err := c.Me(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(me)
				}
				printUser(os.Stdout, me)
				return nil
			})
		},
	}
}

func candidatesCmd() *cobra.Command {
	var mailID string
	var allowSelf bool
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List users you may assign work to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *client.Session, c *client.Client) error {
				users, err := c.Candidates(ctx, mailID, allowSelf)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				printCandidates(os.Stdout, users)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mailID, "mail", "", "exclude users already active on this mail")
	cmd.Flags().BoolVar(&allowSelf, "allow-self", false, "include yourself")
	return cmd
}
