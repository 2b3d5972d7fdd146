//go:build dev

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/aspect-build/listbridge/internal/server"
	"github.com/aspect-build/listbridge/internal/server/session"
	"github.com/spf13/cobra"
)

func init() {
	devCommands = append(devCommands, newDevSessionCmd())
}

func newDevSessionCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dev-session",
		Short: "[dev] Issue a session for a user and print the cookie",
		Long: `Create a login session directly in the database and print the cookie
to send with API requests.

NOTE: This command is only available in dev builds (go build -tags dev).
In production, sessions are issued through POST /v1/sessions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			user, err := store.GetUser(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("user %s not found", userID)
			}

			sess, err := session.Start(cmd.Context(), store, user, ttl, time.Now())
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Session for %s (%s), expires %s\n", user.Email, user.Role, sess.ExpiresAt.Format(time.RFC3339))
			fmt.Fprintf(os.Stderr, "\n")
			fmt.Fprintf(os.Stderr, "Use it with:\n")
			fmt.Fprintf(os.Stderr, "  curl -b '%s=%s' $SERVER/v1/config\n", session.CookieName, sess.ID)
			fmt.Printf("%s=%s\n", session.CookieName, sess.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", server.DefaultSessionTTL, "Session lifetime")
	cmd.MarkFlagRequired("user")
	return cmd
}
