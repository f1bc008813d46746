package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mahaj/whisper/pkg/auth"
	"github.com/mahaj/whisper/pkg/chat"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and remember the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return authenticate(cmd, (*chat.Client).Login)
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and log in",
	RunE: func(cmd *cobra.Command, args []string) error {
		return authenticate(cmd, (*chat.Client).Register)
	},
}

func authenticate(cmd *cobra.Command, op func(*chat.Client, context.Context, string, string) error) error {
	if flagUsername == "" {
		return errors.New("--username is required")
	}
	password, err := promptPassword()
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, c *chat.Client) error {
		if err := op(c, ctx, flagUsername, password); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", c.Store.Get().Username)
		return nil
	})
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session on the server and forget it locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *chat.Client) error {
			if !c.Store.IsAuthenticated() {
				fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
				return nil
			}
			if err := c.Logout(ctx); err != nil {
				// the local session is gone either way
				fmt.Fprintf(cmd.ErrOrStderr(), "server logout failed: %v\n", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the remembered session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *chat.Client) error {
			s := c.Store.Get()
			fmt.Fprintln(cmd.OutOrStdout(), describeSession(s.Username, s.Token, time.Now()))
			return nil
		})
	},
}

// describeSession reports the user and the token expiry as read from the
// unverified claims.
func describeSession(username, token string, now time.Time) string {
	if token == "" {
		return "not logged in"
	}
	claims, err := auth.Inspect(token)
	if err != nil || claims.ExpiresAt == nil {
		return fmt.Sprintf("%s (token unreadable)", username)
	}
	exp := claims.ExpiresAt.Time
	if !exp.After(now) {
		return fmt.Sprintf("%s (token expired %s)", username, exp.Format(time.RFC1123))
	}
	return fmt.Sprintf("%s (token valid until %s)", username, exp.Format(time.RFC1123))
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join the room",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *chat.Client) error {
			if err := c.Start(ctx); err != nil {
				if errors.Is(err, chat.ErrNotAuthenticated) {
					return errors.New("not logged in, run whisper login first")
				}
				return err
			}
			return runRoom(ctx, c, cmd.InOrStdin(), cmd.OutOrStdout())
		})
	},
}
