package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/missionlog/internal/projection"
)

// --- login ---

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session tokens",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")

		in := bufio.NewReader(cmd.InOrStdin())
		var err error
		if username == "" {
			if username, err = prompt(in, "Username: "); err != nil {
				return err
			}
		}
		if password == "" {
			if password, err = prompt(in, "Password: "); err != nil {
				return err
			}
		}

		tokens, err := a.transport.Login(ctx, username, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if err := a.session.Authenticate(tokens.Access, tokens.Refresh); err != nil {
			return fmt.Errorf("storing tokens: %w", err)
		}
		printSuccess("Logged in as %s", username)
		return nil
	}),
}

func prompt(in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(stderr, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(strings.TrimSuffix(label, ": ")), err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	loginCmd.Flags().StringP("username", "u", "", "account username (prompted if empty)")
	loginCmd.Flags().StringP("password", "p", "", "account password (read from stdin if empty)")
}

// --- logout ---

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the refresh token and forget the session",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		if err := a.transport.Logout(ctx); err != nil {
			return fmt.Errorf("clearing credentials: %w", err)
		}
		printSuccess("Logged out")
		return nil
	}),
}

// --- whoami ---

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	Args:  cobra.NoArgs,
	RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		me, err := a.progress.Me(ctx)
		if err != nil {
			return err
		}
		p := me.Profile
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s)\n", me.Username, orDash(p.DisplayName))
		fmt.Fprintf(out, "  Level:  %d %s\n", p.CurrentLevel, projection.LevelName(p.CurrentLevel))
		fmt.Fprintf(out, "  XP:     %d\n", p.TotalXP)
		fmt.Fprintf(out, "  Streak: %d (best %d)\n", p.CurrentStreak, p.LongestStreak)
		if p.JourneyTitle != "" {
			fmt.Fprintf(out, "  Journey: %s\n", p.JourneyTitle)
		}
		return nil
	}),
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
