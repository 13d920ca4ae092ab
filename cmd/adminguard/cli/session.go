package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions"},
		Short:   "Inspect and invalidate admin sessions",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionInvalidateCmd())
	cmd.AddCommand(newSessionInvalidateAllCmd())

	return cmd
}

// ---------- session list ----------

func newSessionListCmd() *cobra.Command {
	var (
		adminID    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List live sessions",
		Example: `  adminguard session list
  adminguard session list --admin ops@example.com --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *components) error {
				sessions, err := c.sessions.ListSessions(ctx, adminID)
				if err != nil {
					return fmt.Errorf("list sessions: %w", err)
				}
				if jsonOutput {
					return printJSON(sessions)
				}
				if len(sessions) == 0 {
					fmt.Println("No live sessions.")
					return nil
				}
				fmt.Printf("%-10s %-28s %-14s %-40s %-21s %-8s\n", "TOKEN", "ADMIN", "ROLE", "IP", "CREATED", "ROTATED")
				fmt.Printf("%-10s %-28s %-14s %-40s %-21s %-8s\n", "-----", "-----", "----", "--", "-------", "-------")
				for i := range sessions {
					s := &sessions[i]
					fmt.Printf("%-10s %-28s %-14s %-40s %-21s %-8d\n",
						s.TokenPrefix(), s.AdminID, s.Role, s.IPAddress, formatTime(s.CreatedAt), s.Flags.RotationCount)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&adminID, "admin", "", "Only list sessions of this administrator")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- session invalidate ----------

func newSessionInvalidateCmd() *cobra.Command {
	var (
		adminID string
		reason  string
	)

	cmd := &cobra.Command{
		Use:   "invalidate [token]",
		Short: "Invalidate one session, or every session of an administrator",
		Example: `  adminguard session invalidate 3f9c...e1 --reason "lost laptop"
  adminguard session invalidate --admin ops@example.com`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && adminID == "" {
				return errors.New("give a session token or --admin")
			}
			return withComponents(func(ctx context.Context, c *components) error {
				if len(args) == 1 {
					ok, err := c.sessions.InvalidateSession(ctx, args[0], reason)
					if err != nil {
						return fmt.Errorf("invalidate session: %w", err)
					}
					if !ok {
						return errors.New("session not found")
					}
					fmt.Println("Session invalidated.")
					return nil
				}

				sessions, err := c.sessions.ListSessions(ctx, adminID)
				if err != nil {
					return fmt.Errorf("list sessions: %w", err)
				}
				n := 0
				for i := range sessions {
					ok, err := c.sessions.InvalidateSession(ctx, sessions[i].Token, reason)
					if err != nil {
						return fmt.Errorf("invalidate session %s: %w", sessions[i].TokenPrefix(), err)
					}
					if ok {
						n++
					}
				}
				fmt.Printf("Invalidated %d session(s) of %s.\n", n, adminID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&adminID, "admin", "", "Invalidate every session of this administrator")
	cmd.Flags().StringVar(&reason, "reason", "operator request", "Reason recorded in the session event log")

	return cmd
}

// ---------- session invalidate-all ----------

func newSessionInvalidateAllCmd() *cobra.Command {
	var (
		reason string
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "invalidate-all",
		Short: "Invalidate every session of every administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("this logs out every administrator; pass --yes to confirm")
			}
			return withComponents(func(ctx context.Context, c *components) error {
				n, err := c.sessions.InvalidateAllSessions(ctx, reason)
				if err != nil {
					return fmt.Errorf("invalidate all sessions: %w", err)
				}
				fmt.Printf("Invalidated %d session(s).\n", n)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "operator request", "Reason recorded in the session event log")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the mass invalidation")

	return cmd
}
