package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage the scheduled mass session invalidation",
		Long: `A running server invalidates every session once the scheduled time is
reached. The schedule lives in the security store, so it survives restarts.`,
	}

	cmd.AddCommand(newScheduleShowCmd())
	cmd.AddCommand(newScheduleSetCmd())
	cmd.AddCommand(newScheduleClearCmd())

	return cmd
}

func newScheduleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the pending invalidation time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *components) error {
				at, err := c.invalidation.Scheduled(ctx)
				if err != nil {
					return fmt.Errorf("read schedule: %w", err)
				}
				if at == nil {
					fmt.Println("No invalidation scheduled.")
					return nil
				}
				fmt.Printf("All sessions will be invalidated at %s.\n", formatTime(*at))
				return nil
			})
		},
	}
}

func newScheduleSetCmd() *cobra.Command {
	var in time.Duration

	cmd := &cobra.Command{
		Use:   "set [RFC3339 time]",
		Short: "Schedule the mass invalidation",
		Example: `  adminguard schedule set 2026-11-01T03:00:00Z
  adminguard schedule set --in 2h`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (in == 0) {
				return fmt.Errorf("give either a time or --in")
			}
			return withComponents(func(ctx context.Context, c *components) error {
				at := c.clock.Now().Add(in)
				if len(args) == 1 {
					parsed, err := time.Parse(time.RFC3339, args[0])
					if err != nil {
						return fmt.Errorf("parse time: %w", err)
					}
					at = parsed
				}
				if err := c.invalidation.Schedule(ctx, at); err != nil {
					return fmt.Errorf("schedule invalidation: %w", err)
				}
				fmt.Printf("All sessions will be invalidated at %s.\n", formatTime(at))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&in, "in", 0, "Schedule relative to now instead of at a fixed time")

	return cmd
}

func newScheduleClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Cancel the pending invalidation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *components) error {
				cleared, err := c.invalidation.Clear(ctx)
				if err != nil {
					return fmt.Errorf("clear schedule: %w", err)
				}
				if !cleared {
					fmt.Println("No invalidation was scheduled.")
					return nil
				}
				fmt.Println("Scheduled invalidation cancelled.")
				return nil
			})
		},
	}
}
