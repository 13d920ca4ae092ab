package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faucetdb/adminguard/internal/model"
)

func newBlockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "block",
		Aliases: []string{"blocks"},
		Short:   "Inspect and lift address blocks",
		Long:    "Addresses are blocked after repeated authentication failures. These commands list, check and lift blocks.",
	}

	cmd.AddCommand(newBlockListCmd())
	cmd.AddCommand(newBlockCheckCmd())
	cmd.AddCommand(newBlockUnblockCmd())
	cmd.AddCommand(newBlockCleanupCmd())

	return cmd
}

func printBlocks(blocks []model.IPBlock) {
	fmt.Printf("%-40s %-21s %-30s %s\n", "IP", "BLOCKED UNTIL", "INCIDENT", "REASON")
	fmt.Printf("%-40s %-21s %-30s %s\n", "--", "-------------", "--------", "------")
	for _, b := range blocks {
		fmt.Printf("%-40s %-21s %-30s %s\n", b.IPAddress, formatTime(b.BlockedUntil), b.IncidentID, b.Reason)
	}
}

// ---------- block list ----------

func newBlockListCmd() *cobra.Command {
	var (
		all        bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List blocked addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *components) error {
				blocks, err := c.limiter.ListBlocks(ctx, all)
				if err != nil {
					return fmt.Errorf("list blocks: %w", err)
				}
				if jsonOutput {
					return printJSON(blocks)
				}
				if len(blocks) == 0 {
					fmt.Println("No blocked addresses.")
					return nil
				}
				printBlocks(blocks)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include expired blocks the sweep has not removed yet")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- block check ----------

func newBlockCheckCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check <ip>",
		Short: "Show whether an address is blocked and its incident history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *components) error {
				block, err := c.limiter.ActiveBlock(ctx, args[0])
				if err != nil {
					return fmt.Errorf("check block: %w", err)
				}
				incidents, err := c.tracker.ListByIP(ctx, args[0])
				if err != nil {
					return fmt.Errorf("list incidents: %w", err)
				}
				if jsonOutput {
					return printJSON(map[string]interface{}{
						"ip":        args[0],
						"blocked":   block != nil,
						"block":     block,
						"incidents": incidents,
					})
				}

				fmt.Printf("Blocked:   %s\n", yesNo(block != nil))
				if block != nil {
					fmt.Printf("Until:     %s\n", formatTime(block.BlockedUntil))
					fmt.Printf("Reason:    %s\n", block.Reason)
					fmt.Printf("Incident:  %s\n", block.IncidentID)
				}
				fmt.Printf("Incidents: %d\n", len(incidents))
				if len(incidents) > 0 {
					fmt.Println()
					printIncidents(incidents)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- block unblock ----------

func newBlockUnblockCmd() *cobra.Command {
	var operator string

	cmd := &cobra.Command{
		Use:     "unblock <ip>",
		Aliases: []string{"lift"},
		Short:   "Lift a block and resolve its incident",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if operator == "" {
				operator = defaultOperator()
			}
			return withComponents(func(ctx context.Context, c *components) error {
				removed, err := c.limiter.UnblockManual(ctx, args[0], operator)
				if err != nil {
					return fmt.Errorf("unblock: %w", err)
				}
				if !removed {
					fmt.Printf("%s was not blocked.\n", args[0])
					return nil
				}
				fmt.Printf("%s unblocked by %s.\n", args[0], operator)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "", "Operator recorded on the resolved incident (default: cli:$USER)")

	return cmd
}

// ---------- block cleanup ----------

func newBlockCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired blocks now instead of waiting for the sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *components) error {
				n, err := c.limiter.CleanupExpiredBlocks(ctx)
				if err != nil {
					return fmt.Errorf("cleanup blocks: %w", err)
				}
				fmt.Printf("Removed %d expired block(s).\n", n)
				return nil
			})
		},
	}
}
