package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faucetdb/adminguard/internal/incident"
	"github.com/faucetdb/adminguard/internal/model"
)

func newIncidentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "incident",
		Aliases: []string{"incidents"},
		Short:   "Review and resolve block incidents",
	}

	cmd.AddCommand(newIncidentPendingCmd())
	cmd.AddCommand(newIncidentShowCmd())
	cmd.AddCommand(newIncidentListIPCmd())
	cmd.AddCommand(newIncidentResolveCmd())

	return cmd
}

func printIncidents(incidents []model.BlockIncident) {
	fmt.Printf("%-30s %-40s %-21s %-9s %s\n", "INCIDENT", "IP", "CREATED", "RESOLVED", "REASON")
	fmt.Printf("%-30s %-40s %-21s %-9s %s\n", "--------", "--", "-------", "--------", "------")
	for _, inc := range incidents {
		fmt.Printf("%-30s %-40s %-21s %-9s %s\n",
			inc.IncidentID, inc.IPAddress, formatTime(inc.CreatedAt), yesNo(inc.Resolved), inc.BlockReason)
	}
}

// ---------- incident pending ----------

func newIncidentPendingCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List unresolved incidents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *components) error {
				incidents, err := c.tracker.ListPending(ctx, limit)
				if err != nil {
					return fmt.Errorf("list pending incidents: %w", err)
				}
				if jsonOutput {
					return printJSON(incidents)
				}
				if len(incidents) == 0 {
					fmt.Println("No pending incidents.")
					return nil
				}
				printIncidents(incidents)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", incident.DefaultListLimit, "Maximum incidents to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- incident show ----------

func newIncidentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "show <incident-id>",
		Aliases: []string{"find"},
		Short:   "Show one incident",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *components) error {
				inc, err := c.tracker.FindByIncidentID(ctx, args[0])
				if errors.Is(err, model.ErrNotFound) {
					return fmt.Errorf("incident %s not found", args[0])
				}
				if err != nil {
					return fmt.Errorf("find incident: %w", err)
				}
				return printJSON(inc)
			})
		},
	}
}

// ---------- incident list-ip ----------

func newIncidentListIPCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list-ip <ip>",
		Short: "List every incident of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *components) error {
				incidents, err := c.tracker.ListByIP(ctx, args[0])
				if err != nil {
					return fmt.Errorf("list incidents: %w", err)
				}
				if jsonOutput {
					return printJSON(incidents)
				}
				if len(incidents) == 0 {
					fmt.Printf("No incidents for %s.\n", args[0])
					return nil
				}
				printIncidents(incidents)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- incident resolve ----------

func newIncidentResolveCmd() *cobra.Command {
	var (
		operator string
		notes    string
	)

	cmd := &cobra.Command{
		Use:   "resolve <incident-id>",
		Short: "Mark an incident resolved",
		Long:  "Resolving an incident does not lift the block; use 'adminguard block unblock' for that.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if operator == "" {
				operator = defaultOperator()
			}
			return withComponents(func(ctx context.Context, c *components) error {
				ok, err := c.tracker.ResolveIncident(ctx, args[0], operator, notes)
				if err != nil {
					return fmt.Errorf("resolve incident: %w", err)
				}
				if !ok {
					return fmt.Errorf("incident %s not found or already resolved", args[0])
				}
				fmt.Printf("Incident %s resolved by %s.\n", args[0], operator)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "", "Operator recorded on the incident (default: cli:$USER)")
	cmd.Flags().StringVar(&notes, "notes", "", "Resolution notes")

	return cmd
}
