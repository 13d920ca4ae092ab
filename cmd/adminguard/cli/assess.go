package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/adminguard/internal/anomaly"
)

func newAssessCmd() *cobra.Command {
	var (
		window     time.Duration
		alert      bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "assess <admin-id>",
		Short: "Score an administrator's recent actions for anomalies",
		Example: `  adminguard assess ops@example.com
  adminguard assess ops@example.com --window 6h --alert`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *components) error {
				a, err := c.detector.Assess(ctx, args[0], window)
				if err != nil {
					return fmt.Errorf("assess %s: %w", args[0], err)
				}

				if jsonOutput && !alert {
					return printJSON(map[string]interface{}{
						"assessment": a,
						"severity":   anomaly.Classify(a),
					})
				}

				if !jsonOutput {
					fmt.Printf("Admin:      %s\n", a.AdminID)
					fmt.Printf("Window:     %s\n", window)
					fmt.Printf("Actions:    %d\n", a.ActionCount)
					fmt.Printf("Risk score: %d (%s)\n", a.RiskScore, anomaly.Classify(a))
					if a.AnomaliesDetected {
						kinds := make([]string, len(a.Anomalies))
						for i, k := range a.Anomalies {
							kinds[i] = string(k)
						}
						fmt.Printf("Anomalies:  %s\n", strings.Join(kinds, ", "))
					} else {
						fmt.Println("Anomalies:  none")
					}
					for _, r := range a.Recommendations {
						fmt.Printf("  - %s\n", r)
					}
				}

				if !alert {
					return nil
				}
				result := c.detector.TriggerAlert(ctx, a)
				if jsonOutput {
					return printJSON(map[string]interface{}{
						"assessment": a,
						"alert":      result,
					})
				}
				fmt.Printf("Alert sent: %s (severity %s)\n", yesNo(result.AlertSent), result.Severity)
				if result.SessionsInvalidated > 0 {
					fmt.Printf("Sessions invalidated: %d\n", result.SessionsInvalidated)
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "How far back to look")
	cmd.Flags().BoolVar(&alert, "alert", false, "Dispatch an alert when anomalies are found")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
