package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	agmcp "github.com/faucetdb/adminguard/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that lets an AI agent triage
block incidents, check addresses and assess administrators. Supports stdio
(default) and HTTP transports.`,
		Example: `  adminguard mcp                             # stdio mode
  adminguard mcp --transport http --port 3001  # HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("transport") && fc.MCP.Transport != "" {
				transport = fc.MCP.Transport
			}

			logger := newLogger(fc.Logging)
			c, err := buildComponents(fc, logger)
			if err != nil {
				return fmt.Errorf("init components: %w", err)
			}
			defer c.close()

			srv := agmcp.NewMCPServer(c.limiter, c.tracker, c.detector, versionString(), logger)

			switch transport {
			case "stdio":
				return srv.ServeStdio()
			case "http":
				addr := fmt.Sprintf(":%d", port)
				logger.Info("starting MCP HTTP server", "addr", addr)
				return srv.ServeHTTP(addr)
			default:
				return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
			}
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}
