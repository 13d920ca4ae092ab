package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/adminguard/internal/anomaly"
	"github.com/faucetdb/adminguard/internal/incident"
	"github.com/faucetdb/adminguard/internal/ratelimit"
)

// MCPServer exposes the operator-facing security operations as MCP tools so
// an operator's agent can triage incidents, check addresses and assess
// administrators.
type MCPServer struct {
	limiter   *ratelimit.Limiter
	incidents *incident.Tracker
	detector  *anomaly.Detector
	logger    *slog.Logger
	server    *server.MCPServer
}

// NewMCPServer creates an MCPServer with every tool and resource
// registered. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(limiter *ratelimit.Limiter, incidents *incident.Tracker, detector *anomaly.Detector, version string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		limiter:   limiter,
		incidents: incidents,
		detector:  detector,
		logger:    logger,
	}

	mcpServer := server.NewMCPServer(
		"adminguard",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go server.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout for clients that launch the
// binary as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP serves MCP in Streamable HTTP mode on addr (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
