package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/adminguard/internal/anomaly"
	"github.com/faucetdb/adminguard/internal/incident"
)

const maxWindowHours = 720

// registerTools registers every adminguard tool on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Read tools -----

	srv.AddTool(
		mcp.NewTool("adminguard_assess_admin",
			mcp.WithDescription(
				"Score an administrator's recent privileged actions for anomalies. "+
					"Returns the 0-100 risk score, the triggered checks (bulk operations, "+
					"night access, address churn, critical bursts, failure rate), the "+
					"evidence behind each, and the alert severity the result maps to.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("admin_id",
				mcp.Required(),
				mcp.Description("Administrator identity, e.g. ops@example.com"),
			),
			mcp.WithNumber("window_hours",
				mcp.Description("Trailing window to assess in hours (default 24, max 720)"),
			),
		),
		s.handleAssessAdmin,
	)

	srv.AddTool(
		mcp.NewTool("adminguard_list_pending_incidents",
			mcp.WithDescription(
				"List unresolved block incidents, newest first. Each incident names the "+
					"blocked address, why it was blocked and when.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("limit",
				mcp.Description("Maximum incidents to return (default 50, max 500)"),
			),
		),
		s.handleListPending,
	)

	srv.AddTool(
		mcp.NewTool("adminguard_find_incident",
			mcp.WithDescription(
				"Look up one block incident by its ID. IDs look like "+
					"BLOCK-20250101120000-AB12; anything else is rejected.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("incident_id",
				mcp.Required(),
				mcp.Description("Incident ID as shown to the blocked user"),
			),
		),
		s.handleFindIncident,
	)

	srv.AddTool(
		mcp.NewTool("adminguard_check_ip",
			mcp.WithDescription(
				"Check whether an address is blocked right now and list its incident history.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("ip",
				mcp.Required(),
				mcp.Description("IPv4 or IPv6 address"),
			),
		),
		s.handleCheckIP,
	)

	// ----- Operator tools -----

	srv.AddTool(
		mcp.NewTool("adminguard_unblock_ip",
			mcp.WithDescription(
				"Lift the block on an address and resolve its pending incident. "+
					"Returns unblocked=false when the address was not blocked.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("ip",
				mcp.Required(),
				mcp.Description("IPv4 or IPv6 address to unblock"),
			),
			mcp.WithString("operator",
				mcp.Required(),
				mcp.Description("Identity of the operator on whose behalf the block is lifted"),
			),
		),
		s.handleUnblockIP,
	)

	srv.AddTool(
		mcp.NewTool("adminguard_resolve_incident",
			mcp.WithDescription(
				"Mark a block incident resolved with optional notes. The block itself "+
					"is not lifted; use adminguard_unblock_ip for that. Returns "+
					"resolved=false when the incident was already resolved.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("incident_id",
				mcp.Required(),
				mcp.Description("Incident ID to resolve"),
			),
			mcp.WithString("operator",
				mcp.Required(),
				mcp.Description("Identity of the resolving operator"),
			),
			mcp.WithString("notes",
				mcp.Description("Resolution notes (max 2000 characters)"),
			),
		),
		s.handleResolveIncident,
	)
}

func (s *MCPServer) handleAssessAdmin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	adminID, err := requireString(request, "admin_id")
	if err != nil {
		return toolError("%v", err)
	}
	hours := clamp(optionalInt(request, "window_hours", 24), 1, maxWindowHours)

	a, err := s.detector.Assess(ctx, adminID, time.Duration(hours)*time.Hour)
	if err != nil {
		return serviceError(err)
	}
	return successJSON(map[string]interface{}{
		"assessment": a,
		"severity":   anomaly.Classify(a),
	})
}

func (s *MCPServer) handleListPending(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := clamp(optionalInt(request, "limit", incident.DefaultListLimit), 1, incident.MaxListLimit)
	list, err := s.incidents.ListPending(ctx, limit)
	if err != nil {
		return serviceError(err)
	}
	return successJSON(map[string]interface{}{
		"count":     len(list),
		"incidents": list,
	})
}

func (s *MCPServer) handleFindIncident(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "incident_id")
	if err != nil {
		return toolError("%v", err)
	}
	inc, err := s.incidents.FindByIncidentID(ctx, id)
	if err != nil {
		return serviceError(err)
	}
	return successJSON(inc)
}

func (s *MCPServer) handleCheckIP(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ip, err := requireString(request, "ip")
	if err != nil {
		return toolError("%v", err)
	}
	block, err := s.limiter.ActiveBlock(ctx, ip)
	if err != nil {
		return serviceError(err)
	}
	history, err := s.incidents.ListByIP(ctx, ip)
	if err != nil {
		return serviceError(err)
	}
	return successJSON(map[string]interface{}{
		"ip":        ip,
		"blocked":   block != nil,
		"block":     block,
		"incidents": history,
	})
}

func (s *MCPServer) handleUnblockIP(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ip, err := requireString(request, "ip")
	if err != nil {
		return toolError("%v", err)
	}
	operator, err := requireString(request, "operator")
	if err != nil {
		return toolError("%v", err)
	}
	ok, err := s.limiter.UnblockManual(ctx, ip, operator)
	if err != nil {
		return serviceError(err)
	}
	s.logger.Info("unblock via MCP", "ip", ip, "operator", operator, "unblocked", ok)
	return successJSON(map[string]interface{}{"ip": ip, "unblocked": ok})
}

func (s *MCPServer) handleResolveIncident(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "incident_id")
	if err != nil {
		return toolError("%v", err)
	}
	operator, err := requireString(request, "operator")
	if err != nil {
		return toolError("%v", err)
	}
	ok, err := s.incidents.ResolveIncident(ctx, id, operator, optionalString(request, "notes"))
	if err != nil {
		return serviceError(err)
	}
	return successJSON(map[string]interface{}{"incident_id": id, "resolved": ok})
}
