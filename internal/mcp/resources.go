package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/adminguard/internal/incident"
)

const (
	uriPendingIncidents = "adminguard://incidents/pending"
	uriActiveBlocks     = "adminguard://blocks/active"
	uriIncidentPrefix   = "adminguard://incidents/"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// adminguard://incidents/pending: unresolved block incidents
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			uriPendingIncidents,
			"Pending Block Incidents",
			mcp.WithResourceDescription(
				"Unresolved block incidents, newest first.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handlePendingResource,
	)

	// -------------------------------------------------------------------
	// adminguard://blocks/active: addresses blocked right now
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			uriActiveBlocks,
			"Active IP Blocks",
			mcp.WithResourceDescription(
				"Addresses currently blocked, with expiry and incident ID.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleBlocksResource,
	)

	// -------------------------------------------------------------------
	// adminguard://incidents/{incident_id}: one incident (template)
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"adminguard://incidents/{incident_id}",
			"Block Incident",
			mcp.WithTemplateDescription(
				"A single block incident including resolution details.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleIncidentResource,
	)
}

func (s *MCPServer) handlePendingResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	list, err := s.incidents.ListPending(ctx, incident.DefaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending incidents: %w", err)
	}
	return jsonResource(uriPendingIncidents, list)
}

func (s *MCPServer) handleBlocksResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	blocks, err := s.limiter.ListBlocks(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}
	return jsonResource(uriActiveBlocks, blocks)
}

func (s *MCPServer) handleIncidentResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	id := strings.TrimPrefix(uri, uriIncidentPrefix)
	if id == "" || id == uri {
		return nil, fmt.Errorf("invalid incident URI %q: expected adminguard://incidents/{incident_id}", uri)
	}

	inc, err := s.incidents.FindByIncidentID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("incident %q: %w", id, err)
	}
	return jsonResource(uri, inc)
}

func jsonResource(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
