package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/quotakey/internal/model"
)

const rateLimitsURI = "quotakey://rate-limits"

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			rateLimitsURI,
			"Rate Limits",
			mcp.WithResourceDescription(
				"Per-minute rate limits for the environment mode this server acts in.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleRateLimitsResource,
	)
}

// handleRateLimitsResource returns the caller's rules as JSON. Reading it
// does not consume quota.
func (s *MCPServer) handleRateLimitsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	rules, err := s.rules.RulesFor(ctx, s.caller.Mode)
	if err != nil {
		return nil, fmt.Errorf("failed to load rate limits: %w", err)
	}
	if rules == nil {
		rules = []model.RateLimitRule{}
	}

	b, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rate limits: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      rateLimitsURI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
