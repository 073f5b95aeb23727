package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/quotakey/internal/model"
	"github.com/faucetdb/quotakey/internal/service"
)

// registerTools registers all quotakey MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Read tools -----

	srv.AddTool(
		mcp.NewTool("quotakey_list_keys",
			mcp.WithDescription(
				"List your API keys, newest first. Returns id, name, prefix, scopes, "+
					"environment mode, active flag and timestamps. Secrets are never returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("quotakey_rate_limits",
			mcp.WithDescription(
				"List the per-minute rate limits that apply in your environment mode. "+
					"Endpoints without a rule are unmetered.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleRateLimits,
	)

	// ----- Mutation tools -----

	srv.AddTool(
		mcp.NewTool("quotakey_create_key",
			mcp.WithDescription(
				"Create an API key. The raw key is in the response exactly once; store "+
					"it immediately, it cannot be retrieved again.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Display name, 1 to 100 characters"),
			),
			mcp.WithArray("scopes",
				mcp.Required(),
				mcp.Description("1 to 10 capability scopes (e.g. [\"read\"])"),
				mcp.WithStringItems(),
			),
			mcp.WithString("environment_mode",
				mcp.Description("sandbox or production; defaults to your current mode"),
				mcp.Enum(string(model.ModeSandbox), string(model.ModeProduction)),
			),
			mcp.WithNumber("expires_in_days",
				mcp.Description("Days until the key expires, 1 to 365. Omit for a non-expiring key."),
			),
		),
		s.handleCreateKey,
	)

	srv.AddTool(
		mcp.NewTool("quotakey_update_key",
			mcp.WithDescription(
				"Activate or deactivate a key and/or replace its scopes. Succeeds "+
					"without change if no key of yours has that id.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("key_id",
				mcp.Required(),
				mcp.Description("Id of the key to update"),
			),
			mcp.WithBoolean("is_active",
				mcp.Description("New active flag"),
			),
			mcp.WithArray("scopes",
				mcp.Description("Replacement scopes, 1 to 10"),
				mcp.WithStringItems(),
			),
		),
		s.handleUpdateKey,
	)

	srv.AddTool(
		mcp.NewTool("quotakey_revoke_key",
			mcp.WithDescription(
				"Permanently delete a key. Revoking an unknown or already revoked key succeeds.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("key_id",
				mcp.Required(),
				mcp.Description("Id of the key to revoke"),
			),
		),
		s.handleRevokeKey,
	)
}

// =========================================================================
// Tool handlers
// =========================================================================

func (s *MCPServer) handleListKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys, err := s.keys.List(ctx, s.caller)
	if err != nil {
		return serviceError(err)
	}
	return successJSON(model.ListResponse{Resource: keys, Count: len(keys)})
}

func (s *MCPServer) handleRateLimits(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rules, err := s.rules.RulesFor(ctx, s.caller.Mode)
	if err != nil {
		return toolError("Failed to load rate limits: %v", err)
	}
	if rules == nil {
		rules = []model.RateLimitRule{}
	}
	return successJSON(model.ListResponse{Resource: rules, Count: len(rules)})
}

func (s *MCPServer) handleCreateKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}

	created, err := s.keys.Create(ctx, s.caller, service.CreateKeyRequest{
		Name:            name,
		Scopes:          optionalStringSlice(request, "scopes"),
		EnvironmentMode: optionalString(request, "environment_mode"),
		ExpiresInDays:   optionalIntPtr(request, "expires_in_days"),
	})
	if err != nil {
		return serviceError(err)
	}
	return successJSON(created)
}

func (s *MCPServer) handleUpdateKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keyID, err := requireString(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}

	res, err := s.keys.Update(ctx, s.caller, keyID, model.CredentialPatch{
		IsActive: optionalBoolPtr(request, "is_active"),
		Scopes:   optionalStringSlice(request, "scopes"),
	})
	if err != nil {
		return serviceError(err)
	}
	return successJSON(res)
}

func (s *MCPServer) handleRevokeKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keyID, err := requireString(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}

	res, err := s.keys.Revoke(ctx, s.caller, keyID)
	if err != nil {
		return serviceError(err)
	}
	return successJSON(res)
}
