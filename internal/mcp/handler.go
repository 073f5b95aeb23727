package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/faucetdb/quotakey/internal/service"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || strings.TrimSpace(val) == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// optionalString extracts an optional string argument from the tool request.
func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

// optionalStringSlice extracts an optional string slice argument. It returns
// nil when the key is absent so callers can tell "not given" from "empty".
func optionalStringSlice(request mcp.CallToolRequest, key string) []string {
	if !hasArg(request, key) {
		return nil
	}
	return request.GetStringSlice(key, []string{})
}

// optionalIntPtr extracts an optional integer argument, nil when absent.
func optionalIntPtr(request mcp.CallToolRequest, key string) *int {
	if !hasArg(request, key) {
		return nil
	}
	n := request.GetInt(key, 0)
	return &n
}

// optionalBoolPtr extracts an optional boolean argument, nil when absent.
func optionalBoolPtr(request mcp.CallToolRequest, key string) *bool {
	if !hasArg(request, key) {
		return nil
	}
	b := request.GetBool(key, false)
	return &b
}

func hasArg(request mcp.CallToolRequest, key string) bool {
	args := request.GetArguments()
	if args == nil {
		return false
	}
	v, ok := args[key]
	return ok && v != nil
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError turns a KeyService error into a tool error the agent can act on.
func serviceError(err error) (*mcp.CallToolResult, error) {
	var verr *service.ValidationError
	var rl *service.RateLimitedError

	switch {
	case errors.As(err, &verr):
		fields := make([]string, 0, len(verr.Fields))
		for f, msg := range verr.Fields {
			fields = append(fields, f+" "+msg)
		}
		sort.Strings(fields)
		return toolError("Invalid arguments: %s", strings.Join(fields, "; "))
	case errors.As(err, &rl):
		return toolError("%s (retry after %d seconds)", rl.Decision.Message, rl.RetryAfter())
	default:
		return toolError("Request failed: %v", err)
	}
}
