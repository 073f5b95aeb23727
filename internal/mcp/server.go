package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/quotakey/internal/ratelimit"
	"github.com/faucetdb/quotakey/internal/service"
)

// MCPServer exposes key management for one caller as MCP tools, so an agent
// can issue and rotate its own API keys. Every tool call goes through the
// same KeyService as the HTTP API, rate limit included.
type MCPServer struct {
	keys   *service.KeyService
	rules  ratelimit.RuleProvider
	caller service.Caller
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer acting as caller.
func NewMCPServer(keys *service.KeyService, rules ratelimit.RuleProvider, caller service.Caller, version string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		keys:   keys,
		rules:  rules,
		caller: caller,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"quotakey",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for clients that launch
// it as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode", "caller_id", s.caller.ID, "environment_mode", string(s.caller.Mode))
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr, "caller_id", s.caller.ID)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func destructiveAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
