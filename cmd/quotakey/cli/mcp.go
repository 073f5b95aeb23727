package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	qmcp "github.com/faucetdb/quotakey/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
		caller    string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that lets an AI agent manage the
API keys of one caller and read its rate limits. Tool calls pass the same
validation and manage-api-keys rate limit as the HTTP API.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for desktop MCP clients. In HTTP mode, it serves the Streamable HTTP
transport on the given port.`,
		Example: `  quotakey mcp --caller agent-7                          # stdio mode
  quotakey mcp --caller agent-7 --transport http --port 3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if transport != "stdio" && transport != "http" {
				return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
			}

			// stdout carries the protocol in stdio mode; keep logs on stderr.
			logger := newLogger(os.Stderr)

			env, err := openKeyEnv(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			srv := qmcp.NewMCPServer(env.keys, env.store, env.caller, versionString(), logger)
			if transport == "http" {
				return srv.ServeHTTP(fmt.Sprintf(":%d", port))
			}
			return srv.ServeStdio()
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")
	cmd.Flags().StringVar(&caller, "caller", "", "Caller id the agent acts as (required)")
	cmd.MarkFlagRequired("caller")

	return cmd
}
