package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/quotakey/internal/config"
	"github.com/faucetdb/quotakey/internal/model"
	"github.com/faucetdb/quotakey/internal/secret"
	"github.com/faucetdb/quotakey/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long: `Create, list, update and revoke API keys on behalf of a caller. These commands
go through the same validation and manage-api-keys rate limit as the HTTP API.`,
	}

	cmd.PersistentFlags().String("caller", "", "Caller id the keys belong to (required)")
	cmd.MarkPersistentFlagRequired("caller")

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyUpdateCmd())

	return cmd
}

// keyEnv is what the key subcommands run against.
type keyEnv struct {
	store  *config.Store
	keys   *service.KeyService
	caller service.Caller
	closer counterCloser
}

func (e *keyEnv) Close() {
	if e.closer != nil {
		e.closer.Close()
	}
	e.store.Close()
}

// openKeyEnv opens the store and builds a KeyService for the --caller flag.
// The caller's mode comes from their profile, as for bearer tokens.
func openKeyEnv(cmd *cobra.Command) (*keyEnv, error) {
	callerID, _ := cmd.Flags().GetString("caller")
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return nil, fmt.Errorf("--caller is required")
	}

	store, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	secretKey, _ := jwtSecret()
	mode, err := service.NewAuthService(store, secretKey).ResolveMode(ctx, callerID)
	if err != nil {
		store.Close()
		return nil, err
	}

	logger := newLogger(cmd.ErrOrStderr())
	counter, closer, err := newCounter(ctx, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &keyEnv{
		store:  store,
		keys:   service.NewKeyService(store, secret.NewCodec(""), newLimiter(store, counter, logger, nil), logger),
		caller: service.Caller{ID: callerID, Mode: mode},
		closer: closer,
	}, nil
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name      string
		scopes    []string
		mode      string
		expiresIn int
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  quotakey key create --caller user-42 --name "CI pipeline" --scope read
  quotakey key create --caller user-42 --name deploy --scope read --scope write --mode production --expires-in-days 90`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openKeyEnv(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			req := service.CreateKeyRequest{Name: name, Scopes: scopes, EnvironmentMode: mode}
			if cmd.Flags().Changed("expires-in-days") {
				req.ExpiresInDays = &expiresIn
			}
			created, err := env.keys.Create(cmd.Context(), env.caller, req)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), created)
			}
			printCreatedKey(cmd.OutOrStdout(), created)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name for the key (required)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scope granted to the key (repeatable, 1 to 10)")
	cmd.Flags().StringVar(&mode, "mode", "", "Environment mode: sandbox or production (default: caller's mode)")
	cmd.Flags().IntVar(&expiresIn, "expires-in-days", 0, "Days until the key expires (1 to 365)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("name")

	return cmd
}

func printCreatedKey(w io.Writer, k *service.CreatedKey) {
	fmt.Fprintln(w, "API Key created:")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Key:    %s\n", k.Key)
	fmt.Fprintf(w, "  ID:     %s\n", k.KeyID)
	fmt.Fprintf(w, "  Name:   %s\n", k.Name)
	fmt.Fprintf(w, "  Mode:   %s\n", k.EnvironmentMode)
	fmt.Fprintf(w, "  Scopes: %s\n", strings.Join(k.Scopes, ", "))
	if k.ExpiresAt != nil {
		fmt.Fprintf(w, "  Expires: %s\n", k.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintln(w)
	if isTerminal(w) {
		fmt.Fprintln(w, "  Save this key now - it cannot be retrieved again.")
	}
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the caller's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openKeyEnv(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			creds, err := env.keys.List(cmd.Context(), env.caller)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), creds)
			}
			printCredentials(cmd.OutOrStdout(), creds)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printCredentials(w io.Writer, creds []model.Credential) {
	if len(creds) == 0 {
		fmt.Fprintln(w, "No API keys. Use 'quotakey key create' to create one.")
		return
	}

	fmt.Fprintf(w, "%-36s %-12s %-20s %-10s %-6s %s\n", "ID", "PREFIX", "NAME", "MODE", "ACTIVE", "SCOPES")
	for _, c := range creds {
		active := "yes"
		if !c.IsActive {
			active = "no"
		}
		fmt.Fprintf(w, "%-36s %-12s %-20s %-10s %-6s %s\n",
			c.ID, c.Prefix, c.Name, c.EnvironmentMode, active, strings.Join(c.Scopes, ","))
	}
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Long:  "Permanently delete an API key. Revoking an unknown or already revoked key succeeds.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openKeyEnv(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			res, err := env.keys.Revoke(cmd.Context(), env.caller, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked API key %s\n", res.KeyID)
			return nil
		},
	}
}

// ---------- key update ----------

func newKeyUpdateCmd() *cobra.Command {
	var (
		active bool
		scopes []string
	)

	cmd := &cobra.Command{
		Use:   "update <key-id>",
		Short: "Activate, deactivate or rescope an API key",
		Example: `  quotakey key update --caller user-42 0190f1c2-... --active=false
  quotakey key update --caller user-42 0190f1c2-... --scope read`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch model.CredentialPatch
			if cmd.Flags().Changed("active") {
				patch.IsActive = &active
			}
			if cmd.Flags().Changed("scope") {
				patch.Scopes = scopes
			}

			env, err := openKeyEnv(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			res, err := env.keys.Update(cmd.Context(), env.caller, args[0], patch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated API key %s\n", res.KeyID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&active, "active", true, "Set the key's active flag")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Replacement scopes (repeatable)")

	return cmd
}
