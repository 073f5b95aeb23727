package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/faucetdb/quotakey/internal/config"
	"github.com/faucetdb/quotakey/internal/model"
	"github.com/faucetdb/quotakey/internal/ratelimit"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage rate limit rules",
		Long:  "List and import the per-endpoint, per-environment rate limit rules stored in the database.",
	}
	cmd.AddCommand(newRulesListCmd())
	cmd.AddCommand(newRulesImportCmd())
	cmd.AddCommand(newRulesResetCmd())
	return cmd
}

func newRulesListCmd() *cobra.Command {
	var (
		mode       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List rate limit rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMode(mode)
			if err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			var rules []model.RateLimitRule
			if m == "" {
				rules, err = store.ListRules(cmd.Context())
			} else {
				rules, err = store.RulesFor(cmd.Context(), m)
			}
			if err != nil {
				return fmt.Errorf("list rules: %w", err)
			}

			if jsonOutput {
				if rules == nil {
					rules = []model.RateLimitRule{}
				}
				return printJSON(cmd.OutOrStdout(), rules)
			}
			printRules(cmd.OutOrStdout(), rules)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Only show rules for this environment mode")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printRules(w io.Writer, rules []model.RateLimitRule) {
	if len(rules) == 0 {
		fmt.Fprintln(w, "No rate limit rules. Every endpoint is unmetered.")
		return
	}
	fmt.Fprintf(w, "%-12s %-24s %10s %10s %10s\n", "MODE", "ENDPOINT", "PER MIN", "PER HOUR", "PER DAY")
	for _, r := range rules {
		fmt.Fprintf(w, "%-12s %-24s %10d %10d %10d\n",
			r.EnvironmentMode, r.Endpoint, r.MaxPerMinute, r.MaxPerHour, r.MaxPerDay)
	}
}

func newRulesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Replace all rules with those in a YAML file",
		Example: `  quotakey rules import ratelimits.yaml

# ratelimits.yaml
sandbox:
  - endpoint: run-comparison
    max_per_minute: 50
production:
  - endpoint: run-comparison
    max_per_minute: 200`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := config.LoadRulesFile(args[0])
			if err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			if err := store.ReplaceRules(cmd.Context(), rules); err != nil {
				return fmt.Errorf("import rules: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rules from %s\n", len(rules), args[0])
			return nil
		},
	}
}

func newRulesResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the built-in default rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			rules := ratelimit.DefaultRules()
			if err := store.ReplaceRules(cmd.Context(), rules); err != nil {
				return fmt.Errorf("reset rules: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d default rules\n", len(rules))
			return nil
		},
	}
}
