package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faucetdb/quotakey/internal/config"
	"github.com/faucetdb/quotakey/internal/model"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage caller profiles",
		Long:  "A caller's profile holds the environment mode applied to their bearer tokens. Callers without one are in sandbox.",
	}
	cmd.AddCommand(newProfileSetCmd())
	cmd.AddCommand(newProfileGetCmd())
	return cmd
}

func newProfileSetCmd() *cobra.Command {
	var caller, mode string

	cmd := &cobra.Command{
		Use:     "set",
		Short:   "Set a caller's environment mode",
		Example: `  quotakey profile set --caller user-42 --mode production`,
		RunE: func(cmd *cobra.Command, args []string) error {
			caller = strings.TrimSpace(caller)
			if caller == "" {
				return fmt.Errorf("--caller is required")
			}
			m, err := model.ParseEnvironmentMode(mode)
			if err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			if err := store.SetEnvironmentMode(cmd.Context(), caller, m); err != nil {
				return fmt.Errorf("set environment mode: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Caller %s is now in %s mode\n", caller, m)
			return nil
		},
	}

	cmd.Flags().StringVar(&caller, "caller", "", "Caller id (required)")
	cmd.Flags().StringVar(&mode, "mode", "", "Environment mode: sandbox or production (required)")
	cmd.MarkFlagRequired("caller")
	cmd.MarkFlagRequired("mode")

	return cmd
}

func newProfileGetCmd() *cobra.Command {
	var caller string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a caller's environment mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			mode, err := store.GetEnvironmentMode(cmd.Context(), caller)
			if errors.Is(err, config.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (no profile)\n", model.ModeSandbox)
				return nil
			}
			if err != nil {
				return fmt.Errorf("get environment mode: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), mode)
			return nil
		},
	}

	cmd.Flags().StringVar(&caller, "caller", "", "Caller id (required)")
	cmd.MarkFlagRequired("caller")

	return cmd
}
