package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/quotakey/internal/ratelimit"
)

func newQuotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Maintain quota counters",
	}
	cmd.AddCommand(newQuotaPruneCmd())
	return cmd
}

func newQuotaPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete quota windows that have closed",
		Long: `Delete SQL quota windows that started before now minus --older-than. Closed
windows are never read again; pruning keeps the table small. Redis windows
expire on their own.`,
		Example: `  quotakey quota prune --older-than 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < ratelimit.Window {
				return fmt.Errorf("--older-than must be at least %s", ratelimit.Window)
			}

			store, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			before := ratelimit.WindowStart(time.Now().Add(-olderThan))
			n, err := store.PruneQuotaWindows(cmd.Context(), before)
			if err != nil {
				return fmt.Errorf("prune quota windows: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d quota windows older than %s\n", n, before.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Age of the oldest window to keep")

	return cmd
}
