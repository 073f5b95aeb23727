package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/quotakey/internal/service"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint bearer tokens",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var (
		caller string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed bearer token for a caller",
		Long: `Issue an HS256 token signed with auth.jwt_secret whose subject is the caller id.
Services in front of quotakey normally mint these; this command is for operators
and local testing.`,
		Example: `  quotakey token issue --caller user-42
  quotakey token issue --caller user-42 --ttl 15m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			caller = strings.TrimSpace(caller)
			if caller == "" {
				return fmt.Errorf("--caller is required")
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			secretKey, configured := jwtSecret()
			if !configured {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: auth.jwt_secret not set, signing with the development secret")
			}

			// Signing needs no store.
			tok, err := service.NewAuthService(nil, secretKey).IssueJWT(cmd.Context(), caller, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&caller, "caller", "", "Caller id placed in the token subject (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.MarkFlagRequired("caller")

	return cmd
}
