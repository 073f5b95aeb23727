package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faucetdb/quotakey/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI specification",
		Long:  "Generate the OpenAPI 3.1 document describing the quotakey HTTP API.",
		Example: `  quotakey openapi
  quotakey openapi --base-url https://keys.example.com -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := openapi.Generate(baseURL, versionString())
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal openapi document: %w", err)
			}

			if outputFile != "" {
				if err := os.WriteFile(outputFile, append(data, '\n'), 0644); err != nil {
					return fmt.Errorf("write %s: %w", outputFile, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", outputFile)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "Server URL placed in the document")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write spec to file instead of stdout")

	return cmd
}
