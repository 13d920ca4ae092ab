package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faucetdb/adminguard/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification of the security API",
		Example: `  adminguard openapi
  adminguard openapi --base-url https://admin.example.com -o security.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := openapi.GenerateSecuritySpec(baseURL, versionString())
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal spec: %w", err)
			}
			if outputFile == "" {
				fmt.Println(string(data))
				return nil
			}
			if err := os.WriteFile(outputFile, data, 0644); err != nil {
				return fmt.Errorf("write %s: %w", outputFile, err)
			}
			fmt.Printf("Wrote %s\n", outputFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "Server URL recorded in the document")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write to a file instead of stdout")

	return cmd
}
