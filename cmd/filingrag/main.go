package main

import (
	"fmt"
	"os"

	"github.com/finsight-labs/filingrag/internal/cli"
	"github.com/finsight-labs/filingrag/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "filingrag",
		Short: "Filingrag CLI - retrieval over SEC 10-K filings",
		Long: `Filingrag CLI queries a filingrag server for passages from company filings.

Environment variables:
  FILINGRAG_API_KEY   API key for authentication (optional)
  FILINGRAG_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.QueryCmd())
	rootCmd.AddCommand(client.RebuildCmd())
	rootCmd.AddCommand(client.ClearCmd())
	rootCmd.AddCommand(client.SectionsCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
