package main

import (
	"fmt"
	"os"

	"github.com/finsight-labs/filingrag/internal/cli"
	"github.com/finsight-labs/filingrag/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "filingragd",
		Short: "Filingrag daemon",
		Long:  "Filingrag daemon for serving retrieval queries over SEC 10-K filings",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
