package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// RebuildRequest represents the rebuild API request.
type RebuildRequest struct {
	Ticker  string `json:"ticker"`
	Section string `json:"section"`
}

// RebuildResponse represents the rebuild API response.
type RebuildResponse struct {
	Ticker  string      `json:"ticker"`
	Section string      `json:"section"`
	Filing  QueryFiling `json:"filing"`
}

// RebuildCmd creates the rebuild command.
func RebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <ticker> <section>",
		Short: "Rebuild a filing index",
		Long:  "Forces a rebuild of the index for a ticker and section from the latest filing, bypassing the freshness check.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runRebuild(cmd, args[0], args[1], outputJSON)
		},
	}
}

func runRebuild(cmd *cobra.Command, ticker, section string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/index/rebuild", RebuildRequest{Ticker: ticker, Section: section})
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}

	var rebuildResp RebuildResponse
	if err := json.Unmarshal(resp.Data, &rebuildResp); err != nil {
		return fmt.Errorf("failed to parse rebuild response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(rebuildResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("rebuilt %s %s from filing %s (%s)\n",
		rebuildResp.Ticker, rebuildResp.Section,
		rebuildResp.Filing.AccessionNumber, rebuildResp.Filing.FilingDate)
	return nil
}
