package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// QueryRequest represents the query API request.
type QueryRequest struct {
	Ticker   string `json:"ticker"`
	Section  string `json:"section"`
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

// QueryPassage represents one retrieved passage.
type QueryPassage struct {
	Ordinal int     `json:"ordinal"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// QueryFiling identifies the filing snapshot the answer came from.
type QueryFiling struct {
	AccessionNumber string `json:"accession_number"`
	FilingDate      string `json:"filing_date"`
	SourceURL       string `json:"source_url"`
	ContentHash     string `json:"content_hash"`
}

// QueryResponse represents the query API response.
type QueryResponse struct {
	Ticker   string         `json:"ticker"`
	Section  string         `json:"section"`
	Stale    bool           `json:"stale"`
	Filing   QueryFiling    `json:"filing"`
	Passages []QueryPassage `json:"passages"`
}

// QueryCmd creates the query command.
func QueryCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "query <ticker> <section> <question>",
		Short: "Retrieve filing passages for a question",
		Long:  "Retrieves the most relevant passages from a company's latest 10-K section for a question, building the index on first use.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runQuery(cmd, args[0], args[1], args[2], topK, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "n", 0, "Number of passages to return (default 4)")

	return cmd
}

func runQuery(cmd *cobra.Command, ticker, section, question string, topK int, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/query", QueryRequest{
		Ticker:   ticker,
		Section:  section,
		Question: question,
		K:        topK,
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	var queryResp QueryResponse
	if err := json.Unmarshal(resp.Data, &queryResp); err != nil {
		return fmt.Errorf("failed to parse query response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(queryResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("%s %s — filing %s (%s)\n",
		queryResp.Ticker, queryResp.Section,
		queryResp.Filing.AccessionNumber, queryResp.Filing.FilingDate)
	if queryResp.Stale {
		fmt.Println("warning: served from a prior snapshot; the latest filing could not be indexed")
	}
	fmt.Println()

	for i, p := range queryResp.Passages {
		fmt.Printf("%d. (%.3f) %s\n", i+1, p.Score, truncate(p.Text, 400))
		if i < len(queryResp.Passages)-1 {
			fmt.Println(strings.Repeat("-", 60))
		}
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
