package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// SectionsResponse represents the sections API response.
type SectionsResponse struct {
	Sections []string `json:"sections"`
}

// SectionsCmd creates the sections command.
func SectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sections",
		Short: "List indexable filing sections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runSections(cmd, outputJSON)
		},
	}
}

func runSections(cmd *cobra.Command, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get("/sections")
	if err != nil {
		return fmt.Errorf("failed to list sections: %w", err)
	}

	var sectionsResp SectionsResponse
	if err := json.Unmarshal(resp.Data, &sectionsResp); err != nil {
		return fmt.Errorf("failed to parse sections response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(sectionsResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	for _, s := range sectionsResp.Sections {
		fmt.Println(s)
	}
	return nil
}
