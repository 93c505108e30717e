package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ClearCmd creates the clear command.
func ClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <ticker> <section>",
		Short: "Evict a filing index",
		Long:  "Removes the persisted index for a ticker and section. The next query rebuilds it from scratch.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(cmd, args[0], args[1])
		},
	}
}

func runClear(cmd *cobra.Command, ticker, section string) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	if _, err := api.Delete(fmt.Sprintf("/index/%s/%s", ticker, section)); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}

	fmt.Printf("cleared %s %s\n", ticker, section)
	return nil
}
