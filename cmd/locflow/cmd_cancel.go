package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Cancel a submitted batch",
		Long: `Asks the provider to cancel the batch job and marks the local
manifest failed. Providers without a batch surface reject this.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(cmd))
			if err != nil {
				return err
			}
			report, err := a.lifecycle().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Cancelled batch %s (provider status %s)\n", report.BatchID, report.Status)
			return nil
		},
	}
	return cmd
}
