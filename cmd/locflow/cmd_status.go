package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Check a submitted batch against the provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(cmd))
			if err != nil {
				return err
			}
			report, err := a.lifecycle().CheckStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Batch:          %s\n", report.BatchID)
			fmt.Printf("Provider:       %s (%s)\n", report.Provider, report.ProviderBatchID)
			fmt.Printf("Status:         %s\n", report.Status)
			if report.RequestCounts != nil && report.RequestCounts.Total > 0 {
				fmt.Printf("Requests:       %d/%d completed, %d failed\n",
					report.RequestCounts.Completed, report.RequestCounts.Total, report.RequestCounts.Failed)
			}
			if report.OutputFileID != "" {
				fmt.Printf("Output file:    %s\n", report.OutputFileID)
			}
			if report.ErrorFileID != "" {
				fmt.Printf("Error file:     %s\n", report.ErrorFileID)
			}
			return nil
		},
	}
	return cmd
}
