package main

import (
	"fmt"

	"github.com/locflow/locflow/internal/manifest"
	"github.com/spf13/cobra"
)

func newRetryCommand() *cobra.Command {
	var (
		errorFile string
		model     string
	)

	cmd := &cobra.Command{
		Use:   "retry <batch-id>",
		Short: "Build a fresh batch from a prior batch's failures",
		Long: `Reads the batch's error file and rebuilds a draft batch containing
only the failed requests, with their original content and
instructions. Already-successful translations are never re-submitted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(cmd))
			if err != nil {
				return err
			}
			if errorFile == "" {
				errorFile = manifest.ErrorFilePath(args[0])
			}
			retry, groups, err := a.lifecycle().CreateRetryBatch(cmd.Context(), args[0], errorFile, model)
			if err != nil {
				return err
			}

			fmt.Printf("Created retry batch %s with %d requests\n", retry.BatchID, retry.TotalRequests)
			if len(groups) > 0 {
				fmt.Println("\nFailures by (code, type):")
				for _, g := range groups {
					fmt.Printf("  %-24s %-16s x%-4d %s\n", g.Code, g.Type, g.Count, g.Message)
				}
			}
			fmt.Printf("\nSubmit with: locflow submit %s\n", retry.BatchID)
			return nil
		},
	}

	cmd.Flags().StringVar(&errorFile, "error-file", "", "Error file path within the work directory (default: the batch's downloaded error file)")
	cmd.Flags().StringVar(&model, "model", "", "Use a different model for the retry")

	return cmd
}
