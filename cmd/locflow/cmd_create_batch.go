package main

import (
	"fmt"

	"github.com/locflow/locflow/internal/manifest"
	"github.com/spf13/cobra"
)

func newCreateBatchCommand() *cobra.Command {
	var (
		sessionID  string
		targets    []string
		files      []string
		categories []string
		model      string
	)

	cmd := &cobra.Command{
		Use:   "create-batch",
		Short: "Build a draft batch from the source content tree",
		Long: `Scans the source locale tree, builds one translation request per
(file, target locale) pair, and writes the request file and manifest
under the work directory. The batch stays in draft until submitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(cmd))
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = "adhoc"
			}

			m, err := a.builder.CreateBatch(sessionID, manifest.CreateBatchOptions{
				SourceLocale:  a.cfg.SourceLocale,
				TargetLocales: targets,
				IncludeFiles:  files,
				Categories:    categories,
				Model:         model,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Created batch %s: %d requests (%d files x %d locales)\n",
				m.BatchID, m.TotalRequests, len(m.Files)/len(m.TargetLocales), len(m.TargetLocales))
			fmt.Printf("Request file: %s\n", manifest.RequestFilePath(m.BatchID))
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session that owns the batch")
	cmd.Flags().StringSliceVar(&targets, "locales", nil, "Target locales (default: all configured)")
	cmd.Flags().StringSliceVar(&files, "files", nil, "Restrict to these relative paths")
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "Restrict to these content categories")
	cmd.Flags().StringVar(&model, "model", "", "Override the configured model")

	return cmd
}
