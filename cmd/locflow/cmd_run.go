package main

import (
	"fmt"
	"time"

	"github.com/locflow/locflow/internal/pipeline"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var (
		manual       bool
		incremental  bool
		targets      []string
		categories   []string
		files        []string
		model        string
		watch        bool
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a session and drive it through the pipeline",
		Long: `Creates a new pipeline session and advances it. In the default auto
mode the batch is built and submitted in one go; with --watch the
command then polls the provider until the batch finishes and the
translations are written. Manual mode stops after building the batch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(cmd))
			if err != nil {
				return err
			}
			machine := a.machine()

			mode := pipeline.ModeAuto
			if manual {
				mode = pipeline.ModeManual
			}
			sess, err := machine.CreateSession(pipeline.CreateSessionOptions{
				Repository:    a.cfg.Repository,
				SourceLocale:  a.cfg.SourceLocale,
				TargetLocales: targets,
				Mode:          mode,
				Incremental:   incremental,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created session %s (%s)\n", sess.ID, sess.Mode)

			sess, err = machine.Process(cmd.Context(), sess.ID, pipeline.ProcessOptions{
				Categories:   categories,
				IncludeFiles: files,
				Model:        model,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Batch %s created\n", sess.ActiveBatchID())

			if !sess.StepCompleted(pipeline.StepSubmitted) {
				if len(sess.Errors) > 0 {
					fmt.Printf("Pipeline halted at submit: %s\n", sess.Errors[len(sess.Errors)-1].Message)
					fmt.Printf("Resume with: locflow submit %s\n", sess.ActiveBatchID())
					return nil
				}
				fmt.Printf("Submit with: locflow submit %s\n", sess.ActiveBatchID())
				return nil
			}
			fmt.Printf("Submitted as provider batch %s\n", sess.Step(pipeline.StepSubmitted).ProviderBatchID)

			if !watch {
				fmt.Printf("Poll with: locflow process %s\n", sess.ID)
				return nil
			}

			for {
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(pollInterval):
				}

				sess, err = machine.Sync(cmd.Context(), sess.ID)
				if err != nil {
					return err
				}
				if sess.StepCompleted(pipeline.StepCompleted) {
					fmt.Printf("Done: %d translations written\n",
						sess.Step(pipeline.StepCompleted).TranslationCount)
					return nil
				}
				if n := len(sess.Errors); n > 0 && sess.Errors[n-1].Step == pipeline.StepProcessing {
					fmt.Printf("Batch ended without results: %s\n", sess.Errors[n-1].Message)
					return nil
				}
				fmt.Printf("  processing... %d%%\n", sess.Step(pipeline.StepProcessing).Progress)
			}
		},
	}

	cmd.Flags().BoolVar(&manual, "manual", false, "Stop after each pipeline step")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "Translate only keys changed since the last snapshot")
	cmd.Flags().StringSliceVar(&targets, "locales", nil, "Target locales (default: all configured)")
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "Restrict to these content categories")
	cmd.Flags().StringSliceVar(&files, "files", nil, "Restrict to these relative paths")
	cmd.Flags().StringVar(&model, "model", "", "Override the configured model")
	cmd.Flags().BoolVar(&watch, "watch", false, "Poll until the batch completes")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 30*time.Second, "Interval between status polls with --watch")

	return cmd
}
