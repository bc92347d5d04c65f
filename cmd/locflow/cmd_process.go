package main

import (
	"fmt"

	"github.com/locflow/locflow/internal/pipeline"
	"github.com/spf13/cobra"
)

func newProcessCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <session-id>",
		Short: "Poll a session's batch and collect finished translations",
		Long: `Checks the session's active batch against the provider. While the
batch is running this records progress; once it completes, the output
is downloaded, matched against the manifest, and every successful
translation is written into its target locale tree.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(cmd))
			if err != nil {
				return err
			}
			sess, err := a.machine().Sync(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if sess.StepCompleted(pipeline.StepCompleted) {
				fmt.Printf("Session %s completed: %d translations written\n",
					sess.ID, sess.Step(pipeline.StepCompleted).TranslationCount)
			} else {
				fmt.Printf("Session %s still processing (%d%%)\n",
					sess.ID, sess.Step(pipeline.StepProcessing).Progress)
			}
			if n := len(sess.Errors); n > 0 {
				last := sess.Errors[n-1]
				fmt.Printf("Last recorded error (%s): %s\n", last.Step, last.Message)
			}
			return nil
		},
	}
	return cmd
}
