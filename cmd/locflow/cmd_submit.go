package main

import (
	"fmt"

	"github.com/locflow/locflow/internal/fault"
	"github.com/locflow/locflow/internal/manifest"
	"github.com/locflow/locflow/internal/pipeline"
	"github.com/spf13/cobra"
)

func newSubmitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <batch-id>",
		Short: "Upload a draft batch and open the provider batch job",
		Long: `Uploads the batch's request file and opens the provider batch job.
When the batch is the active batch of a tracked session, the session's
submitted step is recorded too, so the session can be polled with
"locflow process".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(cmd))
			if err != nil {
				return err
			}
			batchID := args[0]

			man, err := manifest.Load(a.work, batchID)
			if err != nil {
				return err
			}

			sess, err := a.sessions.Load(man.SessionID)
			switch {
			case err == nil && sess.ActiveBatchID() == batchID:
				sess, err = a.machine().Submit(cmd.Context(), sess.ID)
				if err != nil {
					return err
				}
				fmt.Printf("Submitted batch %s\n", batchID)
				fmt.Printf("Provider batch: %s\n", sess.Step(pipeline.StepSubmitted).ProviderBatchID)
				fmt.Printf("Poll with: locflow process %s\n", sess.ID)
				return nil
			case err != nil && !fault.IsKind(err, fault.NotFound):
				return err
			}

			// No owning session (ad hoc batch, or one superseded by a
			// retry): submit the manifest directly.
			m, err := a.lifecycle().Submit(cmd.Context(), batchID)
			if err != nil {
				return err
			}
			fmt.Printf("Submitted batch %s\n", m.BatchID)
			fmt.Printf("Provider batch: %s (input file %s)\n",
				m.Provider.ProviderBatchID, m.Provider.InputFileID)
			return nil
		},
	}
	return cmd
}
