package main

import (
	"fmt"

	"github.com/locflow/locflow/internal/pipeline"
	"github.com/spf13/cobra"
)

func newSessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "View and manage pipeline sessions",
	}

	cmd.AddCommand(newSessionListCommand())
	cmd.AddCommand(newSessionShowCommand())
	cmd.AddCommand(newSessionDeleteCommand())
	cmd.AddCommand(newSessionFinalizeCommand())

	return cmd
}

func newSessionListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(cmd))
			if err != nil {
				return err
			}

			sessions, err := a.sessions.List()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			fmt.Printf("%-32s %-8s %-14s %-8s %s\n", "Session", "Mode", "Current step", "Errors", "Created")
			for _, s := range sessions {
				fmt.Printf("%-32s %-8s %-14s %-8d %s\n",
					s.ID, s.Mode, s.CurrentStep(), len(s.Errors), s.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newSessionShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's step progress and error log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(cmd))
			if err != nil {
				return err
			}

			sess, err := a.sessions.Load(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Session %s (%s", sess.ID, sess.Mode)
			if sess.Incremental {
				fmt.Print(", incremental")
			}
			fmt.Println(")")
			fmt.Printf("Locales: %s -> %v\n\n", sess.SourceLocale, sess.TargetLocales)

			for _, step := range pipeline.Steps() {
				st, ok := sess.Steps[step]
				mark := " "
				detail := ""
				if ok && st.Completed {
					mark = "x"
					detail = st.Timestamp.Format("2006-01-02 15:04:05")
				}
				switch {
				case ok && st.BatchID != "":
					detail += "  batch " + st.BatchID
				case ok && st.ProviderBatchID != "":
					detail += "  provider batch " + st.ProviderBatchID
				case ok && st.TranslationCount > 0:
					detail += fmt.Sprintf("  %d translations", st.TranslationCount)
				case ok && st.PRURL != "":
					detail += "  " + st.PRURL
				}
				fmt.Printf("  [%s] %-14s %s\n", mark, step, detail)
			}

			if len(sess.Errors) > 0 {
				fmt.Println("\nErrors:")
				for _, e := range sess.Errors {
					fmt.Printf("  %s  %-14s %s\n", e.Timestamp.Format("15:04:05"), e.Step, e.Message)
				}
			}
			return nil
		},
	}
}

func newSessionDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and every batch it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(cmd))
			if err != nil {
				return err
			}
			if err := a.machine().DeleteSession(args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted session %s\n", args[0])
			return nil
		},
	}
}

func newSessionFinalizeCommand() *cobra.Command {
	var (
		prNumber int
		prURL    string
	)

	cmd := &cobra.Command{
		Use:   "finalize <session-id>",
		Short: "Record the pull request on a completed session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(cmd))
			if err != nil {
				return err
			}
			sess, err := a.machine().Finalize(args[0], prNumber, prURL)
			if err != nil {
				return err
			}
			fmt.Printf("Session %s finalized (PR #%d)\n", sess.ID, prNumber)
			return nil
		},
	}

	cmd.Flags().IntVar(&prNumber, "pr", 0, "Pull request number")
	cmd.Flags().StringVar(&prURL, "pr-url", "", "Pull request URL")
	_ = cmd.MarkFlagRequired("pr")

	return cmd
}
