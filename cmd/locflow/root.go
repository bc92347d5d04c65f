package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locflow",
		Short: "locflow - batch translation pipeline for content repositories",
		Long: `locflow drives machine translation of a content repository through
LLM providers, using asynchronous batch jobs for bulk work and a
rate-smoothed direct path for small jobs, and tracks every session
through its pipeline steps until it is ready for a pull request.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentFlags().String("config", "locflow.yaml", "Path to the configuration file")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	cmd.AddCommand(newCreateBatchCommand())
	cmd.AddCommand(newSubmitCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newCancelCommand())
	cmd.AddCommand(newRetryCommand())
	cmd.AddCommand(newProcessCommand())
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newSessionCommand())
	cmd.AddCommand(newTranslateCommand())

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
