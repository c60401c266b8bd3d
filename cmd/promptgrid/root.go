package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promptgrid",
		Short: "promptgrid - evaluate prompts across model providers",
		Long: `promptgrid runs declarative prompt evaluations.

A spec file pairs providers with prompts to form an environment matrix, then
scores every test case against every environment with configurable
assertions, including model-graded ones.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newListCommand())

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}
