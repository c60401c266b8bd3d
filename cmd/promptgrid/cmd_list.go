package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promptgrid/promptgrid/internal/storage"
)

var listDir string

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs",
		Args:  cobra.NoArgs,
		RunE:  listCommandE,
	}

	cmd.Flags().StringVarP(&listDir, "output-dir", "o", ".promptgrid/runs", "Directory holding run records")

	return cmd
}

func listCommandE(cmd *cobra.Command, _ []string) error {
	store, err := storage.NewFileStore(listDir)
	if err != nil {
		return err
	}

	runs, err := store.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs found")
		return nil
	}

	for _, run := range runs {
		rate := "-"
		if run.Digest != nil {
			rate = fmt.Sprintf("%.0f%%", run.Digest.PassRate*100)
		}
		desc := run.Description
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Fprintf(out, "%s  %s  %-5s  %s\n",
			run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"), rate, desc)
	}
	return nil
}
