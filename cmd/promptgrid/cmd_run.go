package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/promptgrid/promptgrid/internal/config"
	"github.com/promptgrid/promptgrid/internal/limiter"
	"github.com/promptgrid/promptgrid/internal/models"
	"github.com/promptgrid/promptgrid/internal/orchestration"
	"github.com/promptgrid/promptgrid/internal/providers"
	"github.com/promptgrid/promptgrid/internal/storage"
)

var (
	outputDir     string
	concurrency   int
	description   string
	judgeProvider string
	maxSteps      int
	providerLimit int
	verbose       bool
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <eval.yaml>",
		Short: "Run an evaluation spec",
		Long: `Run an evaluation spec.

Every test case is executed against every (provider, prompt) environment.
Results are persisted as a JSON run record under the output directory.`,
		Args: cobra.ExactArgs(1),
		RunE: runCommandE,
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", ".promptgrid/runs", "Directory for persisted run records")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Maximum test cells running at once (default: 5)")
	cmd.Flags().StringVar(&description, "description", "", "Run description (overrides the spec's)")
	cmd.Flags().StringVar(&judgeProvider, "judge", "", "Provider id for model-graded assertions (default: first provider)")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Step ceiling for prompt pipelines (0 = unbounded)")
	cmd.Flags().IntVar(&providerLimit, "provider-limit", 0, "In-flight request cap per provider family (default: 10)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print each cell result as it settles")

	return cmd
}

func runCommandE(cmd *cobra.Command, args []string) error {
	spec, err := models.LoadEvalSpec(args[0])
	if err != nil {
		return fmt.Errorf("failed to load spec: %w", err)
	}

	cfg := config.New(spec,
		config.WithConcurrency(concurrency),
		config.WithDescription(description),
		config.WithJudgeProvider(judgeProvider),
		config.WithPipelineMaxSteps(maxSteps),
		config.WithVerbose(verbose),
	)

	familyCap := providerLimit
	if familyCap <= 0 {
		familyCap = 10
	}
	manager := providers.NewManager(limiter.NewRegistry(familyCap))

	store, err := storage.NewFileStore(outputDir)
	if err != nil {
		return err
	}

	var listener orchestration.ProgressListener
	if verbose {
		listener = newCellPrinter(cmd)
	}

	runner := orchestration.NewRunner(cfg, manager, store, listener)
	run, err := runner.Run(cmd.Context())
	if err != nil {
		return err
	}

	printDigest(cmd, run)

	if run.Digest.Failed > 0 || run.Digest.Errors > 0 {
		return &TestFailureError{Message: fmt.Sprintf(
			"%d of %d cells did not pass", run.Digest.Failed+run.Digest.Errors, run.Digest.TotalCells)}
	}
	return nil
}

// newCellPrinter prints one line per settled cell. Cells settle concurrently,
// so output is serialized under a mutex.
func newCellPrinter(cmd *cobra.Command) orchestration.ProgressListener {
	var mu sync.Mutex
	return func(ev orchestration.ProgressEvent) {
		if ev.Type != orchestration.EventCellSettled {
			return
		}

		status := "PASS"
		detail := ""
		switch {
		case ev.Result.Error != "":
			status = "ERROR"
			detail = " " + ev.Result.Error
		case !ev.Result.Pass:
			status = "FAIL"
		}

		mu.Lock()
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] test %d x %s/%s (%dms)%s\n",
			status, ev.TestIndex+1, ev.Env.ProviderID, ev.Env.PromptLabel,
			ev.Result.LatencyMs, detail)
		mu.Unlock()
	}
}

func printDigest(cmd *cobra.Command, run *models.Run) {
	out := cmd.OutOrStdout()
	d := run.Digest
	fmt.Fprintf(out, "\nRun %s\n", run.ID)
	if run.Description != "" {
		fmt.Fprintf(out, "  %s\n", run.Description)
	}
	fmt.Fprintf(out, "  cells: %d  passed: %d  failed: %d  errors: %d  pass rate: %.0f%%  (%dms)\n",
		d.TotalCells, d.Passed, d.Failed, d.Errors, d.PassRate*100, d.DurationMs)
}
