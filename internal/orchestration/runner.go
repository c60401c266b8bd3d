package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptgrid/promptgrid/internal/assertions"
	"github.com/promptgrid/promptgrid/internal/config"
	"github.com/promptgrid/promptgrid/internal/models"
	"github.com/promptgrid/promptgrid/internal/providers"
	"github.com/promptgrid/promptgrid/internal/queue"
	"github.com/promptgrid/promptgrid/internal/storage"
)

// ProgressEventType discriminates listener callbacks.
type ProgressEventType int

const (
	// EventRunStarted fires once, after the matrix is allocated.
	EventRunStarted ProgressEventType = iota
	// EventCellStarted fires when a cell begins executing.
	EventCellStarted
	// EventCellDelta fires for each streamed text fragment.
	EventCellDelta
	// EventCellSettled fires once a cell's result is final, before row
	// assertions run.
	EventCellSettled
	// EventRowAsserted fires per test after its row assertions have been
	// folded into the cells.
	EventRowAsserted
	// EventRunCompleted fires once, after the digest is computed.
	EventRunCompleted
)

// ProgressEvent is one observation of run progress. Result is only set on
// EventCellSettled and points into the run's results matrix.
type ProgressEvent struct {
	Type      ProgressEventType
	TestIndex int
	EnvIndex  int
	Env       models.EnvLabel
	Delta     string
	Result    *models.TestResult
}

// ProgressListener observes run progress. Callbacks arrive from multiple
// goroutines; listeners synchronize their own state.
type ProgressListener func(ProgressEvent)

// Runner executes a full evaluation: every merged test against every
// environment, then row assertions, then persistence.
type Runner struct {
	cfg      *config.RunConfig
	manager  *providers.Manager
	store    storage.Store
	listener ProgressListener
}

// NewRunner wires a runner. store and listener may be nil.
func NewRunner(cfg *config.RunConfig, manager *providers.Manager, store storage.Store, listener ProgressListener) *Runner {
	return &Runner{cfg: cfg, manager: manager, store: store, listener: listener}
}

func (r *Runner) emit(ev ProgressEvent) {
	if r.listener != nil {
		r.listener(ev)
	}
}

// Run executes the evaluation and returns the completed run. Configuration
// errors (unknown providers, prompts, assertion types) surface before any
// provider is called; once execution starts, cell failures are recorded in
// the matrix and never abort siblings.
func (r *Runner) Run(ctx context.Context) (*models.Run, error) {
	started := time.Now()
	spec := r.cfg.Spec()

	envs, err := r.buildEnvironments(spec)
	if err != nil {
		return nil, err
	}

	tests := make([]models.TestCase, len(spec.Tests))
	for i, tc := range spec.Tests {
		tests[i] = models.MergeDefault(spec.DefaultTest, tc)
	}

	am, err := r.buildAssertionManager(spec, tests)
	if err != nil {
		return nil, err
	}

	cellAsserts, rowAsserts, err := buildAssertions(am, tests)
	if err != nil {
		return nil, err
	}

	description := r.cfg.Description()
	if description == "" {
		description = spec.Description
	}

	labels := make([]models.EnvLabel, len(envs))
	for i, env := range envs {
		labels[i] = env.Label
	}
	run := models.NewRun(description, labels, tests)
	r.emit(ProgressEvent{Type: EventRunStarted})

	slog.Info("run starting",
		"run_id", run.ID,
		"tests", len(tests),
		"envs", len(envs),
		"concurrency", r.cfg.Concurrency())

	q := queue.New(r.cfg.Concurrency())
	for t := range tests {
		for e := range envs {
			t, e := t, e
			q.Enqueue(func() {
				r.runCell(ctx, envs[e], tests[t], run.Results[t][e], t, e, cellAsserts[t])
			})
		}
	}

	if err := q.Completed(ctx); err != nil {
		return run, err
	}

	r.runRowAssertions(ctx, run, rowAsserts)

	run.Finalize(started)
	r.emit(ProgressEvent{Type: EventRunCompleted})

	if err := am.Destroy(); err != nil {
		slog.Warn("assertion manager teardown failed", "error", err)
	}

	if r.store != nil {
		if err := r.store.Save(run); err != nil {
			return run, fmt.Errorf("persist run %s: %w", run.ID, err)
		}
	}

	slog.Info("run complete",
		"run_id", run.ID,
		"passed", run.Digest.Passed,
		"failed", run.Digest.Failed,
		"errors", run.Digest.Errors)
	return run, nil
}

// buildEnvironments expands providers x prompts, honoring per-provider prompt
// override lists.
func (r *Runner) buildEnvironments(spec *models.EvalSpec) ([]*Environment, error) {
	byLabel := make(map[string]models.PromptSpec, len(spec.Prompts))
	allLabels := make([]string, 0, len(spec.Prompts))
	for _, p := range spec.Prompts {
		byLabel[p.Label] = p
		allLabels = append(allLabels, p.Label)
	}

	var envs []*Environment
	for _, pv := range spec.Providers {
		p, err := r.manager.Get(pv)
		if err != nil {
			return nil, err
		}

		labels := pv.Prompts
		if len(labels) == 0 {
			labels = allLabels
		}
		for _, label := range labels {
			def, ok := byLabel[label]
			if !ok {
				return nil, fmt.Errorf("provider %q references unknown prompt %q", pv.ID, label)
			}
			envs = append(envs, newEnvironment(p, def, r.cfg.PipelineMaxSteps()))
		}
	}
	return envs, nil
}

// buildAssertionManager resolves the judge provider only when the spec
// actually uses model-graded assertion kinds.
func (r *Runner) buildAssertionManager(spec *models.EvalSpec, tests []models.TestCase) (*assertions.Manager, error) {
	if !usesModelGraded(tests) {
		return assertions.NewManager(nil), nil
	}

	judgeID := r.cfg.JudgeProviderID()
	if judgeID == "" {
		return nil, fmt.Errorf("model-graded assertions need a judge provider")
	}

	judgeSpec := models.ProviderSpec{ID: judgeID}
	for _, pv := range spec.Providers {
		if pv.ID == judgeID {
			judgeSpec = pv
			break
		}
	}

	p, err := r.manager.Get(judgeSpec)
	if err != nil {
		return nil, fmt.Errorf("judge provider %q: %w", judgeID, err)
	}
	return assertions.NewManager(newProviderJudge(p)), nil
}

func usesModelGraded(tests []models.TestCase) bool {
	for _, tc := range tests {
		for _, a := range tc.Assert {
			switch assertions.Kind(a.Type) {
			case assertions.KindRubric, assertions.KindConsistency, assertions.KindSelectBest:
				return true
			}
		}
	}
	return false
}

// buildAssertions constructs every assertion before any provider call, so a
// bad spec fails fast instead of mid-run. Row assertions dedupe inside the
// manager; the per-test slice keeps only distinct instances.
func buildAssertions(am *assertions.Manager, tests []models.TestCase) ([][]assertions.CellAssertion, [][]assertions.RowAssertion, error) {
	cells := make([][]assertions.CellAssertion, len(tests))
	rows := make([][]assertions.RowAssertion, len(tests))

	for t, tc := range tests {
		seen := make(map[assertions.RowAssertion]bool)
		for _, spec := range tc.Assert {
			a, err := am.Get(spec, tc.Vars)
			if err != nil {
				return nil, nil, fmt.Errorf("test %d: %w", t+1, err)
			}
			switch v := a.(type) {
			case assertions.CellAssertion:
				cells[t] = append(cells[t], v)
			case assertions.RowAssertion:
				if !seen[v] {
					seen[v] = true
					rows[t] = append(rows[t], v)
				}
			default:
				return nil, nil, fmt.Errorf("test %d: assertion %q implements neither variant", t+1, spec.Type)
			}
		}
	}
	return cells, rows, nil
}

// runCell executes one (test, environment) cell and applies its cell
// assertions. Every failure mode lands in the pre-allocated result; nothing
// escapes to the queue.
func (r *Runner) runCell(ctx context.Context, env *Environment, tc models.TestCase, res *models.TestResult, t, e int, asserts []assertions.CellAssertion) {
	r.emit(ProgressEvent{Type: EventCellStarted, TestIndex: t, EnvIndex: e, Env: env.Label})

	onDelta := func(delta string) {
		r.emit(ProgressEvent{Type: EventCellDelta, TestIndex: t, EnvIndex: e, Env: env.Label, Delta: delta})
	}

	if err := env.Execute(ctx, tc, res, onDelta); err != nil {
		res.Error = err.Error()
		res.Pass = false
		slog.Debug("cell errored", "test", t, "env", env.Label.ProviderID, "error", err)
	} else {
		in := &assertions.CellInput{
			Output:    res.Output,
			Parts:     res.Parts,
			Vars:      tc.Vars,
			LatencyMs: res.LatencyMs,
			Usage:     res.Usage,
		}
		for _, a := range asserts {
			res.Assertions = append(res.Assertions, assertions.EvalCell(ctx, a, in))
		}
		res.Pass = res.AllAssertionsPassed()
	}

	r.emit(ProgressEvent{Type: EventCellSettled, TestIndex: t, EnvIndex: e, Env: env.Label, Result: res})
}

// runRowAssertions runs each test's row assertions over the settled matrix
// and folds the per-position verdicts back into the cells. Cells that errored
// contribute empty outputs and stay failed regardless of the verdict.
func (r *Runner) runRowAssertions(ctx context.Context, run *models.Run, rowAsserts [][]assertions.RowAssertion) {
	for t, asserts := range rowAsserts {
		if len(asserts) == 0 {
			continue
		}

		row := run.Results[t]
		outputs := make([]string, len(row))
		for e, cell := range row {
			if cell.Error == "" {
				outputs[e] = cell.Output
			}
		}
		in := &assertions.RowInput{Outputs: outputs, Vars: run.Tests[t].Vars}

		for _, a := range asserts {
			results := assertions.EvalRow(ctx, a, in)
			for e, cell := range row {
				cell.Assertions = append(cell.Assertions, results[e])
				if cell.Error == "" {
					cell.Pass = cell.AllAssertionsPassed()
				}
			}
		}
		r.emit(ProgressEvent{Type: EventRowAsserted, TestIndex: t})
	}
}
