// Package pipeline interprets a directed graph of prompt steps with
// dependencies, conditionals and re-entrant loops.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PaesslerAG/gval"

	"github.com/promptgrid/promptgrid/internal/models"
	"github.com/promptgrid/promptgrid/internal/prompt"
)

// ErrStepBudgetExceeded is returned when an explicit MaxSteps ceiling trips.
// The partial execution travels on the error so callers can report how far
// the pipeline got.
var ErrStepBudgetExceeded = errors.New("pipeline: step budget exceeded")

// RunFunc executes one rendered step against the model provider and returns
// its output text.
type RunFunc func(ctx context.Context, conv models.Conversation) (string, error)

// HistoryEntry records one step firing.
type HistoryEntry struct {
	Step   string `json:"step"`
	Prompt string `json:"prompt"`
	Output string `json:"output"`
}

// Execution is the result of evaluating a pipeline: the final variable
// bindings and the ordered firing history.
type Execution struct {
	Vars    map[string]any
	History []HistoryEntry
}

// BudgetError carries the partial execution when the step ceiling trips.
type BudgetError struct {
	Execution *Execution
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("pipeline: step budget exceeded after %d steps", len(e.Execution.History))
}

func (e *BudgetError) Unwrap() error { return ErrStepBudgetExceeded }

// Options tunes evaluation.
type Options struct {
	// MaxSteps is an explicit safety ceiling on total step firings. Zero
	// means unbounded: a pipeline whose conditional never turns false loops
	// forever, which is the pipeline author's responsibility.
	MaxSteps int
}

// Evaluator runs one pipeline graph. Evaluation is a fixed-point iteration
// over a variable-binding map with an execution log; loops are repeated
// linear traversals guarded by conditionals, not true graph cycles.
type Evaluator struct {
	steps      []models.StepSpec
	conditions []gval.Evaluable // nil where a step has no conditional
	formatter  *prompt.Formatter
	run        RunFunc
	opts       Options
}

// New validates the step graph and builds an evaluator.
func New(steps []models.StepSpec, formatter *prompt.Formatter, run RunFunc, opts Options) (*Evaluator, error) {
	if len(steps) == 0 {
		return nil, errors.New("pipeline: no steps")
	}

	names := make(map[string]bool, len(steps))
	outputs := make(map[string]bool, len(steps))
	for _, s := range steps {
		if names[s.Name] {
			return nil, fmt.Errorf("pipeline: duplicate step %q", s.Name)
		}
		names[s.Name] = true
		outputs[s.OutputAs] = true
	}

	lang := gval.Full()
	conditions := make([]gval.Evaluable, len(steps))
	for i, s := range steps {
		if s.If == "" {
			continue
		}
		eval, err := lang.NewEvaluable(s.If)
		if err != nil {
			return nil, fmt.Errorf("pipeline: step %q: bad conditional %q: %w", s.Name, s.If, err)
		}
		conditions[i] = eval
	}

	return &Evaluator{
		steps:      steps,
		conditions: conditions,
		formatter:  formatter,
		run:        run,
		opts:       opts,
	}, nil
}

// Run evaluates the graph: repeatedly fire any step whose dependencies are
// all bound, whose output is stale relative to its dependencies (or which has
// never fired), and whose conditional holds; stop when no step is runnable.
// Steps are scanned in declaration order after every firing, so the order is
// deterministic within a run.
func (e *Evaluator) Run(ctx context.Context, vars map[string]any) (*Execution, error) {
	exec := &Execution{Vars: make(map[string]any, len(vars))}

	// Generation bookkeeping drives loop re-triggering: a step becomes
	// runnable again when any dependency was re-assigned after its last
	// firing.
	gen := make(map[string]int)
	seq := 0
	for k, v := range vars {
		exec.Vars[k] = v
		gen[k] = 0
	}
	firedAt := make([]int, len(e.steps))
	for i := range firedAt {
		firedAt[i] = -1
	}

	for {
		if err := ctx.Err(); err != nil {
			return exec, err
		}

		fired := false
		for i, step := range e.steps {
			runnable, err := e.runnable(ctx, i, exec, gen, firedAt)
			if err != nil {
				return exec, err
			}
			if !runnable {
				continue
			}

			if e.opts.MaxSteps > 0 && len(exec.History) >= e.opts.MaxSteps {
				return exec, &BudgetError{Execution: exec}
			}

			conv, err := e.formatter.Format(step.Prompt, exec.Vars)
			if err != nil {
				return exec, fmt.Errorf("pipeline: step %q: %w", step.Name, err)
			}

			out, err := e.run(ctx, conv)
			if err != nil {
				return exec, fmt.Errorf("pipeline: step %q: %w", step.Name, err)
			}

			seq++
			exec.Vars[step.OutputAs] = out
			gen[step.OutputAs] = seq
			firedAt[i] = seq
			exec.History = append(exec.History, HistoryEntry{
				Step:   step.Name,
				Prompt: models.JoinText(flatten(conv)),
				Output: out,
			})
			slog.Debug("pipeline step fired", "step", step.Name, "history_len", len(exec.History))

			fired = true
			break // rescan from the top for determinism
		}

		if !fired {
			return exec, nil
		}
	}
}

func (e *Evaluator) runnable(ctx context.Context, i int, exec *Execution, gen map[string]int, firedAt []int) (bool, error) {
	step := e.steps[i]

	maxDepGen := 0
	for _, dep := range step.Deps {
		g, ok := gen[dep]
		if !ok {
			return false, nil
		}
		if g > maxDepGen {
			maxDepGen = g
		}
	}

	if firedAt[i] >= 0 && maxDepGen <= firedAt[i] {
		// Nothing re-assigned since the last firing.
		return false, nil
	}

	cond := e.conditions[i]
	if cond == nil {
		return true, nil
	}

	env := make(map[string]any, len(exec.Vars)+2)
	for k, v := range exec.Vars {
		env[k] = v
	}
	env["history_len"] = len(exec.History)
	env["history"] = historyEnv(exec.History)

	ok, err := cond.EvalBool(ctx, env)
	if err != nil {
		return false, fmt.Errorf("pipeline: step %q: conditional %q: %w", step.Name, step.If, err)
	}
	return ok, nil
}

func historyEnv(history []HistoryEntry) []any {
	out := make([]any, 0, len(history))
	for _, h := range history {
		out = append(out, map[string]any{
			"step":   h.Step,
			"prompt": h.Prompt,
			"output": h.Output,
		})
	}
	return out
}

func flatten(conv models.Conversation) []models.ContentPart {
	var parts []models.ContentPart
	for _, t := range conv {
		parts = append(parts, t.Parts...)
	}
	return parts
}
