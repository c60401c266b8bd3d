// Package orchestration builds the test environment matrix, schedules cell
// execution, and assembles the persisted run.
package orchestration

import (
	"context"
	"time"

	"github.com/promptgrid/promptgrid/internal/models"
	"github.com/promptgrid/promptgrid/internal/pipeline"
	"github.com/promptgrid/promptgrid/internal/prompt"
	"github.com/promptgrid/promptgrid/internal/providers"
)

// Environment is one (provider, prompt) pairing: it knows how to turn a test
// case into a final output, either by rendering a flat template or by
// interpreting a prompt pipeline.
type Environment struct {
	Label models.EnvLabel

	provider  providers.Provider
	promptDef models.PromptSpec
	formatter *prompt.Formatter
	maxSteps  int
}

func newEnvironment(p providers.Provider, def models.PromptSpec, maxSteps int) *Environment {
	return &Environment{
		Label:     models.EnvLabel{ProviderID: p.ID(), PromptLabel: def.Label},
		provider:  p,
		promptDef: def,
		formatter: prompt.NewFormatter(),
		maxSteps:  maxSteps,
	}
}

// Execute runs one test against this environment, filling res progressively.
// Output and Parts stream in as the provider produces them; Usage and
// LatencyMs settle at the end. The returned error covers provider and
// pipeline failures only; assertion outcomes are the caller's business.
func (e *Environment) Execute(ctx context.Context, tc models.TestCase, res *models.TestResult, onDelta func(string)) error {
	started := time.Now()
	defer func() {
		res.LatencyMs = time.Since(started).Milliseconds()
	}()

	if len(e.promptDef.Steps) > 0 {
		return e.executePipeline(ctx, tc, res, onDelta)
	}
	return e.executeTemplate(ctx, tc, res, onDelta)
}

func (e *Environment) executeTemplate(ctx context.Context, tc models.TestCase, res *models.TestResult, onDelta func(string)) error {
	conv, err := e.formatter.Format(e.promptDef.Template, tc.Vars)
	if err != nil {
		return err
	}

	stream, err := e.provider.Run(ctx, conv, nil)
	if err != nil {
		return err
	}

	result, err := providers.Drain(stream, func(delta string) {
		res.Output += delta
		if onDelta != nil {
			onDelta(delta)
		}
	})
	if err != nil {
		return err
	}

	res.Output = result.Text()
	res.Parts = result.Parts
	res.Usage = result.Usage
	return nil
}

// executePipeline interprets the step graph, threading the provider session
// between steps so each step sees the conversation so far. The cell output is
// the final step's output; token usage accumulates across steps.
func (e *Environment) executePipeline(ctx context.Context, tc models.TestCase, res *models.TestResult, onDelta func(string)) error {
	var sess *providers.Session
	var usage models.TokenUsage
	sawUsage := false

	runStep := func(ctx context.Context, conv models.Conversation) (string, error) {
		stream, err := e.provider.Run(ctx, conv, sess)
		if err != nil {
			return "", err
		}

		result, err := providers.Drain(stream, onDelta)
		if err != nil {
			return "", err
		}

		sess = result.Session
		if result.Usage != nil {
			sawUsage = true
			usage.Input += result.Usage.Input
			usage.Output += result.Usage.Output
			usage.Total += result.Usage.Total
			usage.CostUSD += result.Usage.CostUSD
		}
		return result.Text(), nil
	}

	eval, err := pipeline.New(e.promptDef.Steps, e.formatter, runStep, pipeline.Options{MaxSteps: e.maxSteps})
	if err != nil {
		return err
	}

	exec, err := eval.Run(ctx, tc.Vars)
	if err != nil {
		return err
	}

	if n := len(exec.History); n > 0 {
		res.Output = exec.History[n-1].Output
		res.Parts = []models.ContentPart{models.TextPart(res.Output)}
	}
	if sawUsage {
		res.Usage = &usage
	}
	return nil
}
