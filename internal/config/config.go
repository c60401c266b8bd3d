// Package config wraps a loaded eval spec with run-scoped settings.
package config

import "github.com/promptgrid/promptgrid/internal/models"

const defaultConcurrency = 5

// RunConfig bundles the spec with everything the orchestrator needs that is
// not part of the declarative configuration itself.
type RunConfig struct {
	spec *models.EvalSpec

	concurrency      int
	description      string
	judgeProviderID  string
	pipelineMaxSteps int
	verbose          bool
}

// Option configures a RunConfig.
type Option func(*RunConfig)

// WithConcurrency caps how many test cells run at once.
func WithConcurrency(n int) Option {
	return func(c *RunConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithDescription attaches a human description to the run.
func WithDescription(desc string) Option {
	return func(c *RunConfig) { c.description = desc }
}

// WithJudgeProvider selects the provider used by model-graded assertions.
// Defaults to the spec's first provider.
func WithJudgeProvider(id string) Option {
	return func(c *RunConfig) { c.judgeProviderID = id }
}

// WithPipelineMaxSteps sets an explicit step ceiling for prompt pipelines.
// Zero leaves them unbounded.
func WithPipelineMaxSteps(n int) Option {
	return func(c *RunConfig) { c.pipelineMaxSteps = n }
}

// WithVerbose enables verbose progress output.
func WithVerbose(v bool) Option {
	return func(c *RunConfig) { c.verbose = v }
}

// New creates a RunConfig around a validated spec.
func New(spec *models.EvalSpec, opts ...Option) *RunConfig {
	c := &RunConfig{
		spec:        spec,
		concurrency: defaultConcurrency,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *RunConfig) Spec() *models.EvalSpec { return c.spec }
func (c *RunConfig) Concurrency() int       { return c.concurrency }
func (c *RunConfig) Description() string    { return c.description }
func (c *RunConfig) PipelineMaxSteps() int  { return c.pipelineMaxSteps }
func (c *RunConfig) Verbose() bool          { return c.verbose }

// JudgeProviderID returns the configured judge provider, falling back to the
// spec's first provider.
func (c *RunConfig) JudgeProviderID() string {
	if c.judgeProviderID != "" {
		return c.judgeProviderID
	}
	if len(c.spec.Providers) > 0 {
		return c.spec.Providers[0].ID
	}
	return ""
}
