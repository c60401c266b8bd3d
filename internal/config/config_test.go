package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/promptgrid/promptgrid/internal/models"
)

func specWithProviders(ids ...string) *models.EvalSpec {
	s := &models.EvalSpec{}
	for _, id := range ids {
		s.Providers = append(s.Providers, models.ProviderSpec{ID: id})
	}
	return s
}

func TestNewDefaults(t *testing.T) {
	spec := specWithProviders("openai:gpt-4o")
	c := New(spec)

	assert.Same(t, spec, c.Spec())
	assert.Equal(t, 5, c.Concurrency())
	assert.Empty(t, c.Description())
	assert.Zero(t, c.PipelineMaxSteps())
	assert.False(t, c.Verbose())
}

func TestOptionsApply(t *testing.T) {
	c := New(specWithProviders("openai:gpt-4o"),
		WithConcurrency(12),
		WithDescription("nightly"),
		WithJudgeProvider("responses:gpt-4o"),
		WithPipelineMaxSteps(8),
		WithVerbose(true),
	)

	assert.Equal(t, 12, c.Concurrency())
	assert.Equal(t, "nightly", c.Description())
	assert.Equal(t, "responses:gpt-4o", c.JudgeProviderID())
	assert.Equal(t, 8, c.PipelineMaxSteps())
	assert.True(t, c.Verbose())
}

func TestConcurrencyIgnoresNonPositive(t *testing.T) {
	c := New(specWithProviders("openai:gpt-4o"), WithConcurrency(0))
	assert.Equal(t, 5, c.Concurrency())

	c = New(specWithProviders("openai:gpt-4o"), WithConcurrency(-3))
	assert.Equal(t, 5, c.Concurrency())
}

func TestJudgeProviderFallsBackToFirstProvider(t *testing.T) {
	c := New(specWithProviders("openai:gpt-4o", "responses:gpt-4o-mini"))
	assert.Equal(t, "openai:gpt-4o", c.JudgeProviderID())

	empty := New(&models.EvalSpec{})
	assert.Empty(t, empty.JudgeProviderID())
}
