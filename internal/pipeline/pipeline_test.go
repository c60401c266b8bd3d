package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgrid/promptgrid/internal/models"
	"github.com/promptgrid/promptgrid/internal/prompt"
)

// echoRun replies with a marker plus the rendered prompt, so tests can see
// exactly what each step received.
func echoRun(ctx context.Context, conv models.Conversation) (string, error) {
	var text string
	for _, turn := range conv {
		text += models.JoinText(turn.Parts)
	}
	return "echo(" + text + ")", nil
}

func newEvaluator(t *testing.T, steps []models.StepSpec, run RunFunc, opts Options) *Evaluator {
	t.Helper()
	e, err := New(steps, prompt.NewFormatter(), run, opts)
	require.NoError(t, err)
	return e
}

func TestLinearChainFlowsVariables(t *testing.T) {
	steps := []models.StepSpec{
		{Name: "draft", Prompt: "write {{.topic}}", OutputAs: "draft"},
		{Name: "polish", Prompt: "improve {{.draft}}", Deps: []string{"draft"}, OutputAs: "final"},
	}
	e := newEvaluator(t, steps, echoRun, Options{})

	exec, err := e.Run(context.Background(), map[string]any{"topic": "go"})
	require.NoError(t, err)

	require.Len(t, exec.History, 2)
	assert.Equal(t, "draft", exec.History[0].Step)
	assert.Equal(t, "echo(write go)", exec.Vars["draft"])
	assert.Equal(t, "echo(improve echo(write go))", exec.Vars["final"])
}

func TestStepWithUnboundDependencyNeverFires(t *testing.T) {
	steps := []models.StepSpec{
		{Name: "orphan", Prompt: "use {{.missing}}", Deps: []string{"missing"}, OutputAs: "out"},
	}
	e := newEvaluator(t, steps, echoRun, Options{})

	exec, err := e.Run(context.Background(), map[string]any{"topic": "go"})
	require.NoError(t, err)
	assert.Empty(t, exec.History)
	assert.NotContains(t, exec.Vars, "out")
}

func TestConditionalGatesFiring(t *testing.T) {
	steps := []models.StepSpec{
		{Name: "maybe", Prompt: "hello", If: "ready == true", OutputAs: "out"},
	}
	e := newEvaluator(t, steps, echoRun, Options{})

	exec, err := e.Run(context.Background(), map[string]any{"ready": false})
	require.NoError(t, err)
	assert.Empty(t, exec.History)

	exec, err = e.Run(context.Background(), map[string]any{"ready": true})
	require.NoError(t, err)
	assert.Len(t, exec.History, 1)
}

func TestLoopTerminatesOnHistoryLength(t *testing.T) {
	// Two steps feed each other; the conditionals stop the ping-pong after
	// three total firings.
	steps := []models.StepSpec{
		{Name: "expand", Prompt: "expand {{.seed}}", Deps: []string{"seed"}, If: "history_len < 3", OutputAs: "text"},
		{Name: "reseed", Prompt: "reseed {{.text}}", Deps: []string{"text"}, If: "history_len < 3", OutputAs: "seed"},
	}
	e := newEvaluator(t, steps, echoRun, Options{})

	exec, err := e.Run(context.Background(), map[string]any{"seed": "x"})
	require.NoError(t, err)

	require.Len(t, exec.History, 3)
	assert.Equal(t, "expand", exec.History[0].Step)
	assert.Equal(t, "reseed", exec.History[1].Step)
	assert.Equal(t, "expand", exec.History[2].Step)
}

func TestConditionalSeesHistoryEntries(t *testing.T) {
	steps := []models.StepSpec{
		{Name: "first", Prompt: "start", OutputAs: "a"},
		{
			Name:     "second",
			Prompt:   "follow {{.a}}",
			Deps:     []string{"a"},
			If:       `history[0].step == "first"`,
			OutputAs: "b",
		},
	}
	e := newEvaluator(t, steps, echoRun, Options{})

	exec, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, exec.History, 2)
}

func TestMaxStepsTripsBudget(t *testing.T) {
	// Unconditional mutual recursion: only the ceiling stops it.
	steps := []models.StepSpec{
		{Name: "a", Prompt: "a {{.y}}", Deps: []string{"y"}, OutputAs: "x"},
		{Name: "b", Prompt: "b {{.x}}", Deps: []string{"x"}, OutputAs: "y"},
	}
	e := newEvaluator(t, steps, echoRun, Options{MaxSteps: 5})

	exec, err := e.Run(context.Background(), map[string]any{"y": "seed"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepBudgetExceeded)

	var budgetErr *BudgetError
	require.ErrorAs(t, err, &budgetErr)
	assert.Len(t, budgetErr.Execution.History, 5)
	assert.Len(t, exec.History, 5, "partial execution is returned alongside the error")
}

func TestRunErrorsPropagateWithStepName(t *testing.T) {
	boom := errors.New("upstream down")
	failing := func(ctx context.Context, conv models.Conversation) (string, error) {
		return "", boom
	}
	steps := []models.StepSpec{
		{Name: "fragile", Prompt: "go", OutputAs: "out"},
	}
	e := newEvaluator(t, steps, failing, Options{})

	_, err := e.Run(context.Background(), nil)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fragile")
}

func TestNewRejectsBadGraphs(t *testing.T) {
	f := prompt.NewFormatter()

	_, err := New(nil, f, echoRun, Options{})
	assert.Error(t, err, "empty step list")

	dup := []models.StepSpec{
		{Name: "s", Prompt: "p", OutputAs: "a"},
		{Name: "s", Prompt: "q", OutputAs: "b"},
	}
	_, err = New(dup, f, echoRun, Options{})
	assert.Error(t, err, "duplicate step names")

	bad := []models.StepSpec{
		{Name: "s", Prompt: "p", If: "((", OutputAs: "a"},
	}
	_, err = New(bad, f, echoRun, Options{})
	assert.Error(t, err, "unparseable conditional")
}

func TestCancellationStopsEvaluation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	run := func(ctx context.Context, conv models.Conversation) (string, error) {
		calls++
		cancel()
		return fmt.Sprintf("out-%d", calls), nil
	}
	steps := []models.StepSpec{
		{Name: "a", Prompt: "a {{.y}}", Deps: []string{"y"}, OutputAs: "x"},
		{Name: "b", Prompt: "b {{.x}}", Deps: []string{"x"}, OutputAs: "y"},
	}
	e := newEvaluator(t, steps, run, Options{})

	_, err := e.Run(ctx, map[string]any{"y": "seed"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
