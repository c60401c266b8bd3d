package assertions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgrid/promptgrid/internal/models"
)

// fakeJudge replies with canned text, recording the prompts it saw.
type fakeJudge struct {
	replies []string
	err     error
	prompts []string
	closed  int
}

func (j *fakeJudge) Evaluate(ctx context.Context, evalPrompt string) (string, error) {
	j.prompts = append(j.prompts, evalPrompt)
	if j.err != nil {
		return "", j.err
	}
	reply := j.replies[0]
	if len(j.replies) > 1 {
		j.replies = j.replies[1:]
	}
	return reply, nil
}

func (j *fakeJudge) Close() error {
	j.closed++
	return nil
}

func cellInput(output string) *CellInput {
	return &CellInput{Output: output}
}

func TestManagerConstructsCellAssertions(t *testing.T) {
	m := NewManager(nil)

	for _, spec := range []models.AssertionSpec{
		{Type: "contains", Vars: map[string]any{"value": "x"}},
		{Type: "regex", Vars: map[string]any{"must_match": []string{"^a"}}},
		{Type: "json-schema", Vars: map[string]any{"schema": map[string]any{"type": "object"}}},
	} {
		a, err := m.Get(spec, nil)
		require.NoError(t, err, spec.Type)
		_, ok := a.(CellAssertion)
		assert.True(t, ok, "%s is a cell assertion", spec.Type)
	}
}

func TestManagerUnknownTypeIsConfigError(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Get(models.AssertionSpec{Type: "vibes"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vibes")
}

func TestManagerModelGradedNeedsJudge(t *testing.T) {
	m := NewManager(nil)
	for _, typ := range []string{"rubric", "consistency", "select-best"} {
		_, err := m.Get(models.AssertionSpec{
			Type: typ,
			Vars: map[string]any{"criteria": "be nice"},
		}, nil)
		assert.Error(t, err, typ)
	}
}

func TestManagerDeduplicatesRowAssertions(t *testing.T) {
	m := NewManager(&fakeJudge{replies: []string{"[]"}})

	spec := models.AssertionSpec{Type: "consistency", Vars: map[string]any{"criteria": "agree"}}
	vars := map[string]any{"q": "2+2"}

	a, err := m.Get(spec, vars)
	require.NoError(t, err)
	b, err := m.Get(spec, vars)
	require.NoError(t, err)
	assert.Same(t, a, b, "identical specs share one instance per test")

	c, err := m.Get(spec, map[string]any{"q": "3+3"})
	require.NoError(t, err)
	assert.NotSame(t, a, c, "different test vars mean a different row")

	d, err := m.Get(models.AssertionSpec{Type: "select-best", Vars: map[string]any{"criteria": "agree"}}, vars)
	require.NoError(t, err)
	assert.NotSame(t, a, d)
}

func TestManagerDestroyExactlyOnce(t *testing.T) {
	judge := &fakeJudge{replies: []string{"{}"}}
	m := NewManager(judge)

	require.NoError(t, m.Destroy())
	assert.Equal(t, 1, judge.closed, "judge resources released on destroy")
	assert.Error(t, m.Destroy(), "second destroy is a bug in the caller")
}

func TestContainsAssertion(t *testing.T) {
	m := NewManager(nil)
	a, err := m.Get(models.AssertionSpec{
		Type: "contains",
		Vars: map[string]any{"values": []string{"Paris", "France"}},
	}, nil)
	require.NoError(t, err)
	ca := a.(CellAssertion)

	res := EvalCell(context.Background(), ca, cellInput("The capital of france is PARIS."))
	assert.True(t, res.Pass, "matching is case-insensitive")

	res = EvalCell(context.Background(), ca, cellInput("The capital is Lyon."))
	assert.False(t, res.Pass)
	assert.Contains(t, res.Message, "Paris")
}

func TestContainsAssertionNeedsValues(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Get(models.AssertionSpec{Type: "contains"}, nil)
	assert.Error(t, err)
}

func TestRegexAssertion(t *testing.T) {
	m := NewManager(nil)
	a, err := m.Get(models.AssertionSpec{
		Type: "regex",
		Vars: map[string]any{
			"must_match":     []string{`\b\d{4}\b`},
			"must_not_match": []string{"(?i)sorry"},
		},
	}, nil)
	require.NoError(t, err)
	ra := a.(CellAssertion)

	res := EvalCell(context.Background(), ra, cellInput("Founded in 1889."))
	assert.True(t, res.Pass)

	res = EvalCell(context.Background(), ra, cellInput("Sorry, founded in 1889."))
	assert.False(t, res.Pass)
	assert.Contains(t, res.Message, "forbidden")

	res = EvalCell(context.Background(), ra, cellInput("a long time ago"))
	assert.False(t, res.Pass)
}

func TestRegexAssertionRejectsBadPattern(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Get(models.AssertionSpec{
		Type: "regex",
		Vars: map[string]any{"must_match": []string{"("}},
	}, nil)
	assert.Error(t, err, "bad patterns are config errors, not runtime failures")
}

func TestJSONSchemaAssertion(t *testing.T) {
	m := NewManager(nil)
	a, err := m.Get(models.AssertionSpec{
		Type: "json-schema",
		Vars: map[string]any{"schema": map[string]any{
			"type":     "object",
			"required": []string{"name"},
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
		}},
	}, nil)
	require.NoError(t, err)
	ja := a.(CellAssertion)

	res := EvalCell(context.Background(), ja, cellInput(`{"name":"box"}`))
	assert.True(t, res.Pass)

	res = EvalCell(context.Background(), ja, cellInput(`{"size":3}`))
	assert.False(t, res.Pass)

	res = EvalCell(context.Background(), ja, cellInput(`not json at all`))
	assert.False(t, res.Pass, "non-JSON output fails the assertion instead of erroring")
	assert.Contains(t, res.Message, "not valid JSON")
}

func TestRubricAssertion(t *testing.T) {
	judge := &fakeJudge{replies: []string{"```json\n{\"pass\": true, \"reason\": \"covers both points\"}\n```"}}
	m := NewManager(judge)

	a, err := m.Get(models.AssertionSpec{
		Type: "rubric",
		Vars: map[string]any{"criteria": "mentions both pros and cons"},
	}, nil)
	require.NoError(t, err)
	ra := a.(CellAssertion)

	res := EvalCell(context.Background(), ra, cellInput("Pros: fast. Cons: pricey."))
	assert.True(t, res.Pass, "fenced JSON verdicts are accepted")
	assert.Equal(t, "covers both points", res.Message)

	require.Len(t, judge.prompts, 1)
	assert.Contains(t, judge.prompts[0], "mentions both pros and cons")
	assert.Contains(t, judge.prompts[0], "Pros: fast.")
}

func TestRubricAssertionJudgeFailureFailsCell(t *testing.T) {
	judge := &fakeJudge{err: errors.New("judge offline")}
	m := NewManager(judge)

	a, err := m.Get(models.AssertionSpec{
		Type: "rubric",
		Vars: map[string]any{"criteria": "anything"},
	}, nil)
	require.NoError(t, err)

	res := EvalCell(context.Background(), a.(CellAssertion), cellInput("output"))
	assert.False(t, res.Pass)
	assert.Contains(t, res.Message, "judge offline")
}

func TestRubricAssertionMalformedVerdict(t *testing.T) {
	judge := &fakeJudge{replies: []string{"I think it's fine!"}}
	m := NewManager(judge)

	a, err := m.Get(models.AssertionSpec{
		Type: "rubric",
		Vars: map[string]any{"criteria": "anything"},
	}, nil)
	require.NoError(t, err)

	res := EvalCell(context.Background(), a.(CellAssertion), cellInput("output"))
	assert.False(t, res.Pass)
	assert.Contains(t, res.Message, "unparseable")
}

func TestModelGradedNeedsCriteria(t *testing.T) {
	m := NewManager(&fakeJudge{replies: []string{"{}"}})
	_, err := m.Get(models.AssertionSpec{Type: "rubric"}, nil)
	assert.Error(t, err)
}

func TestEvalRowConvertsErrors(t *testing.T) {
	a := &consistencyAssertion{judge: &fakeJudge{err: errors.New("down")}}
	a.args.Criteria = "agree"

	results := EvalRow(context.Background(), a, &RowInput{Outputs: []string{"a", "b", "c"}})
	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Pass)
	}
}
