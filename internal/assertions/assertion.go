// Package assertions scores provider outputs. Cell assertions evaluate one
// output; row assertions evaluate the vector of outputs one test produced
// across every environment.
package assertions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"github.com/promptgrid/promptgrid/internal/models"
)

// Kind names a registered assertion type.
type Kind string

const (
	KindContains    Kind = "contains"
	KindRegex       Kind = "regex"
	KindJSONSchema  Kind = "json-schema"
	KindRubric      Kind = "rubric"
	KindConsistency Kind = "consistency"
	KindSelectBest  Kind = "select-best"
)

// Assertion is the common surface of both variants.
type Assertion interface {
	Name() string
	Kind() Kind
}

// CellInput is everything a cell assertion may inspect.
type CellInput struct {
	Output    string
	Parts     []models.ContentPart
	Vars      map[string]any
	LatencyMs int64
	Usage     *models.TokenUsage
}

// CellAssertion evaluates a single output.
type CellAssertion interface {
	Assertion
	Assert(ctx context.Context, in *CellInput) (*models.AssertionResult, error)
}

// RowInput is the full vector of outputs for one test, one entry per
// environment. Entries with no valid output are empty strings; they
// contribute nothing rather than failing the whole row.
type RowInput struct {
	Outputs []string
	Vars    map[string]any
}

// RowAssertion evaluates a whole row, returning one result per position.
type RowAssertion interface {
	Assertion
	AssertRow(ctx context.Context, in *RowInput) ([]models.AssertionResult, error)
}

// Judge runs a model-graded evaluation prompt and returns its raw text.
// Implementations own whatever provider session they need.
type Judge interface {
	Evaluate(ctx context.Context, evalPrompt string) (string, error)
}

// Manager constructs assertion instances from declarative specs. Identical
// row specs dedupe to one shared instance so a row assertion executes once
// per test, not once per cell.
type Manager struct {
	judge Judge

	mu        sync.Mutex
	rows      map[string]RowAssertion
	destroyed bool
}

// NewManager creates a manager. judge may be nil when no model-graded
// assertion kinds are configured; constructing one then is a config error.
func NewManager(judge Judge) *Manager {
	return &Manager{
		judge: judge,
		rows:  make(map[string]RowAssertion),
	}
}

// Get constructs (or reuses) the assertion for a spec. Unknown types are
// configuration errors.
func (m *Manager) Get(spec models.AssertionSpec, testVars map[string]any) (Assertion, error) {
	switch Kind(spec.Type) {
	case KindContains:
		var v struct {
			Value  string   `mapstructure:"value"`
			Values []string `mapstructure:"values"`
		}
		if err := mapstructure.Decode(spec.Vars, &v); err != nil {
			return nil, fmt.Errorf("assertion %q: %w", spec.Type, err)
		}
		return newContainsAssertion(v.Value, v.Values)
	case KindRegex:
		var v struct {
			MustMatch    []string `mapstructure:"must_match"`
			MustNotMatch []string `mapstructure:"must_not_match"`
		}
		if err := mapstructure.Decode(spec.Vars, &v); err != nil {
			return nil, fmt.Errorf("assertion %q: %w", spec.Type, err)
		}
		return newRegexAssertion(v.MustMatch, v.MustNotMatch)
	case KindJSONSchema:
		var v struct {
			Schema map[string]any `mapstructure:"schema"`
		}
		if err := mapstructure.Decode(spec.Vars, &v); err != nil {
			return nil, fmt.Errorf("assertion %q: %w", spec.Type, err)
		}
		return newJSONSchemaAssertion(v.Schema)
	case KindRubric:
		args, err := decodeRubricArgs(spec.Vars)
		if err != nil {
			return nil, err
		}
		if m.judge == nil {
			return nil, errors.New("rubric assertion requires a judge provider")
		}
		return newRubricAssertion(m.judge, args)
	case KindConsistency, KindSelectBest:
		return m.getRow(spec, testVars)
	default:
		return nil, fmt.Errorf("%q is not a valid assertion type", spec.Type)
	}
}

// getRow deduplicates row assertions by spec identity within a manager.
func (m *Manager) getRow(spec models.AssertionSpec, testVars map[string]any) (RowAssertion, error) {
	key, err := rowKey(spec, testVars)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.rows[key]; ok {
		return a, nil
	}

	args, err := decodeRubricArgs(spec.Vars)
	if err != nil {
		return nil, err
	}
	if m.judge == nil {
		return nil, fmt.Errorf("%s assertion requires a judge provider", spec.Type)
	}

	var a RowAssertion
	switch Kind(spec.Type) {
	case KindConsistency:
		a = newConsistencyAssertion(m.judge, args)
	case KindSelectBest:
		a = newSelectBestAssertion(m.judge, args)
	}
	m.rows[key] = a
	return a, nil
}

// rowKey builds a structural identity for a row assertion spec. Canonical
// JSON (map keys sorted) makes equal specs collide.
func rowKey(spec models.AssertionSpec, testVars map[string]any) (string, error) {
	b, err := json.Marshal(map[string]any{
		"type":      spec.Type,
		"vars":      spec.Vars,
		"test_vars": testVars,
	})
	if err != nil {
		return "", fmt.Errorf("assertion %q: unserializable vars: %w", spec.Type, err)
	}
	return string(b), nil
}

// Destroy releases resources held by constructed assertions. It must be
// called exactly once after all assertions for a run have completed.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return errors.New("assertion manager already destroyed")
	}
	m.destroyed = true
	m.rows = nil

	if closer, ok := m.judge.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// EvalCell runs a cell assertion and converts evaluation errors into a
// failing result with a diagnostic message. Errors never cross the
// assertion boundary.
func EvalCell(ctx context.Context, a CellAssertion, in *CellInput) models.AssertionResult {
	res, err := a.Assert(ctx, in)
	if err != nil {
		return models.AssertionResult{Pass: false, Message: fmt.Sprintf("%s: %v", a.Name(), err)}
	}
	return *res
}

// EvalRow runs a row assertion, converting errors into one failing result
// per position.
func EvalRow(ctx context.Context, a RowAssertion, in *RowInput) []models.AssertionResult {
	results, err := a.AssertRow(ctx, in)
	if err == nil && len(results) == len(in.Outputs) {
		return results
	}

	msg := fmt.Sprintf("%s: returned %d results for %d outputs", a.Name(), len(results), len(in.Outputs))
	if err != nil {
		msg = fmt.Sprintf("%s: %v", a.Name(), err)
	}
	out := make([]models.AssertionResult, len(in.Outputs))
	for i := range out {
		out[i] = models.AssertionResult{Pass: false, Message: msg}
	}
	return out
}
