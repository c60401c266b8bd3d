package models

import (
	"time"

	"github.com/google/uuid"
)

// EnvLabel identifies one (provider, prompt) column of the results matrix.
type EnvLabel struct {
	ProviderID  string `json:"provider_id"`
	PromptLabel string `json:"prompt_label"`
}

// Run is one evaluation session: the test list, the environment list, and the
// results matrix filled in during execution. Results[t][e] is the cell for
// test t against environment e.
type Run struct {
	ID          string          `json:"run_id"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Envs        []EnvLabel      `json:"envs"`
	Tests       []TestCase      `json:"tests"`
	Results     [][]*TestResult `json:"results"`
	Digest      *RunDigest      `json:"digest,omitempty"`
}

// NewRun allocates a Run with an empty cell for every (test, env) pair, so
// concurrent writers touch disjoint, pre-allocated positions.
func NewRun(description string, envs []EnvLabel, tests []TestCase) *Run {
	results := make([][]*TestResult, len(tests))
	for t := range tests {
		row := make([]*TestResult, len(envs))
		for e := range row {
			row[e] = &TestResult{}
		}
		results[t] = row
	}
	return &Run{
		ID:          uuid.NewString(),
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Envs:        envs,
		Tests:       tests,
		Results:     results,
	}
}

// RunDigest is the aggregate computed once every cell has settled.
type RunDigest struct {
	TotalCells int     `json:"total_cells"`
	Passed     int     `json:"passed"`
	Failed     int     `json:"failed"`
	Errors     int     `json:"errors"`
	PassRate   float64 `json:"pass_rate"`
	DurationMs int64   `json:"duration_ms"`
}

// Finalize computes the run digest. Call only after all cells have settled.
func (r *Run) Finalize(started time.Time) {
	d := &RunDigest{DurationMs: time.Since(started).Milliseconds()}
	for _, row := range r.Results {
		for _, cell := range row {
			d.TotalCells++
			switch {
			case cell.Error != "":
				d.Errors++
			case cell.Pass:
				d.Passed++
			default:
				d.Failed++
			}
		}
	}
	if d.TotalCells > 0 {
		d.PassRate = float64(d.Passed) / float64(d.TotalCells)
	}
	r.Digest = d
}

// TestResult is one cell's outcome. Output and Parts fill progressively while
// the environment streams; Pass, Assertions and Error are final only after
// the cell settles.
type TestResult struct {
	Pass       bool              `json:"pass"`
	Error      string            `json:"error,omitempty"`
	Output     string            `json:"output,omitempty"`
	Parts      []ContentPart     `json:"parts,omitempty"`
	LatencyMs  int64             `json:"latency_ms,omitempty"`
	Usage      *TokenUsage       `json:"usage,omitempty"`
	Assertions []AssertionResult `json:"assertions,omitempty"`
}

// AllAssertionsPassed reports whether every recorded assertion result passed.
func (tr *TestResult) AllAssertionsPassed() bool {
	for _, a := range tr.Assertions {
		if !a.Pass {
			return false
		}
	}
	return true
}

// AssertionResult is the outcome of exactly one assertion evaluation.
type AssertionResult struct {
	Pass    bool   `json:"pass"`
	Message string `json:"message,omitempty"`
}

// TokenUsage holds provider-reported token counts plus the derived cost.
type TokenUsage struct {
	Input   int     `json:"input"`
	Output  int     `json:"output"`
	Total   int     `json:"total"`
	CostUSD float64 `json:"cost_usd,omitempty"`
}
