package assertions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/promptgrid/promptgrid/internal/models"
)

// selectBestAssertion is a row assertion: a judge model picks the single
// best output in the row. The winner passes; every other position fails
// with the judge's reasoning.
type selectBestAssertion struct {
	judge Judge
	args  rubricArgs
}

func newSelectBestAssertion(judge Judge, args rubricArgs) *selectBestAssertion {
	return &selectBestAssertion{judge: judge, args: args}
}

func (a *selectBestAssertion) Name() string { return "select-best" }
func (a *selectBestAssertion) Kind() Kind   { return KindSelectBest }

func (a *selectBestAssertion) AssertRow(ctx context.Context, in *RowInput) ([]models.AssertionResult, error) {
	prompt := buildRowPrompt(a.args.Criteria, in.Outputs,
		fmt.Sprintf("Pick the single best output under the criteria. Respond with only a JSON object: "+
			`{"best": <output number, 1-%d>, "reason": "<short explanation>"}.`, len(in.Outputs)))

	raw, err := a.judge.Evaluate(ctx, prompt)
	if err != nil {
		return failRow(len(in.Outputs), fmt.Sprintf("select-best judge failed: %v", err)), nil
	}

	var verdict struct {
		Best   int    `json:"best"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(extractJSON(raw, '{', '}'), &verdict); err != nil {
		return failRow(len(in.Outputs), fmt.Sprintf("select-best verdict unparseable: %v", err)), nil
	}
	if verdict.Best < 1 || verdict.Best > len(in.Outputs) {
		return failRow(len(in.Outputs),
			fmt.Sprintf("select-best verdict index %d out of range 1-%d", verdict.Best, len(in.Outputs))), nil
	}

	results := make([]models.AssertionResult, len(in.Outputs))
	for i := range results {
		if i == verdict.Best-1 {
			results[i] = models.AssertionResult{Pass: true, Message: verdict.Reason}
			continue
		}
		results[i] = models.AssertionResult{
			Pass:    false,
			Message: fmt.Sprintf("judge preferred output %d: %s", verdict.Best, verdict.Reason),
		}
	}
	return results, nil
}
