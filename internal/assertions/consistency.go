package assertions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/promptgrid/promptgrid/internal/models"
)

// consistencyAssertion is a row assertion: a judge model checks whether the
// outputs across every environment agree with each other under the given
// criteria, returning one verdict per position.
type consistencyAssertion struct {
	judge Judge
	args  rubricArgs
}

func newConsistencyAssertion(judge Judge, args rubricArgs) *consistencyAssertion {
	return &consistencyAssertion{judge: judge, args: args}
}

func (a *consistencyAssertion) Name() string { return "consistency" }
func (a *consistencyAssertion) Kind() Kind   { return KindConsistency }

func (a *consistencyAssertion) AssertRow(ctx context.Context, in *RowInput) ([]models.AssertionResult, error) {
	prompt := buildRowPrompt(a.args.Criteria, in.Outputs,
		fmt.Sprintf("For each output decide whether it is consistent with the others under the criteria. "+
			"Respond with only a JSON array of exactly %d objects, in output order: "+
			`[{"pass": true|false, "reason": "<short explanation>"}, ...].`, len(in.Outputs)))

	raw, err := a.judge.Evaluate(ctx, prompt)
	if err != nil {
		return failRow(len(in.Outputs), fmt.Sprintf("consistency judge failed: %v", err)), nil
	}

	var verdicts []struct {
		Pass   bool   `json:"pass"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(extractJSON(raw, '[', ']'), &verdicts); err != nil {
		return failRow(len(in.Outputs), fmt.Sprintf("consistency verdict unparseable: %v", err)), nil
	}
	if len(verdicts) != len(in.Outputs) {
		return failRow(len(in.Outputs),
			fmt.Sprintf("consistency verdict count %d does not match %d outputs", len(verdicts), len(in.Outputs))), nil
	}

	results := make([]models.AssertionResult, len(verdicts))
	for i, v := range verdicts {
		results[i] = models.AssertionResult{Pass: v.Pass, Message: v.Reason}
	}
	return results, nil
}

// buildRowPrompt lays out the criteria and the numbered row outputs. Empty
// entries are presented as having produced no output so the judge grades the
// rest of the row on its merits.
func buildRowPrompt(criteria string, outputs []string, instruction string) string {
	var sb strings.Builder
	sb.WriteString("You are comparing outputs produced by different model providers for the same test.\n\n")
	sb.WriteString("## Criteria\n")
	sb.WriteString(criteria)
	sb.WriteString("\n")
	for i, out := range outputs {
		sb.WriteString(fmt.Sprintf("\n## Output %d\n", i+1))
		if out == "" {
			sb.WriteString("(no output)\n")
			continue
		}
		sb.WriteString("```\n")
		sb.WriteString(out)
		sb.WriteString("\n```\n")
	}
	sb.WriteString("\n")
	sb.WriteString(instruction)
	sb.WriteString("\n")
	return sb.String()
}

func failRow(n int, msg string) []models.AssertionResult {
	results := make([]models.AssertionResult, n)
	for i := range results {
		results[i] = models.AssertionResult{Pass: false, Message: msg}
	}
	return results
}
