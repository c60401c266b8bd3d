package assertions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/promptgrid/promptgrid/internal/models"
)

// rubricArgs are shared by every model-graded assertion kind.
type rubricArgs struct {
	Criteria string `mapstructure:"criteria"`
}

func decodeRubricArgs(vars map[string]any) (rubricArgs, error) {
	var args rubricArgs
	if err := mapstructure.Decode(vars, &args); err != nil {
		return args, err
	}
	if args.Criteria == "" {
		return args, errors.New("model-graded assertion needs 'criteria'")
	}
	return args, nil
}

// rubricAssertion asks a judge model whether one output meets the criteria.
// A malformed or missing verdict fails the assertion with a diagnostic; it
// never surfaces as an error.
type rubricAssertion struct {
	judge Judge
	args  rubricArgs
}

func newRubricAssertion(judge Judge, args rubricArgs) (*rubricAssertion, error) {
	return &rubricAssertion{judge: judge, args: args}, nil
}

func (a *rubricAssertion) Name() string { return "rubric" }
func (a *rubricAssertion) Kind() Kind   { return KindRubric }

func (a *rubricAssertion) Assert(ctx context.Context, in *CellInput) (*models.AssertionResult, error) {
	var sb strings.Builder
	sb.WriteString("You are grading a model output against a rubric.\n\n")
	sb.WriteString("## Rubric\n")
	sb.WriteString(a.args.Criteria)
	sb.WriteString("\n\n## Output\n```\n")
	sb.WriteString(in.Output)
	sb.WriteString("\n```\n\n")
	sb.WriteString(`Respond with only a JSON object: {"pass": true|false, "reason": "<short explanation>"}.`)

	raw, err := a.judge.Evaluate(ctx, sb.String())
	if err != nil {
		return &models.AssertionResult{Pass: false, Message: fmt.Sprintf("rubric judge failed: %v", err)}, nil
	}

	var verdict struct {
		Pass   bool   `json:"pass"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(extractJSON(raw, '{', '}'), &verdict); err != nil {
		return &models.AssertionResult{
			Pass:    false,
			Message: fmt.Sprintf("rubric verdict unparseable: %v", err),
		}, nil
	}

	return &models.AssertionResult{Pass: verdict.Pass, Message: verdict.Reason}, nil
}

// extractJSON trims judge chatter (markdown fences, prose) around the first
// balanced-looking JSON value delimited by open/close.
func extractJSON(s string, open, closing byte) []byte {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, closing)
	if start < 0 || end <= start {
		return []byte(s)
	}
	return []byte(s[start : end+1])
}
