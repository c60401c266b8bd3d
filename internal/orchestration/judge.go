package orchestration

import (
	"context"

	"github.com/promptgrid/promptgrid/internal/models"
	"github.com/promptgrid/promptgrid/internal/providers"
)

// providerJudge adapts a provider into the single-shot evaluation surface
// model-graded assertions need. Each evaluation is a fresh conversation; no
// session state carries between verdicts.
type providerJudge struct {
	provider providers.Provider
}

func newProviderJudge(p providers.Provider) *providerJudge {
	return &providerJudge{provider: p}
}

func (j *providerJudge) Evaluate(ctx context.Context, evalPrompt string) (string, error) {
	conv := models.Conversation{models.UserTurn(evalPrompt)}

	stream, err := j.provider.Run(ctx, conv, nil)
	if err != nil {
		return "", err
	}

	result, err := providers.Drain(stream, nil)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}
