package assertions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/promptgrid/promptgrid/internal/models"
)

// containsAssertion checks for substring presence, case-insensitive.
type containsAssertion struct {
	values []string
}

func newContainsAssertion(value string, values []string) (*containsAssertion, error) {
	if value != "" {
		values = append([]string{value}, values...)
	}
	if len(values) == 0 {
		return nil, errors.New("contains assertion needs 'value' or 'values'")
	}
	return &containsAssertion{values: values}, nil
}

func (a *containsAssertion) Name() string { return "contains" }
func (a *containsAssertion) Kind() Kind   { return KindContains }

func (a *containsAssertion) Assert(_ context.Context, in *CellInput) (*models.AssertionResult, error) {
	haystack := strings.ToLower(in.Output)

	var missing []string
	for _, v := range a.values {
		if !strings.Contains(haystack, strings.ToLower(v)) {
			missing = append(missing, v)
		}
	}

	if len(missing) > 0 {
		return &models.AssertionResult{
			Pass:    false,
			Message: fmt.Sprintf("missing expected text: %s", strings.Join(missing, "; ")),
		}, nil
	}
	return &models.AssertionResult{Pass: true}, nil
}
