package assertions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/promptgrid/promptgrid/internal/models"
)

// regexAssertion checks the output against must-match and must-not-match
// pattern lists.
type regexAssertion struct {
	mustMatch    []*regexp.Regexp
	mustNotMatch []*regexp.Regexp
}

func newRegexAssertion(mustMatch, mustNotMatch []string) (*regexAssertion, error) {
	if len(mustMatch) == 0 && len(mustNotMatch) == 0 {
		return nil, errors.New("regex assertion needs 'must_match' or 'must_not_match'")
	}

	compile := func(patterns []string) ([]*regexp.Regexp, error) {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("regex assertion: bad pattern %q: %w", p, err)
			}
			out = append(out, re)
		}
		return out, nil
	}

	must, err := compile(mustMatch)
	if err != nil {
		return nil, err
	}
	mustNot, err := compile(mustNotMatch)
	if err != nil {
		return nil, err
	}
	return &regexAssertion{mustMatch: must, mustNotMatch: mustNot}, nil
}

func (a *regexAssertion) Name() string { return "regex" }
func (a *regexAssertion) Kind() Kind   { return KindRegex }

func (a *regexAssertion) Assert(_ context.Context, in *CellInput) (*models.AssertionResult, error) {
	var failures []string
	for _, re := range a.mustMatch {
		if !re.MatchString(in.Output) {
			failures = append(failures, fmt.Sprintf("no match for %q", re.String()))
		}
	}
	for _, re := range a.mustNotMatch {
		if re.MatchString(in.Output) {
			failures = append(failures, fmt.Sprintf("forbidden match for %q", re.String()))
		}
	}

	if len(failures) > 0 {
		return &models.AssertionResult{Pass: false, Message: strings.Join(failures, "; ")}, nil
	}
	return &models.AssertionResult{Pass: true}, nil
}
