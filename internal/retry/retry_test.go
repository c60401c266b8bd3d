package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	v, err := Do(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, WithBaseDelay(time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsWhenPredicateDeclines(t *testing.T) {
	permanent := errors.New("bad request")
	attempts := 0

	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, permanent
	},
		WithBaseDelay(time.Millisecond),
		WithShouldRetry(func(err error, attempt int) bool { return false }),
	)

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts, "a declined error must not be retried")
}

func TestDoExhaustsAttempts(t *testing.T) {
	transient := errors.New("still broken")
	attempts := 0

	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, transient
	},
		WithBaseDelay(time.Millisecond),
		WithMaxAttempts(4),
	)

	require.ErrorIs(t, err, transient)
	assert.Equal(t, 4, attempts)
}

func TestDoNeverRetriesAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	_, err := Do(ctx, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("transient")
	},
		WithBaseDelay(time.Millisecond),
		WithShouldRetry(func(error, int) bool { return true }),
	)

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "cancellation overrides the predicate")
}

func TestDoPredicateSeesAttemptNumbers(t *testing.T) {
	var seen []int
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		return 0, errors.New("transient")
	},
		WithBaseDelay(time.Millisecond),
		WithMaxAttempts(3),
		WithShouldRetry(func(err error, attempt int) bool {
			seen = append(seen, attempt)
			return true
		}),
	)

	require.Error(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)
}
