package providers

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldRetryHTTP(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &HTTPError{StatusCode: 429}, true},
		{"server error", &HTTPError{StatusCode: 500}, true},
		{"bad gateway", &HTTPError{StatusCode: 502}, true},
		{"bad request", &HTTPError{StatusCode: 400}, false},
		{"unauthorized", &HTTPError{StatusCode: 401}, false},
		{"not found", &HTTPError{StatusCode: 404}, false},
		{"wrapped http error", fmt.Errorf("call failed: %w", &HTTPError{StatusCode: 503}), true},
		{"network error", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection refused")}, true},
		{"protocol error", &ProtocolError{Reason: "truncated"}, false},
		{"plain error", errors.New("whatever"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetryHTTP(tt.err, 0))
		})
	}
}
