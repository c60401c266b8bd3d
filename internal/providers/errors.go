package providers

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// HTTPError is a failing upstream status. The retry predicate keys on the
// status code.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider: http %d: %s", e.StatusCode, e.Body)
}

// ProtocolError is a malformed or incomplete upstream stream. Protocol
// errors are permanent: the payload will not improve on retry.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "provider: protocol error: " + e.Reason
}

// ShouldRetryHTTP is the default retry predicate for provider calls: retry
// network-level failures and HTTP 429 or any 5xx; other 4xx are client or
// config errors, not transient.
func ShouldRetryHTTP(err error, _ int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
