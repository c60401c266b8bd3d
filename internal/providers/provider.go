// Package providers makes heterogeneous streaming model APIs behave
// uniformly: one interface, per-family concurrency limits, shared retry
// policy, and SSE normalization per wire protocol.
package providers

import (
	"context"
	"encoding/json"

	"github.com/promptgrid/promptgrid/internal/models"
)

// Session is opaque continuation state carried between pipeline steps so a
// provider can preserve conversation context. Chat-style providers replay
// prior turns; responses-style providers chain on the previous response id.
type Session struct {
	PriorTurns         models.Conversation `json:"prior_turns,omitempty"`
	PreviousResponseID string              `json:"previous_response_id,omitempty"`
}

// Result is the final structured value of one provider run. Only this value
// is authoritative for output extraction and usage accounting; streamed
// deltas exist for responsiveness.
type Result struct {
	Raw     json.RawMessage
	Parts   []models.ContentPart
	Usage   *models.TokenUsage
	Session *Session
}

// Text returns the concatenated text of the result's output parts.
func (r *Result) Text() string {
	return models.JoinText(r.Parts)
}

// Provider is the polymorphic capability shared by all API families.
type Provider interface {
	// ID is the full identifier, combining family and model: "openai:gpt-4o".
	ID() string

	// Kind is the provider family, which keys the shared limiter.
	Kind() string

	// MimeTypes lists the content mime types this provider accepts.
	MimeTypes() []string

	// Run submits the conversation and returns a stream of partial text that
	// settles into a final Result. It consumes one family permit for the
	// duration of the underlying network call.
	Run(ctx context.Context, conv models.Conversation, sess *Session) (*Stream, error)
}

// Stream separates "more data" from "done": Events yields text deltas until
// closed, after which Result is valid.
type Stream struct {
	events chan string
	done   chan struct{}
	result *Result
	err    error
}

// NewStream creates an unsettled stream. Provider implementations emit
// deltas into it and settle it exactly once.
func NewStream() *Stream {
	return &Stream{
		events: make(chan string, 16),
		done:   make(chan struct{}),
	}
}

// Events returns the channel of partial text fragments. It is closed when
// the stream settles.
func (s *Stream) Events() <-chan string { return s.events }

// Result blocks until the stream settles and returns the final value or the
// terminal error.
func (s *Stream) Result() (*Result, error) {
	<-s.done
	return s.result, s.err
}

// Emit forwards a delta unless the consumer is gone.
func (s *Stream) Emit(ctx context.Context, text string) {
	if text == "" {
		return
	}
	select {
	case s.events <- text:
	case <-ctx.Done():
	}
}

// Settle finishes the stream. It must be called exactly once.
func (s *Stream) Settle(result *Result, err error) {
	s.result = result
	s.err = err
	close(s.events)
	close(s.done)
}

// Drain consumes a stream's deltas (invoking onDelta for each, if non-nil)
// and returns the final result.
func Drain(s *Stream, onDelta func(string)) (*Result, error) {
	for delta := range s.Events() {
		if onDelta != nil {
			onDelta(delta)
		}
	}
	return s.Result()
}
