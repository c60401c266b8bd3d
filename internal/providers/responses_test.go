package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgrid/promptgrid/internal/limiter"
	"github.com/promptgrid/promptgrid/internal/models"
)

func responsesSpec(baseURL string) models.ProviderSpec {
	return models.ProviderSpec{
		ID: "responses:gpt-test",
		Config: map[string]any{
			"base_url": baseURL,
			"api_key":  "test-key",
		},
	}
}

func TestResponsesProviderCompletedPayloadWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		sseWrite(w,
			`{"type":"response.output_text.delta","delta":"par"}`,
			`{"type":"response.output_text.delta","delta":"tial"}`,
			`{"type":"some.future.event"}`,
			`{"type":"response.completed","response":{"id":"resp_1","output":[{"type":"message","content":[{"type":"output_text","text":"authoritative"}]}],"usage":{"input_tokens":7,"output_tokens":3,"total_tokens":10}}}`,
		)
	}))
	defer srv.Close()

	p, err := newResponsesProvider(responsesSpec(srv.URL), limiter.New(1))
	require.NoError(t, err)

	stream, err := p.Run(context.Background(), models.Conversation{models.UserTurn("hi")}, nil)
	require.NoError(t, err)

	var deltas []string
	result, err := Drain(stream, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)

	assert.Equal(t, []string{"par", "tial"}, deltas)
	// The completed payload, not the accumulated deltas, is the output.
	assert.Equal(t, "authoritative", result.Text())
	require.NotNil(t, result.Usage)
	assert.Equal(t, 10, result.Usage.Total)
	require.NotNil(t, result.Session)
	assert.Equal(t, "resp_1", result.Session.PreviousResponseID)
}

func TestResponsesProviderChainsOnPreviousResponseID(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		sseWrite(w, `{"type":"response.completed","response":{"id":"resp_2","output":[]}}`)
	}))
	defer srv.Close()

	p, err := newResponsesProvider(responsesSpec(srv.URL), limiter.New(1))
	require.NoError(t, err)

	sess := &Session{PreviousResponseID: "resp_1"}
	stream, err := p.Run(context.Background(), models.Conversation{models.UserTurn("next")}, sess)
	require.NoError(t, err)
	_, err = Drain(stream, nil)
	require.NoError(t, err)

	assert.Equal(t, "resp_1", gotBody["previous_response_id"])
}

func TestResponsesProviderFailedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseWrite(w, `{"type":"response.failed","response":{"id":"r","error":{"message":"over capacity"}}}`)
	}))
	defer srv.Close()

	p, err := newResponsesProvider(responsesSpec(srv.URL), limiter.New(1))
	require.NoError(t, err)

	stream, err := p.Run(context.Background(), models.Conversation{models.UserTurn("hi")}, nil)
	require.NoError(t, err)

	_, err = Drain(stream, nil)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Contains(t, protoErr.Reason, "over capacity")
}

func TestResponsesProviderMissingCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseWrite(w, `{"type":"response.output_text.delta","delta":"never finished"}`)
	}))
	defer srv.Close()

	p, err := newResponsesProvider(responsesSpec(srv.URL), limiter.New(1))
	require.NoError(t, err)

	stream, err := p.Run(context.Background(), models.Conversation{models.UserTurn("hi")}, nil)
	require.NoError(t, err)

	_, err = Drain(stream, nil)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}
