package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/promptgrid/promptgrid/internal/limiter"
	"github.com/promptgrid/promptgrid/internal/models"
	"github.com/promptgrid/promptgrid/internal/sse"
)

// responses wire event kinds. Unrecognized kinds are ignored, not fatal.
const (
	respEventTextDelta    = "response.output_text.delta"
	respEventRefusalDelta = "response.refusal.delta"
	respEventCompleted    = "response.completed"
	respEventFailed       = "response.failed"
	respEventError        = "error"
)

// responsesProvider speaks the responses wire protocol: typed SSE events
// where only the "response.completed" payload is authoritative for output
// and usage. Continuation state is the previous response id.
type responsesProvider struct {
	id    string
	kind  string
	model string
	opts  httpOptions
	http  *httpClient
	lim   *limiter.Limiter
}

func newResponsesProvider(spec models.ProviderSpec, lim *limiter.Limiter) (Provider, error) {
	opts, err := decodeOptions(spec.Config)
	if err != nil {
		return nil, err
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultChatBaseURL
	}
	if spec.Model() == "" {
		return nil, fmt.Errorf("provider %q: missing model name", spec.ID)
	}

	return &responsesProvider{
		id:    spec.ID,
		kind:  spec.Kind(),
		model: spec.Model(),
		opts:  opts,
		http:  newHTTPClient(opts.apiKey("OPENAI_API_KEY")),
		lim:   lim,
	}, nil
}

func (p *responsesProvider) ID() string   { return p.id }
func (p *responsesProvider) Kind() string { return p.kind }

func (p *responsesProvider) MimeTypes() []string { return p.opts.MimeTypes }

type responsesEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Message  string `json:"message"`
	Response *struct {
		ID     string `json:"id"`
		Output []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

func (p *responsesProvider) Run(ctx context.Context, conv models.Conversation, sess *Session) (*Stream, error) {
	body := map[string]any{
		"model":  p.model,
		"input":  p.buildInput(conv),
		"stream": true,
	}
	if sess != nil && sess.PreviousResponseID != "" {
		body["previous_response_id"] = sess.PreviousResponseID
	}
	if p.opts.Temperature != nil {
		body["temperature"] = *p.opts.Temperature
	}
	if p.opts.MaxTokens > 0 {
		body["max_output_tokens"] = p.opts.MaxTokens
	}
	for k, v := range p.opts.Extra {
		body[k] = v
	}

	permit, err := p.lim.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := p.http.postStream(ctx, p.opts.BaseURL+"/responses", body)
	if err != nil {
		permit.Release()
		return nil, err
	}

	stream := NewStream()
	go p.consume(ctx, resp, permit, stream)
	return stream, nil
}

func (p *responsesProvider) consume(ctx context.Context, resp *http.Response, permit *limiter.Permit, stream *Stream) {
	defer permit.Release()
	defer resp.Body.Close()

	var completed *responsesEvent
	var completedRaw json.RawMessage

	scanner := sse.NewScanner(resp.Body)
	for {
		payload, ok := scanner.Next()
		if !ok {
			break
		}

		var event responsesEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			stream.Settle(nil, &ProtocolError{Reason: fmt.Sprintf("unparseable event: %v", err)})
			return
		}

		switch event.Type {
		case respEventTextDelta, respEventRefusalDelta:
			stream.Emit(ctx, event.Delta)
		case respEventCompleted:
			completed = &event
			completedRaw = json.RawMessage(payload)
		case respEventFailed:
			reason := "response failed"
			if event.Response != nil && event.Response.Error != nil {
				reason = event.Response.Error.Message
			}
			stream.Settle(nil, &ProtocolError{Reason: reason})
			return
		case respEventError:
			stream.Settle(nil, &ProtocolError{Reason: event.Message})
			return
		default:
			slog.Debug("ignoring event", "provider", p.id, "type", event.Type)
		}
	}

	if err := ctx.Err(); err != nil {
		stream.Settle(nil, err)
		return
	}
	if err := scanner.Err(); err != nil {
		stream.Settle(nil, err)
		return
	}
	if completed == nil || completed.Response == nil {
		stream.Settle(nil, &ProtocolError{Reason: "stream ended without completion event"})
		return
	}

	// Only the completed payload is trusted for output and usage.
	var parts []models.ContentPart
	for _, item := range completed.Response.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" || c.Type == "refusal" {
				parts = append(parts, models.TextPart(c.Text))
			}
		}
	}

	var usage *models.TokenUsage
	if u := completed.Response.Usage; u != nil {
		usage = &models.TokenUsage{Input: u.InputTokens, Output: u.OutputTokens, Total: u.TotalTokens}
		p.opts.cost(usage)
	}

	stream.Settle(&Result{
		Raw:     completedRaw,
		Parts:   parts,
		Usage:   usage,
		Session: &Session{PreviousResponseID: completed.Response.ID},
	}, nil)
}

// buildInput converts the conversation to responses-style input items,
// filtering binary parts against the declared mime types.
func (p *responsesProvider) buildInput(conv models.Conversation) []map[string]any {
	items := make([]map[string]any, 0, len(conv))
	for _, turn := range conv {
		var content []map[string]any
		for _, part := range turn.Parts {
			switch part.Type {
			case models.PartText:
				kind := "input_text"
				if turn.Role == models.RoleAssistant {
					kind = "output_text"
				}
				content = append(content, map[string]any{"type": kind, "text": part.Text})
			case models.PartFile:
				if !p.opts.mimeAllowed(part.MimeType) {
					continue
				}
				content = append(content, map[string]any{
					"type":     "input_file",
					"filename": part.Name,
					"file_data": fmt.Sprintf("data:%s;base64,%s",
						part.MimeType, encodeBase64(part.Data)),
				})
			}
		}
		items = append(items, map[string]any{
			"role":    string(turn.Role),
			"content": content,
		})
	}
	return items
}
