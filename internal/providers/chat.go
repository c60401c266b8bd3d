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

const (
	defaultChatBaseURL = "https://api.openai.com/v1"
	chatDoneSentinel   = "[DONE]"
)

// chatProvider speaks the chat-completions wire protocol: SSE chunks with
// choices[].delta.content, a final usage-bearing chunk, and a "[DONE]"
// sentinel. Continuation state is the replayed prior turns.
type chatProvider struct {
	id    string
	kind  string
	model string
	opts  httpOptions
	http  *httpClient
	lim   *limiter.Limiter
}

func newChatProvider(spec models.ProviderSpec, lim *limiter.Limiter) (Provider, error) {
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

	return &chatProvider{
		id:    spec.ID,
		kind:  spec.Kind(),
		model: spec.Model(),
		opts:  opts,
		http:  newHTTPClient(opts.apiKey("OPENAI_API_KEY")),
		lim:   lim,
	}, nil
}

func (p *chatProvider) ID() string   { return p.id }
func (p *chatProvider) Kind() string { return p.kind }

func (p *chatProvider) MimeTypes() []string { return p.opts.MimeTypes }

// chat wire shapes. Only the fields the engine reads.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *chatProvider) Run(ctx context.Context, conv models.Conversation, sess *Session) (*Stream, error) {
	full := conv
	if sess != nil && len(sess.PriorTurns) > 0 {
		full = append(append(models.Conversation{}, sess.PriorTurns...), conv...)
	}

	body := map[string]any{
		"model":          p.model,
		"messages":       p.buildMessages(full),
		"stream":         true,
		"stream_options": map[string]any{"include_usage": true},
	}
	if p.opts.Temperature != nil {
		body["temperature"] = *p.opts.Temperature
	}
	if p.opts.MaxTokens > 0 {
		body["max_tokens"] = p.opts.MaxTokens
	}
	for k, v := range p.opts.Extra {
		body[k] = v
	}

	permit, err := p.lim.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := p.http.postStream(ctx, p.opts.BaseURL+"/chat/completions", body)
	if err != nil {
		permit.Release()
		return nil, err
	}

	stream := NewStream()
	go p.consume(ctx, resp, full, permit, stream)
	return stream, nil
}

func (p *chatProvider) consume(ctx context.Context, resp *http.Response, sent models.Conversation, permit *limiter.Permit, stream *Stream) {
	defer permit.Release()
	defer resp.Body.Close()

	var (
		buf     []byte // running full text, from deltas
		lastRaw json.RawMessage
		usage   *models.TokenUsage
		done    bool
	)

	scanner := sse.NewScanner(resp.Body)
	for {
		payload, ok := scanner.Next()
		if !ok {
			break
		}
		if payload == chatDoneSentinel {
			done = true
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			stream.Settle(nil, &ProtocolError{Reason: fmt.Sprintf("unparseable chunk: %v", err)})
			return
		}
		lastRaw = json.RawMessage(payload)

		for _, choice := range chunk.Choices {
			delta := choice.Delta.Content + choice.Delta.Refusal
			if delta != "" {
				buf = append(buf, delta...)
				stream.Emit(ctx, delta)
			}
		}
		if chunk.Usage != nil {
			usage = &models.TokenUsage{
				Input:  chunk.Usage.PromptTokens,
				Output: chunk.Usage.CompletionTokens,
				Total:  chunk.Usage.TotalTokens,
			}
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
	if !done {
		stream.Settle(nil, &ProtocolError{Reason: "stream ended without [DONE]"})
		return
	}

	p.opts.cost(usage)
	text := string(buf)
	slog.Debug("chat stream settled", "provider", p.id, "bytes", len(buf))

	stream.Settle(&Result{
		Raw:   lastRaw,
		Parts: []models.ContentPart{models.TextPart(text)},
		Usage: usage,
		Session: &Session{
			PriorTurns: sent.WithTurn(models.Turn{
				Role:  models.RoleAssistant,
				Parts: []models.ContentPart{models.TextPart(text)},
			}),
		},
	}, nil)
}

// buildMessages converts a conversation into chat-completions messages,
// filtering binary parts against the provider's declared mime types.
func (p *chatProvider) buildMessages(conv models.Conversation) []map[string]any {
	messages := make([]map[string]any, 0, len(conv))
	for _, turn := range conv {
		role := string(turn.Role)
		if turn.Role == models.RoleDeveloper {
			role = "system" // chat-completions has no developer role
		}

		var blocks []map[string]any
		textOnly := true
		for _, part := range turn.Parts {
			switch part.Type {
			case models.PartText:
				blocks = append(blocks, map[string]any{"type": "text", "text": part.Text})
			case models.PartFile:
				if !p.opts.mimeAllowed(part.MimeType) {
					continue
				}
				textOnly = false
				blocks = append(blocks, map[string]any{
					"type": "image_url",
					"image_url": map[string]any{
						"url": fmt.Sprintf("data:%s;base64,%s", part.MimeType, encodeBase64(part.Data)),
					},
				})
			}
		}

		if textOnly {
			messages = append(messages, map[string]any{
				"role":    role,
				"content": models.JoinText(turn.Parts),
			})
			continue
		}
		messages = append(messages, map[string]any{"role": role, "content": blocks})
	}
	return messages
}
