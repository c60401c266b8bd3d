package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/promptgrid/promptgrid/internal/models"
	"github.com/promptgrid/promptgrid/internal/retry"
)

const maxErrorBody = 4096

// httpOptions are the recognized provider config fields. Unknown fields pass
// through to the request body untouched via Extra.
type httpOptions struct {
	BaseURL             string   `mapstructure:"base_url"`
	APIKey              string   `mapstructure:"api_key"`
	APIKeyEnv           string   `mapstructure:"api_key_env"`
	Temperature         *float64 `mapstructure:"temperature"`
	MaxTokens           int      `mapstructure:"max_tokens"`
	MimeTypes           []string `mapstructure:"mime_types"`
	PricePerInputToken  float64  `mapstructure:"price_per_input_token"`
	PricePerOutputToken float64  `mapstructure:"price_per_output_token"`

	Extra map[string]any `mapstructure:",remain"`
}

func decodeOptions(config map[string]any) (httpOptions, error) {
	var opts httpOptions
	if err := mapstructure.Decode(config, &opts); err != nil {
		return opts, fmt.Errorf("provider config: %w", err)
	}
	return opts, nil
}

func (o httpOptions) apiKey(defaultEnv string) string {
	if o.APIKey != "" {
		return o.APIKey
	}
	env := o.APIKeyEnv
	if env == "" {
		env = defaultEnv
	}
	return os.Getenv(env)
}

func (o httpOptions) mimeAllowed(mime string) bool {
	if len(o.MimeTypes) == 0 {
		return false
	}
	for _, m := range o.MimeTypes {
		if m == mime || m == "*/*" {
			return true
		}
	}
	return false
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// cost derives the dollar cost from configured per-token prices.
func (o httpOptions) cost(usage *models.TokenUsage) {
	if usage == nil {
		return
	}
	usage.CostUSD = float64(usage.Input)*o.PricePerInputToken +
		float64(usage.Output)*o.PricePerOutputToken
}

// httpClient is shared request plumbing for streaming providers: POST JSON,
// expect 200, surface failing statuses as typed HTTP errors, retry with the
// default predicate. Retry wraps request issuance only; an open stream is
// never retried.
type httpClient struct {
	client *http.Client
	apiKey string
}

func newHTTPClient(apiKey string) *httpClient {
	return &httpClient{
		client: &http.Client{Timeout: 0}, // streams are bounded by ctx, not a client timeout
		apiKey: apiKey,
	}
}

func (c *httpClient) postStream(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("provider: encode request: %w", err)
	}

	return retry.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(b)}
		}
		return resp, nil
	},
		retry.WithShouldRetry(ShouldRetryHTTP),
		retry.WithBaseDelay(500*time.Millisecond),
	)
}
