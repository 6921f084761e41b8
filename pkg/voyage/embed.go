// Package voyage provides a Voyage AI contextualized-embeddings client with
// rate-limit-aware retries. The provider enforces tight requests-per-minute
// and tokens-per-minute quotas on free tiers, so the client is built around
// waiting rather than failing.
package voyage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the Voyage AI API root.
	DefaultBaseURL = "https://api.voyageai.com/v1"
	// DefaultModel is the contextualized embedding model.
	DefaultModel = "voyage-context-3"
	// Dimensions is the vector size DefaultModel produces.
	Dimensions = 1024
	// BatchSize caps texts per request to stay under provider throughput limits.
	BatchSize = 8

	// MaxRetries is the attempt ceiling per Embed call.
	MaxRetries = 10
	// baseDelay starts the rate-limit wait; each further rate-limited attempt
	// adds rateLimitStep on top.
	baseDelay     = 20 * time.Second
	rateLimitStep = 10 * time.Second
	// transientDelay doubles per attempt for non-rate-limit transient errors.
	transientDelay = 10 * time.Second
)

// InputType tells the model whether it is embedding stored documents or a
// search query. The model treats the two asymmetrically.
type InputType string

const (
	InputDocument InputType = "document"
	InputQuery    InputType = "query"
)

// Config configures the embeddings client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Dims    int
	Timeout time.Duration
}

// Client calls the Voyage AI contextualized embeddings endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

// New creates an embeddings client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dims == 0 {
		cfg.Dims = Dimensions
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    cfg.Dims,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Dims returns the configured vector dimensionality.
func (c *Client) Dims() int { return c.dims }

// Embed converts a batch of texts into vectors, one per input in the same
// order. Rate-limited attempts wait baseDelay + attempt*rateLimitStep and
// retry; other transient failures back off exponentially. Both share the
// MaxRetries ceiling, and exhausting it returns the last error: proceeding
// without vectors would store chunks that can never be retrieved.
func (c *Client) Embed(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		vectors, err := c.embedOnce(ctx, texts, input)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		switch {
		case IsRateLimit(err):
			wait := baseDelay + time.Duration(attempt)*rateLimitStep
			c.logger.Warn("embedding rate limited", "attempt", attempt+1, "wait", wait)
			if serr := c.sleep(ctx, wait); serr != nil {
				return nil, serr
			}
		case isTransient(err):
			if attempt == MaxRetries-1 {
				return nil, err
			}
			wait := transientDelay * (1 << attempt)
			c.logger.Warn("embedding failed, backing off", "attempt", attempt+1, "wait", wait, "err", err)
			if serr := c.sleep(ctx, wait); serr != nil {
				return nil, serr
			}
		default:
			// Provider rejected the request for a non-transient reason.
			return nil, err
		}
	}
	return nil, fmt.Errorf("voyage: retries exhausted after %d attempts: %w", MaxRetries, lastErr)
}

type embedRequest struct {
	Inputs    [][]string `json:"inputs"`
	Model     string     `json:"model"`
	InputType string     `json:"input_type"`
}

type embedResponse struct {
	Results []struct {
		Embeddings [][]float32 `json:"embeddings"`
	} `json:"results"`
}

func (c *Client) embedOnce(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Inputs:    [][]string{texts},
		Model:     c.model,
		InputType: string(input),
	})
	if err != nil {
		return nil, fmt.Errorf("voyage: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/contextualizedembeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("voyage: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiErrorFrom(resp)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("voyage: decode response: %w", err)
	}
	if len(result.Results) == 0 {
		return nil, fmt.Errorf("voyage: empty results")
	}
	vectors := result.Results[0].Embeddings
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("voyage: got %d vectors for %d inputs", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != c.dims {
			return nil, fmt.Errorf("voyage: vector %d has %d dims, want %d", i, len(v), c.dims)
		}
	}
	return vectors, nil
}

func apiErrorFrom(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(raw)
	var detail struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &detail) == nil && detail.Detail != "" {
		msg = detail.Detail
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// APIError is a provider-reported failure.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("voyage: status %d: %s", e.Status, e.Message)
}

// transportError wraps network-level failures, which are always transient.
type transportError struct{ err error }

func (e *transportError) Error() string { return "voyage: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// IsRateLimit reports whether err is the provider's rate-limit rejection.
// The status code is the strongest signal; the message substrings cover
// proxies that flatten 429s into generic errors.
func IsRateLimit(err error) bool {
	if api, ok := err.(*APIError); ok {
		if api.Status == http.StatusTooManyRequests {
			return true
		}
		msg := strings.ToLower(api.Message)
		return strings.Contains(msg, "rate limit") || strings.Contains(msg, "rpm") || strings.Contains(msg, "tpm")
	}
	return false
}

// isTransient reports whether err is worth retrying with backoff.
func isTransient(err error) bool {
	if _, ok := err.(*transportError); ok {
		return true
	}
	if api, ok := err.(*APIError); ok {
		return api.Status >= 500
	}
	return false
}
