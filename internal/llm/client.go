// Package llm is the HTTP client for the external language-model completion
// service. Calls are deadline-bound via context and rate-limited; upstream
// HTTP statuses are surfaced as *APIError so the retry executor can classify
// them.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Request is one completion call with a structured-output contract.
type Request struct {
	Prompt    string                 `json:"prompt"`
	System    string                 `json:"system,omitempty"`
	MaxTokens int                    `json:"max_tokens,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Response is the service's structured JSON reply.
type Response struct {
	Content    string                 `json:"content"`
	TokensUsed int                    `json:"tokens_used"`
	Model      string                 `json:"model,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// APIError carries the upstream HTTP status for retry classification.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm service returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus implements the retry package's StatusCoder.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Completer is the engine's view of the LLM service. Fakes implement it in
// tests.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Client calls the completion service over HTTP JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit bounds outbound calls per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient returns a client for the service at baseURL. The per-call
// deadline comes from the caller's context, not a client-level timeout, so
// the retry executor stays in charge of attempt deadlines.
func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete posts the request to /v1/complete and decodes the structured
// reply.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	buf, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/complete", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm service call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("llm completion",
		zap.Int("tokens_used", out.TokensUsed),
		zap.String("model", out.Model),
		zap.Duration("duration", time.Since(start)),
	)
	return &out, nil
}

// DecodeStructured parses the completion content as strict JSON into v,
// tolerating a markdown code fence around the payload.
func DecodeStructured(content string, v interface{}) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("structured output is not parseable JSON: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
