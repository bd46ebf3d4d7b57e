package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
)

const (
	anthropicVersion = "2023-06-01"

	// DefaultBaseURL is the Anthropic API root.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultModel is used when neither client nor request name a model.
	DefaultModel = "claude-sonnet-4-5"

	// DefaultMaxTokens bounds a completion when the request does not.
	DefaultMaxTokens = 4096

	// DefaultConnectTimeout bounds dialing the API.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultReadTimeout bounds waiting for a response; generation can take minutes.
	DefaultReadTimeout = 300 * time.Second
)

// transportRetry retries pure network failures, never HTTP statuses.
var transportRetry = fgerrors.RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     4 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.2,
	RetryableFunc:  isTransportError,
}

// AnthropicClient implements Client against the Anthropic Messages API.
type AnthropicClient struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int

	connectTimeout time.Duration
	readTimeout    time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	retry      fgerrors.RetryConfig
	logger     *slog.Logger
}

// AnthropicOption configures AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithBaseURL sets the API root (useful for proxies and tests).
func WithBaseURL(u string) AnthropicOption {
	return func(c *AnthropicClient) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithAPIKey sets the x-api-key header value.
func WithAPIKey(key string) AnthropicOption {
	return func(c *AnthropicClient) { c.apiKey = key }
}

// WithModel sets the default model.
func WithModel(model string) AnthropicOption {
	return func(c *AnthropicClient) { c.model = model }
}

// WithMaxTokens sets the default completion length.
func WithMaxTokens(n int) AnthropicOption {
	return func(c *AnthropicClient) { c.maxTokens = n }
}

// WithTimeouts sets the connect and read timeouts.
func WithTimeouts(connect, read time.Duration) AnthropicOption {
	return func(c *AnthropicClient) {
		c.connectTimeout = connect
		c.readTimeout = read
	}
}

// WithRateLimit throttles outgoing calls to rps with the given burst.
// A non-positive rps disables the limiter.
func WithRateLimit(rps float64, burst int) AnthropicOption {
	return func(c *AnthropicClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient replaces the transport built from the timeouts.
func WithHTTPClient(hc *http.Client) AnthropicOption {
	return func(c *AnthropicClient) { c.httpClient = hc }
}

// WithTransportRetry overrides the network retry policy.
func WithTransportRetry(cfg fgerrors.RetryConfig) AnthropicOption {
	return func(c *AnthropicClient) {
		cfg.RetryableFunc = isTransportError
		c.retry = cfg
	}
}

// WithLogger sets the logger for retry diagnostics.
func WithLogger(logger *slog.Logger) AnthropicOption {
	return func(c *AnthropicClient) { c.logger = logger }
}

// NewAnthropicClient creates a client with the given options.
func NewAnthropicClient(opts ...AnthropicOption) *AnthropicClient {
	c := &AnthropicClient{
		baseURL:        DefaultBaseURL,
		model:          DefaultModel,
		maxTokens:      DefaultMaxTokens,
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
		retry:          transportRetry,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newHTTPClient(c.connectTimeout, c.readTimeout)
	}
	return c
}

func newHTTPClient(connect, read time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: connect + read}
}

// Invoke implements Client.
func (c *AnthropicClient) Invoke(ctx context.Context, system string, messages []Message) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{SystemPrompt: system, Messages: messages})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Complete sends one Messages API request, retrying network failures.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, NewError("encode request", err, false)
	}

	cfg := c.retry
	cfg.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.logger.Warn("llm transport error, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}

	result := fgerrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (*CompletionResponse, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, NewError("rate limiter", err, false)
			}
		}
		return c.send(ctx, body)
	})
	if result.Err != nil {
		return nil, result.Err
	}

	result.Value.Duration = time.Since(start)
	return result.Value, nil
}

func (c *AnthropicClient) buildRequest(req CompletionRequest) messagesRequest {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	return messagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      req.SystemPrompt,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}
}

func (c *AnthropicClient) send(ctx context.Context, body []byte) (*CompletionResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, NewError("build request", err, false)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewError("send", err, false)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewError("read response", err, false)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, statusError(httpResp.StatusCode, data)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, NewError("decode response", err, false)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &CompletionResponse{
		Content:      text.String(),
		Model:        parsed.Model,
		FinishReason: parsed.StopReason,
		Usage: TokenUsage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			TotalTokens:  parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}

// statusError converts a non-200 response into an *Error.
func statusError(code int, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	var envelope errorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Type + ": " + envelope.Error.Message
	}
	return &Error{
		Op:          "complete",
		StatusCode:  code,
		Err:         errors.New(msg),
		RateLimited: isRateLimitStatus(code) || isRateLimitText(msg),
	}
}

// isTransportError reports whether err is a network failure worth retrying.
// Context cancellation and HTTP status errors are not.
func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e *Error
	if !errors.As(err, &e) || e.StatusCode != 0 {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// String describes the client for logs.
func (c *AnthropicClient) String() string {
	return fmt.Sprintf("anthropic(%s, model=%s)", c.baseURL, c.model)
}
