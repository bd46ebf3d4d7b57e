package research

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

	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
)

// Searcher runs web searches. Implementations fail soft: errors are
// logged and an empty result returned.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) []Evidence
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, query string, maxResults int) []Evidence

// Search implements Searcher.
func (f SearcherFunc) Search(ctx context.Context, query string, maxResults int) []Evidence {
	return f(ctx, query, maxResults)
}

// DefaultTavilyURL is the Tavily API endpoint.
const DefaultTavilyURL = "https://api.tavily.com"

// TavilyClient searches with the Tavily API.
type TavilyClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// TavilyOption configures a TavilyClient.
type TavilyOption func(*TavilyClient)

// WithTavilyBaseURL overrides the API endpoint.
func WithTavilyBaseURL(u string) TavilyOption {
	return func(c *TavilyClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTavilyHTTPClient sets the HTTP client.
func WithTavilyHTTPClient(hc *http.Client) TavilyOption {
	return func(c *TavilyClient) { c.httpClient = hc }
}

// WithTavilyLogger sets the logger for search failures.
func WithTavilyLogger(l *slog.Logger) TavilyOption {
	return func(c *TavilyClient) { c.logger = l }
}

// NewTavilyClient creates a client authenticating with apiKey.
func NewTavilyClient(apiKey string, opts ...TavilyOption) *TavilyClient {
	c := &TavilyClient{
		baseURL:    DefaultTavilyURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search implements Searcher.
func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) []Evidence {
	if c.apiKey == "" {
		c.logger.Error("tavily api key is not set")
		return []Evidence{}
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	results, err := c.search(ctx, query, maxResults)
	if err != nil {
		c.logger.Error("search failed", slog.String("query", query), slog.String("error", err.Error()))
		return []Evidence{}
	}
	c.logger.Info("search complete", slog.String("query", query), slog.Int("results", len(results)))
	return results
}

func (c *TavilyClient) search(ctx context.Context, query string, maxResults int) ([]Evidence, error) {
	body, err := json.Marshal(tavilyRequest{
		APIKey:      c.apiKey,
		Query:       query,
		SearchDepth: "advanced",
		MaxResults:  maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &fgerrors.StatusError{Service: "tavily", Status: resp.StatusCode, Body: string(msg)}
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make([]Evidence, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		out = append(out, Evidence{Content: r.Content, URL: r.URL, Title: r.Title})
	}
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}
