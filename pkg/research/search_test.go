package research

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTavilyClient_Search(t *testing.T) {
	var got tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"results": [
			{"title": "A", "url": "https://a.example", "content": "alpha"},
			{"title": "B", "url": "https://b.example", "content": "beta"},
			{"title": "C", "url": "https://c.example", "content": "gamma"}
		]}`)
	}))
	defer srv.Close()

	c := NewTavilyClient("key-1", WithTavilyBaseURL(srv.URL+"/"), WithTavilyLogger(quiet()))
	hits := c.Search(context.Background(), "golang", 2)

	require.Len(t, hits, 2)
	assert.Equal(t, Evidence{Title: "A", URL: "https://a.example", Content: "alpha"}, hits[0])
	assert.Equal(t, "key-1", got.APIKey)
	assert.Equal(t, "golang", got.Query)
	assert.Equal(t, "advanced", got.SearchDepth)
	assert.Equal(t, 2, got.MaxResults)
	assert.False(t, got.IncludeAnswer)
}

func TestTavilyClient_FailsSoft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	testCases := []struct {
		name   string
		client *TavilyClient
	}{
		{"http error", NewTavilyClient("k", WithTavilyBaseURL(srv.URL), WithTavilyLogger(quiet()))},
		{"missing key", NewTavilyClient("", WithTavilyBaseURL(srv.URL), WithTavilyLogger(quiet()))},
		{"unreachable", NewTavilyClient("k", WithTavilyBaseURL("http://127.0.0.1:1"), WithTavilyLogger(quiet()))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			hits := tc.client.Search(context.Background(), "q", 5)
			assert.NotNil(t, hits)
			assert.Empty(t, hits)
		})
	}
}

func TestTavilyClient_DefaultMaxResults(t *testing.T) {
	var got tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"results": []}`)
	}))
	defer srv.Close()

	NewTavilyClient("k", WithTavilyBaseURL(srv.URL), WithTavilyLogger(quiet())).Search(context.Background(), "q", 0)
	assert.Equal(t, DefaultMaxResults, got.MaxResults)
}

func TestParseDecision(t *testing.T) {
	testCases := []struct {
		name    string
		text    string
		want    decision
		wantErr bool
	}{
		{"fenced", "Sure.\n```json\n{\"is_sufficient\": false, \"next_query\": \" go 1.24 \"}\n```", decision{NextQuery: "go 1.24"}, false},
		{"bare", `{"is_sufficient": true, "reasoning": "done"}`, decision{IsSufficient: true, Reasoning: "done"}, false},
		{"prose", "more searching needed", decision{}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseDecision(tc.text)
			if tc.wantErr {
				assert.Equal(t, fgerrors.KindMalformedResponse, fgerrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSearcherFunc(t *testing.T) {
	var s Searcher = SearcherFunc(func(_ context.Context, q string, n int) []Evidence {
		return []Evidence{{Title: q}}
	})
	assert.Equal(t, "x", s.Search(context.Background(), "x", 1)[0].Title)
}
