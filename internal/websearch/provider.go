// Package websearch detects and executes the two-phase search tool flow:
// initiate (issue the query against the external provider) and consume
// (recover the result list from a tool result and synthesize an answer).
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SearchResult is one provider hit, keyed by Link in the result cache.
type SearchResult struct {
	Link     string `json:"link"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position,omitempty"`
}

// HistoryMessage is one conversation turn sent to the provider for context.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SearchRequest is the provider's request body.
type SearchRequest struct {
	History      []HistoryMessage `json:"history"`
	Query        string           `json:"query"`
	QueryRewrite bool             `json:"query_rewrite"`
	TopK         int              `json:"top_k"`
	ContentType  string           `json:"content_type"`
}

// SearchResponse is the provider's response body.
type SearchResponse struct {
	RequestID string  `json:"request_id"`
	Latency   float64 `json:"latency"`
	Usage     any     `json:"usage,omitempty"`
	Result    struct {
		SearchResult []SearchResult `json:"search_result"`
	} `json:"result"`
}

// Provider is the external search service.
type Provider interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// HTTPProvider calls a search provider over HTTP.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Compile-time check that HTTPProvider implements Provider.
var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider client. A nil httpClient falls back to
// http.DefaultClient; deadlines are enforced per call through the context.
func NewHTTPProvider(baseURL, apiKey string, httpClient *http.Client) *HTTPProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPProvider{baseURL: baseURL, apiKey: apiKey, client: httpClient}
}

// Search implements Provider.
func (p *HTTPProvider) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search provider call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search provider returned %s", resp.Status)
	}

	var out SearchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &out, nil
}
