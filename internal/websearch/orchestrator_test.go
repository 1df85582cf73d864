package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openbridge/claude-relay/internal/anthropic"
	"github.com/openbridge/claude-relay/internal/cache"
	"github.com/openbridge/claude-relay/internal/config"
)

type stubProvider struct {
	resp *SearchResponse
	err  error
	got  SearchRequest
}

func (s *stubProvider) Search(_ context.Context, req SearchRequest) (*SearchResponse, error) {
	s.got = req
	return s.resp, s.err
}

type stubBackend struct {
	content string
	err     error
	got     openai.ChatCompletionRequest
}

func (s *stubBackend) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.got = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: "assistant", Content: s.content}},
		},
	}, nil
}

func (s *stubBackend) CreateChatCompletionStream(context.Context, openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	return nil, errors.New("not implemented")
}

func testConfig() config.SearchConfig {
	return config.SearchConfig{TopK: 5, TimeoutSeconds: 5}
}

func userTextRequest(text string) *anthropic.MessagesRequest {
	return &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4",
		MaxTokens: 1024,
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(fmt.Sprintf("%q", text))},
		},
		Tools: []anthropic.Tool{{Type: "web_search_20250305", Name: "web_search"}},
	}
}

func consumeRequest(toolResultText string) *anthropic.MessagesRequest {
	content, _ := json.Marshal([]map[string]any{
		{"type": "tool_result", "tool_use_id": "srvtoolu_abc", "content": toolResultText},
	})
	return &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4",
		MaxTokens: 1024,
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(`"weather in NYC"`)},
			{Role: "assistant", Content: json.RawMessage(`"I'll search for that."`)},
			{Role: "user", Content: content},
		},
	}
}

func TestSplitQueryAndLinks(t *testing.T) {
	query, links, err := splitQueryAndLinks(` weather in NYC [{"title":"a","url":"https://example.com/a"},{"title":"b","url":"https://example.com/b"}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if query != "weather in NYC" {
		t.Errorf("query = %q, want %q", query, "weather in NYC")
	}
	if len(links) != 2 || links[0].Title != "a" || links[1].URL != "https://example.com/b" {
		t.Errorf("unexpected links: %+v", links)
	}
}

func TestSplitQueryAndLinksNoArray(t *testing.T) {
	if _, _, err := splitQueryAndLinks("no array here"); err == nil {
		t.Fatal("expected error for missing array")
	}
}

func TestSplitQueryAndLinksUnbalanced(t *testing.T) {
	if _, _, err := splitQueryAndLinks(`query "title":"a"}]`); err == nil {
		t.Fatal("expected error for unbalanced array")
	}
}

func TestDetectPhase(t *testing.T) {
	o := New(&stubProvider{}, &stubBackend{}, nil, cache.New[SearchResult](time.Minute, time.Minute), testConfig(), "gpt-4o")

	if got := o.detectPhase(userTextRequest("weather in NYC")); got != phaseInitiate {
		t.Errorf("initiate request classified as %v", got)
	}

	marked := ResultMarker + ` weather in NYC [{"title":"a","url":"https://example.com/a"}]`
	if got := o.detectPhase(consumeRequest(marked)); got != phaseConsume {
		t.Errorf("consume request classified as %v", got)
	}

	plain := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4",
		MaxTokens: 1024,
		Messages:  []anthropic.Message{{Role: "user", Content: json.RawMessage(`"hello"`)}},
	}
	if got := o.detectPhase(plain); got != phaseNone {
		t.Errorf("plain request classified as %v", got)
	}
}

func TestInitiateBuildsToolUseTurn(t *testing.T) {
	provider := &stubProvider{resp: &SearchResponse{}}
	provider.resp.Result.SearchResult = []SearchResult{
		{Link: "https://example.com/a", Title: "Result A", Content: "alpha content"},
		{Link: "https://example.com/b", Title: "Result B", Snippet: "beta snippet"},
	}
	results := cache.New[SearchResult](time.Minute, time.Minute)
	o := New(provider, &stubBackend{}, nil, results, testConfig(), "gpt-4o")

	msg, err := o.Execute(context.Background(), userTextRequest("weather in NYC"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if provider.got.Query != "weather in NYC" {
		t.Errorf("provider query = %q", provider.got.Query)
	}
	if provider.got.TopK != 5 {
		t.Errorf("provider top_k = %d, want 5", provider.got.TopK)
	}

	if len(msg.Content) != 3 {
		t.Fatalf("content blocks = %d, want 3", len(msg.Content))
	}
	if msg.Content[0].Type != anthropic.ContentTypeText {
		t.Errorf("block 0 type = %q", msg.Content[0].Type)
	}
	if msg.Content[1].Type != anthropic.ContentTypeServerToolUse || msg.Content[1].Name != "web_search" {
		t.Errorf("block 1 = %+v", msg.Content[1])
	}
	if msg.Content[2].Type != anthropic.ContentTypeWebSearchToolResult {
		t.Errorf("block 2 type = %q", msg.Content[2].Type)
	}
	if msg.Content[2].ToolUseID != msg.Content[1].ID {
		t.Errorf("tool_use_id %q does not match server tool id %q", msg.Content[2].ToolUseID, msg.Content[1].ID)
	}

	var wire []anthropic.WebSearchResult
	if err := json.Unmarshal(msg.Content[2].Content, &wire); err != nil {
		t.Fatalf("decode result block: %v", err)
	}
	if len(wire) != 2 || wire[0].URL != "https://example.com/a" || wire[0].EncryptedContent == "" {
		t.Errorf("unexpected wire results: %+v", wire)
	}

	if msg.Usage.ServerToolUse == nil || msg.Usage.ServerToolUse.WebSearchRequests != 1 {
		t.Errorf("usage = %+v, want one web search request", msg.Usage)
	}

	if _, ok := results.Get("https://example.com/a"); !ok {
		t.Error("search result not cached by link")
	}
}

func TestInitiateProviderFailure(t *testing.T) {
	provider := &stubProvider{err: errors.New("connection refused")}
	o := New(provider, &stubBackend{}, nil, cache.New[SearchResult](time.Minute, time.Minute), testConfig(), "gpt-4o")

	_, err := o.Execute(context.Background(), userTextRequest("weather in NYC"))
	var apiErr *anthropic.ErrorResponse
	if !errors.As(err, &apiErr) || apiErr.Err.Type != anthropic.ErrTypeAPI {
		t.Fatalf("err = %v, want api_error", err)
	}
}

func TestConsumeSynthesizesAnswer(t *testing.T) {
	results := cache.New[SearchResult](time.Minute, time.Minute)
	results.Set("https://example.com/a", SearchResult{
		Link: "https://example.com/a", Title: "Result A", Content: "it is sunny and 75 degrees",
	})
	backend := &stubBackend{content: "It's currently sunny and 75 degrees in NYC."}
	o := New(&stubProvider{}, backend, nil, results, testConfig(), "gpt-4o")

	marked := ResultMarker + ` weather in NYC [{"title":"Result A","url":"https://example.com/a"}]`
	msg, err := o.Execute(context.Background(), consumeRequest(marked))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if backend.got.Model != "gpt-4o" {
		t.Errorf("summary model = %q", backend.got.Model)
	}
	prompt := backend.got.Messages[0].Content
	if !strings.Contains(prompt, "weather in NYC") || !strings.Contains(prompt, "it is sunny and 75 degrees") {
		t.Errorf("prompt missing query or cached content:\n%s", prompt)
	}

	if len(msg.Content) != 2 {
		t.Fatalf("content blocks = %d, want 2", len(msg.Content))
	}
	if msg.Content[0].Type != anthropic.ContentTypeWebSearchToolResult {
		t.Errorf("block 0 type = %q", msg.Content[0].Type)
	}
	if msg.Content[1].Text != "It's currently sunny and 75 degrees in NYC." {
		t.Errorf("answer = %q", msg.Content[1].Text)
	}
}

func TestConsumeFallsBackWhenBackendFails(t *testing.T) {
	backend := &stubBackend{err: errors.New("backend down")}
	o := New(&stubProvider{}, backend, nil, cache.New[SearchResult](time.Minute, time.Minute), testConfig(), "gpt-4o")

	marked := ResultMarker + ` weather in NYC [{"title":"Result A","url":"https://example.com/a"},{"title":"Result B","url":"https://example.com/b"}]`
	msg, err := o.Execute(context.Background(), consumeRequest(marked))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	answer := msg.Content[1].Text
	for _, want := range []string{"Result A", "https://example.com/a", "Result B", "Sources: example.com (2)"} {
		if !strings.Contains(answer, want) {
			t.Errorf("fallback answer missing %q:\n%s", want, answer)
		}
	}
}

func TestConsumeMalformedResult(t *testing.T) {
	o := New(&stubProvider{}, &stubBackend{}, nil, cache.New[SearchResult](time.Minute, time.Minute), testConfig(), "gpt-4o")

	_, err := o.Execute(context.Background(), consumeRequest(ResultMarker+" no array"))
	var apiErr *anthropic.ErrorResponse
	if !errors.As(err, &apiErr) || apiErr.Err.Type != anthropic.ErrTypeInvalidRequest {
		t.Fatalf("err = %v, want invalid_request_error", err)
	}
}
