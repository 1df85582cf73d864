package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/openbridge/claude-relay/internal/adapter"
	"github.com/openbridge/claude-relay/internal/anthropic"
	"github.com/openbridge/claude-relay/internal/cache"
	"github.com/openbridge/claude-relay/internal/config"
)

// ResultMarker tags a tool result as carrying web search results. Its
// presence in the latest user turn switches the flow into the consume phase.
const ResultMarker = "Web search results for query:"

// encryptedContentPlaceholder stands in for provider payloads the relay
// cannot produce; clients treat the field as opaque.
const encryptedContentPlaceholder = "ENCRYPTED_CONTENT_PLACEHOLDER"

// pageAgePlaceholder is the human-readable age attached to synthesized results.
const pageAgePlaceholder = "2 hours ago"

// summaryTimeout bounds the phase-2 backend summarization call.
const summaryTimeout = 60 * time.Second

type phase int

const (
	phaseNone phase = iota
	phaseInitiate
	phaseConsume
)

// Orchestrator runs the two-phase search flow. Phase selection inspects the
// request alone; no session state is kept between phases beyond the result
// cache.
type Orchestrator struct {
	provider Provider
	backend  adapter.Backend
	adpt     *adapter.Adapter
	results  *cache.Cache[SearchResult]
	cfg      config.SearchConfig

	// summaryModel is the backend model used for phase-2 synthesis.
	summaryModel string
}

// New creates an orchestrator. summaryModel is the backend model id used for
// answer synthesis in the consume phase.
func New(provider Provider, backend adapter.Backend, adpt *adapter.Adapter, results *cache.Cache[SearchResult], cfg config.SearchConfig, summaryModel string) *Orchestrator {
	return &Orchestrator{
		provider:     provider,
		backend:      backend,
		adpt:         adpt,
		results:      results,
		cfg:          cfg,
		summaryModel: summaryModel,
	}
}

// Handles reports whether the request belongs to the search flow.
func (o *Orchestrator) Handles(req *anthropic.MessagesRequest) bool {
	return o.detectPhase(req) != phaseNone
}

// Execute runs the detected phase to completion and returns the synthesized
// message.
func (o *Orchestrator) Execute(ctx context.Context, req *anthropic.MessagesRequest) (*anthropic.MessagesResponse, error) {
	switch o.detectPhase(req) {
	case phaseInitiate:
		return o.initiate(ctx, req)
	case phaseConsume:
		return o.consume(ctx, req)
	default:
		return nil, anthropic.NewInvalidRequestError("request is not a web search flow")
	}
}

// ExecuteStream runs the phase to completion, then replays the message as an
// event sequence. Search flows are never streamed incrementally.
func (o *Orchestrator) ExecuteStream(ctx context.Context, req *anthropic.MessagesRequest) (iter.Seq2[*anthropic.StreamEvent, error], error) {
	msg, err := o.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.adpt.ReplayMessage(ctx, msg), nil
}

// detectPhase classifies the request. Consume wins when the latest user turn
// embeds a marked tool result; initiate requires exactly one web-search tool
// and no marked result anywhere in the history.
func (o *Orchestrator) detectPhase(req *anthropic.MessagesRequest) phase {
	if _, ok := o.markedToolResult(req); ok {
		return phaseConsume
	}
	if len(req.Tools) == 1 && req.Tools[0].IsWebSearch() && !hasMarkedResult(req) {
		return phaseInitiate
	}
	return phaseNone
}

// hasMarkedResult reports whether any tool result in the conversation carries
// the marker. A marked result outside the latest user turn belongs to a stale
// search exchange and disqualifies both phases.
func hasMarkedResult(req *anthropic.MessagesRequest) bool {
	for _, msg := range req.Messages {
		blocks, err := msg.ContentBlocks()
		if err != nil {
			continue
		}
		for _, block := range blocks {
			if block.Type == anthropic.ContentTypeToolResult &&
				strings.Contains(anthropic.FlattenContent(block.Content), ResultMarker) {
				return true
			}
		}
	}
	return false
}

// markedToolResult finds a tool result carrying the marker in the most recent
// user turn.
func (o *Orchestrator) markedToolResult(req *anthropic.MessagesRequest) (string, bool) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		msg := req.Messages[i]
		if msg.Role != "user" {
			continue
		}
		blocks, err := msg.ContentBlocks()
		if err != nil {
			return "", false
		}
		for _, block := range blocks {
			if block.Type != anthropic.ContentTypeToolResult {
				continue
			}
			content := anthropic.FlattenContent(block.Content)
			if strings.Contains(content, ResultMarker) {
				return content, true
			}
		}
		return "", false // only the latest user turn counts
	}
	return "", false
}

// initiate issues the search and synthesizes the tool-use turn. Provider
// failure is fatal here: there is no silent empty-result fallback in this
// phase.
func (o *Orchestrator) initiate(ctx context.Context, req *anthropic.MessagesRequest) (*anthropic.MessagesResponse, error) {
	query := latestUserText(req)
	if query == "" {
		return nil, anthropic.NewInvalidRequestError("no query text in conversation")
	}

	searchCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout())
	defer cancel()

	resp, err := o.provider.Search(searchCtx, SearchRequest{
		History:      conversationHistory(req),
		Query:        query,
		QueryRewrite: true,
		TopK:         o.cfg.TopK,
		ContentType:  "snippet",
	})
	if err != nil {
		return nil, anthropic.NewAPIError(fmt.Sprintf("web search failed: %v", err))
	}
	if resp == nil {
		return nil, anthropic.NewAPIError("web search returned no result")
	}

	results := resp.Result.SearchResult
	for _, r := range results {
		o.results.Set(r.Link, r)
	}
	slog.InfoContext(ctx, "web search completed", "query", query, "results", len(results))

	serverToolID := "srvtoolu_" + uuid.New().String()[:8]
	queryInput, _ := json.Marshal(map[string]string{"query": query})

	wire := make([]anthropic.WebSearchResult, 0, len(results))
	for _, r := range results {
		wire = append(wire, anthropic.WebSearchResult{
			Type:             "web_search_result",
			URL:              r.Link,
			Title:            r.Title,
			EncryptedContent: encryptedContentPlaceholder,
			PageAge:          pageAgePlaceholder,
		})
	}
	wireJSON, err := json.Marshal(wire)
	if err != nil {
		return nil, anthropic.NewAPIError(fmt.Sprintf("encode search results: %v", err))
	}

	return &anthropic.MessagesResponse{
		ID:    "msg_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Type:  "message",
		Role:  "assistant",
		Model: req.Model,
		Content: []anthropic.ContentBlock{
			anthropic.NewTextBlock(fmt.Sprintf("I'll search the web for %q.", query)),
			{
				Type:  anthropic.ContentTypeServerToolUse,
				ID:    serverToolID,
				Name:  "web_search",
				Input: queryInput,
			},
			{
				Type:      anthropic.ContentTypeWebSearchToolResult,
				ToolUseID: serverToolID,
				Content:   wireJSON,
			},
		},
		StopReason: anthropic.StopReasonEndTurn,
		Usage: anthropic.Usage{
			ServerToolUse: &anthropic.ServerToolUse{WebSearchRequests: 1},
		},
	}, nil
}

// consume recovers the query and result list from the marked tool result,
// enriches it from the cache and synthesizes an answer. Backend failure here
// degrades to the templated summary instead of failing the request.
func (o *Orchestrator) consume(ctx context.Context, req *anthropic.MessagesRequest) (*anthropic.MessagesResponse, error) {
	content, ok := o.markedToolResult(req)
	if !ok {
		return nil, anthropic.NewInvalidRequestError("no marked web search result in latest user turn")
	}

	after := content[strings.Index(content, ResultMarker)+len(ResultMarker):]
	query, links, err := splitQueryAndLinks(after)
	if err != nil {
		return nil, anthropic.NewInvalidRequestError(fmt.Sprintf("malformed web search result: %v", err))
	}

	enriched := make([]SearchResult, 0, len(links))
	for _, link := range links {
		if cached, ok := o.results.Get(link.URL); ok {
			enriched = append(enriched, cached)
			continue
		}
		enriched = append(enriched, SearchResult{Link: link.URL, Title: link.Title})
	}

	answer, err := o.summarize(ctx, query, enriched)
	if err != nil {
		slog.WarnContext(ctx, "summarization failed, using templated fallback", "error", err)
		answer = fallbackSummary(query, enriched)
	}

	wire := make([]anthropic.WebSearchResult, 0, len(enriched))
	for _, r := range enriched {
		wire = append(wire, anthropic.WebSearchResult{
			Type:             "web_search_result",
			URL:              r.Link,
			Title:            r.Title,
			EncryptedContent: encryptedContentPlaceholder,
			PageAge:          pageAgePlaceholder,
		})
	}
	wireJSON, err := json.Marshal(wire)
	if err != nil {
		return nil, anthropic.NewAPIError(fmt.Sprintf("encode search results: %v", err))
	}

	return &anthropic.MessagesResponse{
		ID:    "msg_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Type:  "message",
		Role:  "assistant",
		Model: req.Model,
		Content: []anthropic.ContentBlock{
			{
				Type:      anthropic.ContentTypeWebSearchToolResult,
				ToolUseID: "srvtoolu_" + uuid.New().String()[:8],
				Content:   wireJSON,
			},
			anthropic.NewTextBlock(answer),
		},
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{},
	}, nil
}

// summarize asks the backend to synthesize a natural-language answer from the
// enriched result list.
func (o *Orchestrator) summarize(ctx context.Context, query string, results []SearchResult) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Answer the question using these web search results.\n\nQuestion: %s\n\nResults:\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, r.Title, r.Link)
		if excerpt := resultExcerpt(r); excerpt != "" {
			fmt.Fprintf(&sb, "   %s\n", excerpt)
		}
	}
	sb.WriteString("\nWrite a concise, sourced answer.")

	callCtx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	resp, err := o.backend.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: o.summaryModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarization call: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("summarization returned no content")
	}
	return resp.Choices[0].Message.Content, nil
}

// fallbackSummary produces the deterministic templated answer: each result's
// title, URL and excerpt, closed by a per-domain tally.
func fallbackSummary(query string, results []SearchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Here is what the web search for %q found:\n\n", query)

	domains := make(map[string]int)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.Link)
		if excerpt := resultExcerpt(r); excerpt != "" {
			fmt.Fprintf(&sb, "   %s\n", excerpt)
		}
		if host := domainOf(r.Link); host != "" {
			domains[host]++
		}
	}

	if len(domains) > 0 {
		names := make([]string, 0, len(domains))
		for name := range domains {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s (%d)", name, domains[name]))
		}
		fmt.Fprintf(&sb, "\nSources: %s", strings.Join(parts, ", "))
	}

	return sb.String()
}

// resultExcerpt returns a short excerpt of a result's content or snippet.
func resultExcerpt(r SearchResult) string {
	text := r.Content
	if text == "" {
		text = r.Snippet
	}
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}

func domainOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Host
}

// latestUserText returns the flattened text of the most recent user turn.
func latestUserText(req *anthropic.MessagesRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return strings.TrimSpace(anthropic.FlattenContent(req.Messages[i].Content))
		}
	}
	return ""
}

// conversationHistory flattens the conversation for the provider's context.
func conversationHistory(req *anthropic.MessagesRequest) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		text := anthropic.FlattenContent(msg.Content)
		if text == "" {
			continue
		}
		out = append(out, HistoryMessage{Role: msg.Role, Content: text})
	}
	return out
}
