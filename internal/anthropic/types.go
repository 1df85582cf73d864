// Package anthropic defines the inbound wire format served by the relay: typed
// content-block messages, tool definitions, streaming events and the error
// envelope.
//
// Types are hand-written server-side structs rather than SDK types:
//
//  1. SERVER-SIDE vs CLIENT-SIDE: official SDKs are designed for making outbound
//     calls. The relay receives inbound requests and needs plain structs that
//     decode naturally with encoding/json.
//
//  2. UNION HANDLING: content blocks are a tagged union discriminated by "type".
//     A single struct with optional fields plus explicit switches at conversion
//     boundaries keeps unknown tags visible instead of silently dropping them.
package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Content block type tags.
const (
	ContentTypeText                = "text"
	ContentTypeImage               = "image"
	ContentTypeDocument            = "document"
	ContentTypeThinking            = "thinking"
	ContentTypeToolUse             = "tool_use"
	ContentTypeToolResult          = "tool_result"
	ContentTypeServerToolUse       = "server_tool_use"
	ContentTypeWebSearchToolResult = "web_search_tool_result"
)

// Stop reasons returned to clients.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonMaxTokens = "max_tokens"
	StopReasonToolUse   = "tool_use"
)

// MessagesRequest is the inbound request body for the messages endpoint.
type MessagesRequest struct {
	Model         string          `json:"model" validate:"required"`
	MaxTokens     int             `json:"max_tokens" validate:"gt=0"`
	Messages      []Message       `json:"messages" validate:"required,min=1"`
	System        json.RawMessage `json:"system,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Temperature   *float32        `json:"temperature,omitempty"`
	TopP          *float32        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
}

// SystemText flattens the system field, which may be a plain string or an
// array of text blocks, into a single string.
func (r *MessagesRequest) SystemText() string {
	return flattenTextContent(r.System)
}

// ThinkingEnabled reports whether the request asks for extended reasoning.
func (r *MessagesRequest) ThinkingEnabled() bool {
	return r.Thinking != nil && strings.EqualFold(r.Thinking.Type, "enabled")
}

// ThinkingConfig is the extended-reasoning request option.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Message is one conversational turn. Content is either a plain string or an
// array of content blocks; it is kept raw and decoded on demand.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentBlocks decodes the message content into block form. A plain string
// becomes a single text block.
func (m *Message) ContentBlocks() ([]ContentBlock, error) {
	if len(m.Content) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return []ContentBlock{{Type: ContentTypeText, Text: s}}, nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("decode content blocks: %w", err)
	}
	return blocks, nil
}

// ContentBlock is the tagged content union. Exactly one tag applies per block;
// the populated fields depend on Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// image, document
	Source *ContentSource `json:"source,omitempty"`

	// tool_use, server_tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result, web_search_tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ContentSource describes where image or document bytes come from.
type ContentSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// NewTextBlock builds a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentTypeText, Text: text}
}

// Tool is a tool definition offered to the model. Type is set for server tools
// such as web search variants; plain function tools leave it empty.
type Tool struct {
	Type        string          `json:"type,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	MaxUses     int             `json:"max_uses,omitempty"`
}

// IsWebSearch reports whether the tool is a web-search server tool.
func (t *Tool) IsWebSearch() bool {
	return strings.HasPrefix(t.Type, "web_search") || t.Name == "web_search"
}

// MessagesResponse is the non-streaming response body.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage reports token accounting for a response.
type Usage struct {
	InputTokens   int            `json:"input_tokens"`
	OutputTokens  int            `json:"output_tokens"`
	ServerToolUse *ServerToolUse `json:"server_tool_use,omitempty"`
}

// ServerToolUse counts server-side tool invocations performed for the response.
type ServerToolUse struct {
	WebSearchRequests int `json:"web_search_requests"`
}

// WebSearchResult is one entry of a web_search_tool_result block's content.
type WebSearchResult struct {
	Type             string `json:"type"`
	URL              string `json:"url"`
	Title            string `json:"title"`
	EncryptedContent string `json:"encrypted_content,omitempty"`
	PageAge          string `json:"page_age,omitempty"`
}

// TokenCountRequest is the inbound body for the token counting endpoint.
type TokenCountRequest struct {
	Model    string          `json:"model" validate:"required"`
	Messages []Message       `json:"messages"`
	System   json.RawMessage `json:"system,omitempty"`
	Tools    []Tool          `json:"tools,omitempty"`
}

// TokenCountResponse reports the estimated input token count.
type TokenCountResponse struct {
	InputTokens int `json:"input_tokens"`
}

// flattenTextContent extracts the text of a raw field that may hold a plain
// string or an array of text blocks. Non-text blocks contribute nothing.
func flattenTextContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == ContentTypeText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// FlattenContent extracts the plain text of any raw content value: a string,
// or an array of blocks (text and thinking contribute their text). Used for
// token estimation and tool-result stringification.
func FlattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			switch b.Type {
			case ContentTypeText:
				sb.WriteString(b.Text)
			case ContentTypeThinking:
				sb.WriteString(b.Thinking)
			case ContentTypeToolResult:
				sb.WriteString(FlattenContent(b.Content))
			}
		}
		return sb.String()
	}
	return string(raw)
}
