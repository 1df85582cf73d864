package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openbridge/claude-relay/internal/anthropic"
)

// fromMessage converts one typed message into its backend representation.
// A single inbound message can expand into several backend messages because
// tool results become dedicated tool-role messages.
func fromMessage(msg anthropic.Message) ([]openai.ChatCompletionMessage, error) {
	blocks, err := msg.ContentBlocks()
	if err != nil {
		return nil, fmt.Errorf("message content: %w", err)
	}

	var (
		textParts   []string
		mediaParts  []openai.ChatMessagePart
		toolCalls   []openai.ToolCall
		toolResults []openai.ChatCompletionMessage
	)

	for _, block := range blocks {
		switch block.Type {
		case anthropic.ContentTypeText:
			textParts = append(textParts, block.Text)

		case anthropic.ContentTypeThinking:
			// Reasoning traces have no backend slot; carried as a bracketed
			// annotation so the conversation history stays coherent.
			if block.Thinking != "" {
				textParts = append(textParts, fmt.Sprintf("[Thinking: %s]", block.Thinking))
			}

		case anthropic.ContentTypeImage:
			if part, ok := fromImageBlock(block); ok {
				mediaParts = append(mediaParts, part)
			}

		case anthropic.ContentTypeDocument:
			// Lossy placeholder; full document semantics are out of scope.
			mediaType := "unknown"
			if block.Source != nil && block.Source.MediaType != "" {
				mediaType = block.Source.MediaType
			}
			textParts = append(textParts, fmt.Sprintf("[Document: %s]", mediaType))

		case anthropic.ContentTypeToolUse:
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: toolInputJSON(block.Input),
				},
			})

		case anthropic.ContentTypeServerToolUse:
			// Server-side tool invocations are replayed history; keep a textual
			// trace so the backend sees the turn happened.
			textParts = append(textParts, fmt.Sprintf("[Server tool %s: %s]", block.Name, toolInputJSON(block.Input)))

		case anthropic.ContentTypeWebSearchToolResult:
			textParts = append(textParts, flattenWebSearchResult(block))

		case anthropic.ContentTypeToolResult:
			toolResults = append(toolResults, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    anthropic.FlattenContent(block.Content),
				ToolCallID: block.ToolUseID,
			})

		default:
			// The backend has no equivalent slot for unknown tags; dropping
			// them silently would hide protocol drift, so log at the boundary.
			slog.Warn("dropping unsupported content block", "type", block.Type, "role", msg.Role)
		}
	}

	return assembleMessages(msg.Role, textParts, mediaParts, toolCalls, toolResults), nil
}

// assembleMessages builds the backend message list for one inbound turn.
func assembleMessages(role string, textParts []string, mediaParts []openai.ChatMessagePart, toolCalls []openai.ToolCall, toolResults []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	text := strings.Join(textParts, "\n")

	switch role {
	case "assistant":
		msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text}
		msg.ToolCalls = toolCalls
		if msg.Content != "" || len(msg.ToolCalls) > 0 {
			out = append(out, msg)
		}
	default: // user (tool results arrive inside user turns)
		if len(mediaParts) > 0 {
			parts := make([]openai.ChatMessagePart, 0, len(mediaParts)+1)
			if text != "" {
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text})
			}
			parts = append(parts, mediaParts...)
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
		} else if text != "" {
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
		}
	}

	return append(out, toolResults...)
}

// fromImageBlock maps an image block to a backend image part. Base64 sources
// become data URIs; URL sources pass through. Anything else is omitted rather
// than failing the message.
func fromImageBlock(block anthropic.ContentBlock) (openai.ChatMessagePart, bool) {
	if block.Source == nil {
		slog.Warn("image block without source, omitting")
		return openai.ChatMessagePart{}, false
	}
	switch block.Source.Type {
	case "base64":
		mediaType := block.Source.MediaType
		if mediaType == "" {
			mediaType = "image/jpeg"
		}
		return openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", mediaType, block.Source.Data),
			},
		}, true
	case "url":
		return openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: block.Source.URL},
		}, true
	default:
		slog.Warn("unsupported image source, omitting", "source_type", block.Source.Type)
		return openai.ChatMessagePart{}, false
	}
}

// toolInputJSON serializes a tool input object as the argument string the
// backend expects. Empty input becomes an empty object.
func toolInputJSON(input json.RawMessage) string {
	if len(input) == 0 {
		return "{}"
	}
	return string(input)
}

// flattenWebSearchResult summarizes a web_search_tool_result block as text for
// the backend, which has no structured slot for it.
func flattenWebSearchResult(block anthropic.ContentBlock) string {
	var results []anthropic.WebSearchResult
	if err := json.Unmarshal(block.Content, &results); err != nil || len(results) == 0 {
		return "[Web search results]"
	}
	var sb strings.Builder
	sb.WriteString("[Web search results]\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, r.Title, r.URL)
	}
	return sb.String()
}
