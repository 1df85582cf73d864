package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/openbridge/claude-relay/internal/anthropic"
)

// ConvertResponse converts a one-shot backend response into the typed message
// form. The first choice is authoritative; a response without choices is a
// backend fault.
func (a *Adapter) ConvertResponse(resp *openai.ChatCompletionResponse, model string) (*anthropic.MessagesResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, anthropic.NewAPIError("backend returned no choices")
	}
	choice := resp.Choices[0]

	var content []anthropic.ContentBlock
	if choice.Message.Content != "" {
		content = append(content, a.textBlocks(choice.Message.Content)...)
	}
	for _, call := range choice.Message.ToolCalls {
		content = append(content, anthropic.ContentBlock{
			Type:  anthropic.ContentTypeToolUse,
			ID:    toolUseID(call.ID),
			Name:  call.Function.Name,
			Input: parseToolArguments(call.Function.Arguments),
		})
	}
	// Responses must carry a non-empty content array.
	if len(content) == 0 {
		content = append(content, anthropic.NewTextBlock(""))
	}

	out := &anthropic.MessagesResponse{
		ID:         messageID(resp.ID),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    content,
		StopReason: toStopReason(string(choice.FinishReason)),
		Usage: anthropic.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	return out, nil
}

// textBlocks applies the optional reasoning-extraction strategy to backend
// text, yielding either a plain text block or a thinking/text pair.
func (a *Adapter) textBlocks(text string) []anthropic.ContentBlock {
	if a.thinking != nil {
		if thinking, rest, ok := a.thinking.Extract(text); ok {
			return []anthropic.ContentBlock{
				{Type: anthropic.ContentTypeThinking, Thinking: thinking},
				anthropic.NewTextBlock(rest),
			}
		}
	}
	return []anthropic.ContentBlock{anthropic.NewTextBlock(text)}
}

// toStopReason maps the backend finish reason onto the typed stop reason.
func toStopReason(finishReason string) string {
	switch finishReason {
	case "stop":
		return anthropic.StopReasonEndTurn
	case "length":
		return anthropic.StopReasonMaxTokens
	case "tool_calls":
		return anthropic.StopReasonToolUse
	case "content_filter":
		return anthropic.StopReasonEndTurn
	default:
		return anthropic.StopReasonEndTurn
	}
}

// parseToolArguments validates a tool call's argument string as JSON. Invalid
// payloads degrade to a single-field wrapper instead of failing the response.
func parseToolArguments(arguments string) json.RawMessage {
	trimmed := strings.TrimSpace(arguments)
	if trimmed == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(trimmed)) && (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) {
		return json.RawMessage(trimmed)
	}
	slog.Warn("tool arguments are not valid JSON, wrapping raw string")
	wrapped, err := json.Marshal(map[string]string{"raw": arguments})
	if err != nil {
		return json.RawMessage("{}")
	}
	return wrapped
}

// messageID returns the backend id in message form, generating one if absent.
func messageID(backendID string) string {
	if backendID != "" {
		return backendID
	}
	return "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// toolUseID returns the backend call id, generating one if absent.
func toolUseID(callID string) string {
	if callID != "" {
		return callID
	}
	return fmt.Sprintf("toolu_%s", uuid.New().String()[:8])
}
