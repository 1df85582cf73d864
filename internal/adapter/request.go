package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openbridge/claude-relay/internal/anthropic"
	"github.com/openbridge/claude-relay/internal/config"
)

// BuildChatRequest builds the backend chat-completion request for an inbound
// message request, resolved against its model mapping.
func (a *Adapter) BuildChatRequest(req *anthropic.MessagesRequest, mapping config.ModelMapping, stream bool) (openai.ChatCompletionRequest, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	if system := req.SystemText(); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for i, msg := range req.Messages {
		converted, err := fromMessage(msg)
		if err != nil {
			return openai.ChatCompletionRequest{}, anthropic.NewInvalidRequestError(
				fmt.Sprintf("message %d: %v", i, err))
		}
		messages = append(messages, converted...)
	}

	out := openai.ChatCompletionRequest{
		Model:     mapping.TargetModelID,
		Messages:  messages,
		MaxTokens: clampMaxTokens(req.MaxTokens, mapping.MaxTokens),
		Stream:    stream,
	}
	if stream {
		// Usage arrives on a trailing chunk only when asked for.
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	if req.Temperature != nil {
		out.Temperature = nonVanishingFloat(*req.Temperature)
	}
	if req.TopP != nil {
		out.TopP = nonVanishingFloat(*req.TopP)
	}
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}

	// Tools without a schema are invalid and excluded rather than defaulted.
	// When nothing valid remains the field stays unset entirely; an empty
	// tools array changes backend behavior for callers relying on defaults.
	if tools := fromTools(req.Tools); len(tools) > 0 {
		out.Tools = tools
		out.ToolChoice = fromToolChoice(req.ToolChoice)
	}

	return out, nil
}

// nonVanishingFloat keeps an explicit zero from being swallowed by the
// client's omitempty encoding; the smallest positive float32 survives
// serialization and is indistinguishable from zero to the sampler.
func nonVanishingFloat(v float32) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return v
}

// clampMaxTokens bounds the output budget by the mapping's ceiling and the
// hard ceiling: min(requested, mapping, hard).
func clampMaxTokens(requested, mappingMax int) int {
	effective := requested
	if mappingMax > 0 && mappingMax < effective {
		effective = mappingMax
	}
	if effective > HardMaxTokensCeiling {
		effective = HardMaxTokensCeiling
	}
	return effective
}

// fromTools converts tool definitions, skipping web-search server tools
// (handled by the search orchestrator, never forwarded) and any definition
// lacking an input schema.
func fromTools(tools []anthropic.Tool) []openai.Tool {
	var out []openai.Tool
	for _, tool := range tools {
		if tool.IsWebSearch() {
			continue
		}
		if len(tool.InputSchema) == 0 {
			slog.Warn("excluding tool without input schema", "tool", tool.Name)
			continue
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return out
}

// fromToolChoice maps the inbound tool_choice object to the backend's
// representation: auto, required (any) or a named function.
func fromToolChoice(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var choice struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &choice); err != nil {
		slog.Warn("unparseable tool_choice, ignoring", "error", err)
		return nil
	}
	switch choice.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "tool":
		if choice.Name == "" {
			return nil
		}
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: choice.Name},
		}
	default:
		slog.Warn("unknown tool_choice type, ignoring", "type", choice.Type)
		return nil
	}
}
