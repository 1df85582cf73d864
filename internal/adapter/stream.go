package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/openbridge/claude-relay/internal/anthropic"
)

// ReconstructStream drains the backend stream completely, then replays it as
// an ordered event sequence. Buffer-then-replay trades first-byte latency for
// a deterministic, verifiable event order; chunk granularity of text deltas
// is preserved as received.
func (a *Adapter) ReconstructStream(ctx context.Context, stream *openai.ChatCompletionStream, model string) iter.Seq2[*anthropic.StreamEvent, error] {
	return func(yield func(*anthropic.StreamEvent, error) bool) {
		defer stream.Close()

		chunks, err := drainStream(stream)
		if err != nil {
			yield(nil, anthropic.NewAPIError(fmt.Sprintf("backend stream failed: %v", err)))
			return
		}

		a.replayChunks(ctx, chunks, model, yield)
	}
}

// drainStream consumes the backend stream to EOF before any event is emitted.
func drainStream(stream *openai.ChatCompletionStream) ([]openai.ChatCompletionStreamResponse, error) {
	var chunks []openai.ChatCompletionStreamResponse
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, resp)
	}
}

// toolCallState accumulates one tool call across delta fragments.
type toolCallState struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

// replayChunks turns the drained chunk sequence into the event protocol:
// one message_start; per block index one start, zero or more deltas, one stop,
// indices strictly increasing; one message_delta; one message_stop.
func (a *Adapter) replayChunks(ctx context.Context, chunks []openai.ChatCompletionStreamResponse, model string, yield func(*anthropic.StreamEvent, error) bool) {
	var (
		textDeltas   []string
		toolsByIndex = make(map[int]*toolCallState)
		usage        anthropic.Usage
		finishReason string
	)

	for _, chunk := range chunks {
		// Usage rides whichever chunk reports it last; later reports replace
		// earlier ones, they are never summed.
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			textDeltas = append(textDeltas, choice.Delta.Content)
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			state, ok := toolsByIndex[idx]
			if !ok {
				state = &toolCallState{index: idx}
				toolsByIndex[idx] = state
			}
			// First non-empty occurrence wins for id and name; argument
			// fragments are concatenated, never overwritten.
			if state.id == "" && tc.ID != "" {
				state.id = tc.ID
			}
			if state.name == "" && tc.Function.Name != "" {
				state.name = tc.Function.Name
			}
			state.args.WriteString(tc.Function.Arguments)
		}

		// A finish signal is remembered but draining already happened; tool
		// fragments after it were collected above.
		if choice.FinishReason != "" && finishReason == "" {
			finishReason = string(choice.FinishReason)
		}
	}

	tools := orderedToolCalls(toolsByIndex)

	msgID := "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	if !yield(&anthropic.StreamEvent{
		Type: anthropic.EventMessageStart,
		Message: &anthropic.MessagesResponse{
			ID:      msgID,
			Type:    "message",
			Role:    "assistant",
			Model:   model,
			Content: []anthropic.ContentBlock{},
			Usage:   anthropic.Usage{InputTokens: usage.InputTokens},
		},
	}, nil) {
		return
	}

	blockIndex := 0

	if len(textDeltas) > 0 {
		if !yield(&anthropic.StreamEvent{
			Type:         anthropic.EventContentBlockStart,
			Index:        blockIndex,
			ContentBlock: &anthropic.ContentBlock{Type: anthropic.ContentTypeText, Text: ""},
		}, nil) {
			return
		}
		for _, delta := range textDeltas {
			if !yield(&anthropic.StreamEvent{
				Type:  anthropic.EventContentBlockDelta,
				Index: blockIndex,
				Delta: &anthropic.StreamDelta{Type: anthropic.DeltaTypeText, Text: delta},
			}, nil) {
				return
			}
		}
		if !yield(&anthropic.StreamEvent{Type: anthropic.EventContentBlockStop, Index: blockIndex}, nil) {
			return
		}
		blockIndex++
	}

	if len(tools) > 0 {
		// A short transition sentence precedes the tool blocks, paced in
		// slices to read like incremental output.
		phrase := PhraseForTool(tools[0].name)
		if !a.emitPacedText(ctx, phrase, blockIndex, a.textSliceSize, yield) {
			return
		}
		blockIndex++

		for _, tool := range tools {
			if !yield(&anthropic.StreamEvent{
				Type:  anthropic.EventContentBlockStart,
				Index: blockIndex,
				ContentBlock: &anthropic.ContentBlock{
					Type:  anthropic.ContentTypeToolUse,
					ID:    toolUseID(tool.id),
					Name:  tool.name,
					Input: json.RawMessage("{}"),
				},
			}, nil) {
				return
			}
			argsJSON := finalizeToolArguments(tool.args.String())
			for _, slice := range paceSlices(argsJSON, a.jsonSliceSize) {
				if !a.pace(ctx) {
					return
				}
				if !yield(&anthropic.StreamEvent{
					Type:  anthropic.EventContentBlockDelta,
					Index: blockIndex,
					Delta: &anthropic.StreamDelta{Type: anthropic.DeltaTypeInputJSON, PartialJSON: slice},
				}, nil) {
					return
				}
			}
			if !yield(&anthropic.StreamEvent{Type: anthropic.EventContentBlockStop, Index: blockIndex}, nil) {
				return
			}
			blockIndex++
		}
	}

	stopReason := toStopReason(finishReason)
	if len(tools) > 0 {
		stopReason = anthropic.StopReasonToolUse
	}

	if !yield(&anthropic.StreamEvent{
		Type:  anthropic.EventMessageDelta,
		Delta: &anthropic.StreamDelta{StopReason: stopReason},
		Usage: &usage,
	}, nil) {
		return
	}
	yield(&anthropic.StreamEvent{Type: anthropic.EventMessageStop}, nil)
}

// orderedToolCalls returns accumulated calls with a non-empty name in call
// index order. Nameless accumulations are upstream noise and are dropped.
func orderedToolCalls(byIndex map[int]*toolCallState) []*toolCallState {
	out := make([]*toolCallState, 0, len(byIndex))
	for _, state := range byIndex {
		if state.name != "" {
			out = append(out, state)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

// emitPacedText emits a complete text content block whose text arrives in
// fixed-size slices with the configured delay between them.
func (a *Adapter) emitPacedText(ctx context.Context, text string, index, sliceSize int, yield func(*anthropic.StreamEvent, error) bool) bool {
	if !yield(&anthropic.StreamEvent{
		Type:         anthropic.EventContentBlockStart,
		Index:        index,
		ContentBlock: &anthropic.ContentBlock{Type: anthropic.ContentTypeText, Text: ""},
	}, nil) {
		return false
	}
	for _, slice := range paceSlices(text, sliceSize) {
		if !a.pace(ctx) {
			return false
		}
		if !yield(&anthropic.StreamEvent{
			Type:  anthropic.EventContentBlockDelta,
			Index: index,
			Delta: &anthropic.StreamDelta{Type: anthropic.DeltaTypeText, Text: slice},
		}, nil) {
			return false
		}
	}
	return yield(&anthropic.StreamEvent{Type: anthropic.EventContentBlockStop, Index: index}, nil)
}

// pace waits the configured inter-slice delay, honoring cancellation.
func (a *Adapter) pace(ctx context.Context) bool {
	if a.paceDelay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(a.paceDelay):
		return true
	}
}

// paceSlices cuts s into fixed-size slices, at least one even when empty.
func paceSlices(s string, size int) []string {
	if size <= 0 || len(s) <= size {
		return []string{s}
	}
	slices := make([]string, 0, len(s)/size+1)
	for len(s) > size {
		slices = append(slices, s[:size])
		s = s[size:]
	}
	return append(slices, s)
}

var locationPattern = regexp.MustCompile(`"location"\s*:\s*"([^"]*)"`)

// finalizeToolArguments validates the accumulated argument fragments as a
// JSON object. Broken accumulations get a best-effort recovery: a
// location-shaped field is extracted by pattern, else a fixed placeholder.
func finalizeToolArguments(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "{}"
	}
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	if m := locationPattern.FindStringSubmatch(trimmed); m != nil {
		recovered, err := json.Marshal(map[string]string{"location": m[1]})
		if err == nil {
			return string(recovered)
		}
	}
	return `{"location": "unknown"}`
}
