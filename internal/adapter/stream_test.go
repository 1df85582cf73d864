package adapter

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openbridge/claude-relay/internal/anthropic"
)

func unpacedAdapter() *Adapter {
	return New(nil, testRegistry(), nil, WithPacing(0, 0, 0))
}

// collectReplay runs replayChunks and gathers the emitted events.
func collectReplay(t *testing.T, a *Adapter, chunks []openai.ChatCompletionStreamResponse) []*anthropic.StreamEvent {
	t.Helper()
	var events []*anthropic.StreamEvent
	a.replayChunks(context.Background(), chunks, "claude-sonnet-4", func(ev *anthropic.StreamEvent, err error) bool {
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		events = append(events, ev)
		return true
	})
	return events
}

func textChunk(text string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: text}},
		},
	}
}

func toolChunk(index int, id, name, args string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{
				Delta: openai.ChatCompletionStreamChoiceDelta{
					ToolCalls: []openai.ToolCall{
						{
							Index:    &index,
							ID:       id,
							Function: openai.FunctionCall{Name: name, Arguments: args},
						},
					},
				},
			},
		},
	}
}

func finishChunk(reason openai.FinishReason) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{FinishReason: reason}},
	}
}

func usageChunk(prompt, completion int) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Usage: &openai.Usage{PromptTokens: prompt, CompletionTokens: completion},
	}
}

// assertEventContract checks the fixed event ordering: one message_start,
// per index one start, zero or more deltas, one stop, indices strictly
// increasing, then exactly one message_delta and one message_stop.
func assertEventContract(t *testing.T, events []*anthropic.StreamEvent) {
	t.Helper()
	if len(events) < 3 {
		t.Fatalf("too few events: %d", len(events))
	}
	if events[0].Type != anthropic.EventMessageStart {
		t.Fatalf("first event = %q", events[0].Type)
	}
	if events[len(events)-1].Type != anthropic.EventMessageStop {
		t.Fatalf("last event = %q", events[len(events)-1].Type)
	}
	if events[len(events)-2].Type != anthropic.EventMessageDelta {
		t.Fatalf("second to last event = %q", events[len(events)-2].Type)
	}

	starts, deltas, stops := 0, 0, 0
	openIndex := -1
	lastClosed := -1
	for _, ev := range events[1 : len(events)-2] {
		switch ev.Type {
		case anthropic.EventContentBlockStart:
			if openIndex != -1 {
				t.Fatalf("block %d started while %d still open", ev.Index, openIndex)
			}
			if ev.Index != lastClosed+1 {
				t.Fatalf("block index %d, want %d (strictly increasing)", ev.Index, lastClosed+1)
			}
			openIndex = ev.Index
			starts++
		case anthropic.EventContentBlockDelta:
			if ev.Index != openIndex {
				t.Fatalf("delta for index %d while %d open", ev.Index, openIndex)
			}
			deltas++
		case anthropic.EventContentBlockStop:
			if ev.Index != openIndex {
				t.Fatalf("stop for index %d while %d open", ev.Index, openIndex)
			}
			lastClosed = openIndex
			openIndex = -1
			stops++
		default:
			t.Fatalf("unexpected event %q inside block sequence", ev.Type)
		}
	}
	if openIndex != -1 {
		t.Fatalf("block %d never closed", openIndex)
	}
	if starts != stops {
		t.Fatalf("starts = %d, stops = %d", starts, stops)
	}
}

func TestReplayTextStream(t *testing.T) {
	events := collectReplay(t, unpacedAdapter(), []openai.ChatCompletionStreamResponse{
		textChunk("Hello"),
		textChunk(", world"),
		finishChunk(openai.FinishReasonStop),
		usageChunk(10, 4),
	})
	assertEventContract(t, events)

	var text strings.Builder
	for _, ev := range events {
		if ev.Type == anthropic.EventContentBlockDelta && ev.Delta.Type == anthropic.DeltaTypeText {
			text.WriteString(ev.Delta.Text)
		}
	}
	if text.String() != "Hello, world" {
		t.Errorf("reassembled text = %q", text.String())
	}

	final := events[len(events)-2]
	if final.Delta.StopReason != anthropic.StopReasonEndTurn {
		t.Errorf("stop_reason = %q", final.Delta.StopReason)
	}
	if final.Usage.InputTokens != 10 || final.Usage.OutputTokens != 4 {
		t.Errorf("usage = %+v", final.Usage)
	}
}

func TestToolCallAccumulation(t *testing.T) {
	events := collectReplay(t, unpacedAdapter(), []openai.ChatCompletionStreamResponse{
		toolChunk(0, "call_1", "get_weather", ""),
		toolChunk(0, "", "", `{"loc`),
		toolChunk(0, "", "", `":"NYC"}`),
		finishChunk(openai.FinishReasonToolCalls),
	})
	assertEventContract(t, events)

	var (
		toolStart *anthropic.ContentBlock
		argsJSON  strings.Builder
	)
	for _, ev := range events {
		if ev.Type == anthropic.EventContentBlockStart && ev.ContentBlock.Type == anthropic.ContentTypeToolUse {
			toolStart = ev.ContentBlock
		}
		if ev.Type == anthropic.EventContentBlockDelta && ev.Delta.Type == anthropic.DeltaTypeInputJSON {
			argsJSON.WriteString(ev.Delta.PartialJSON)
		}
	}
	if toolStart == nil {
		t.Fatal("no tool_use block emitted")
	}
	if toolStart.Name != "get_weather" || toolStart.ID != "call_1" {
		t.Errorf("tool block = %+v", toolStart)
	}
	var input map[string]string
	if err := json.Unmarshal([]byte(argsJSON.String()), &input); err != nil || input["loc"] != "NYC" {
		t.Errorf("accumulated input = %q", argsJSON.String())
	}

	final := events[len(events)-2]
	if final.Delta.StopReason != anthropic.StopReasonToolUse {
		t.Errorf("stop_reason = %q", final.Delta.StopReason)
	}
}

func TestToolStreamEmitsTransitionPhrase(t *testing.T) {
	events := collectReplay(t, unpacedAdapter(), []openai.ChatCompletionStreamResponse{
		toolChunk(0, "call_1", "get_weather", `{"location":"NYC"}`),
		finishChunk(openai.FinishReasonToolCalls),
	})

	var text strings.Builder
	for _, ev := range events {
		if ev.Type == anthropic.EventContentBlockDelta && ev.Delta.Type == anthropic.DeltaTypeText {
			text.WriteString(ev.Delta.Text)
		}
	}
	if text.String() != PhraseForTool("get_weather") {
		t.Errorf("transition text = %q", text.String())
	}
}

func TestUsageLastReportWins(t *testing.T) {
	events := collectReplay(t, unpacedAdapter(), []openai.ChatCompletionStreamResponse{
		usageChunk(1, 1),
		textChunk("hi"),
		finishChunk(openai.FinishReasonStop),
		usageChunk(20, 7),
	})
	final := events[len(events)-2]
	if final.Usage.InputTokens != 20 || final.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v, want the last report", final.Usage)
	}
}

func TestNamelessToolCallsDropped(t *testing.T) {
	events := collectReplay(t, unpacedAdapter(), []openai.ChatCompletionStreamResponse{
		toolChunk(0, "call_1", "", `{"x":1}`),
		finishChunk(openai.FinishReasonToolCalls),
	})
	for _, ev := range events {
		if ev.Type == anthropic.EventContentBlockStart && ev.ContentBlock.Type == anthropic.ContentTypeToolUse {
			t.Fatalf("nameless tool call emitted: %+v", ev.ContentBlock)
		}
	}
}

func TestFinalizeToolArguments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"valid object passthrough", `{"location":"NYC"}`, `{"location":"NYC"}`},
		{"empty becomes object", "", "{}"},
		{"location recovery", `{"location":"NYC",`, `{"location":"NYC"}`},
		{"placeholder fallback", `garbage`, `{"location": "unknown"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := finalizeToolArguments(tt.raw); got != tt.want {
				t.Errorf("finalizeToolArguments(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPaceSlices(t *testing.T) {
	got := paceSlices("abcdefgh", 3)
	want := []string{"abc", "def", "gh"}
	if len(got) != len(want) {
		t.Fatalf("slices = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("slice %d = %q, want %q", i, got[i], want[i])
		}
	}
	if got := paceSlices("", 3); len(got) != 1 || got[0] != "" {
		t.Errorf("empty input slices = %v", got)
	}
}
