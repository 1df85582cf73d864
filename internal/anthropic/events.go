package anthropic

import (
	"encoding/json"
	"strings"
)

// Streaming event names. Events are emitted as SSE with the event name
// doubling as the payload's "type" field.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

// Delta payload type tags.
const (
	DeltaTypeText      = "text_delta"
	DeltaTypeInputJSON = "input_json_delta"
	DeltaTypeThinking  = "thinking_delta"
)

// StreamEvent is one named streaming event. Fields are populated according to
// Type; the zero values of unused fields are omitted from the JSON payload.
type StreamEvent struct {
	Type         string            `json:"type"`
	Message      *MessagesResponse `json:"message,omitempty"`
	Index        int               `json:"index,omitempty"`
	ContentBlock *ContentBlock     `json:"content_block,omitempty"`
	Delta        *StreamDelta      `json:"delta,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
	Error        *ErrorDetail      `json:"error,omitempty"`
}

// MarshalJSON always serializes the index on content-block events, where
// index 0 is meaningful, and drops it from message-level events.
func (e *StreamEvent) MarshalJSON() ([]byte, error) {
	type plain StreamEvent
	if !strings.HasPrefix(e.Type, "content_block_") {
		return json.Marshal((*plain)(e))
	}
	return json.Marshal(struct {
		*plain
		Index int `json:"index"`
	}{(*plain)(e), e.Index})
}

// StreamDelta carries the incremental payload of a content_block_delta or the
// closing stop reason of a message_delta.
type StreamDelta struct {
	Type         string  `json:"type,omitempty"`
	Text         string  `json:"text,omitempty"`
	PartialJSON  string  `json:"partial_json,omitempty"`
	Thinking     string  `json:"thinking,omitempty"`
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

// MarshalJSON emits stop_sequence next to stop_reason even when nil; a null
// is part of the message_delta wire shape. Content-block deltas carry neither
// field and stay unchanged.
func (d *StreamDelta) MarshalJSON() ([]byte, error) {
	type plain StreamDelta
	if d.StopReason == "" {
		return json.Marshal((*plain)(d))
	}
	return json.Marshal(struct {
		*plain
		StopSequence *string `json:"stop_sequence"`
	}{(*plain)(d), d.StopSequence})
}
