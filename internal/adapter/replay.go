package adapter

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/openbridge/claude-relay/internal/anthropic"
)

// ReplayMessage replays a completed message as the streaming event sequence,
// block by block. Search flows use this to stream results that were produced
// to completion first; it is never a true incremental stream.
func (a *Adapter) ReplayMessage(ctx context.Context, msg *anthropic.MessagesResponse) iter.Seq2[*anthropic.StreamEvent, error] {
	return func(yield func(*anthropic.StreamEvent, error) bool) {
		start := &anthropic.MessagesResponse{
			ID:      msg.ID,
			Type:    "message",
			Role:    msg.Role,
			Model:   msg.Model,
			Content: []anthropic.ContentBlock{},
			Usage:   anthropic.Usage{InputTokens: msg.Usage.InputTokens},
		}
		if !yield(&anthropic.StreamEvent{Type: anthropic.EventMessageStart, Message: start}, nil) {
			return
		}

		for index, block := range msg.Content {
			if !a.replayBlock(ctx, index, block, yield) {
				return
			}
		}

		if !yield(&anthropic.StreamEvent{
			Type:  anthropic.EventMessageDelta,
			Delta: &anthropic.StreamDelta{StopReason: msg.StopReason},
			Usage: &msg.Usage,
		}, nil) {
			return
		}
		yield(&anthropic.StreamEvent{Type: anthropic.EventMessageStop}, nil)
	}
}

// replayBlock emits start, deltas and stop for one content block.
func (a *Adapter) replayBlock(ctx context.Context, index int, block anthropic.ContentBlock, yield func(*anthropic.StreamEvent, error) bool) bool {
	switch block.Type {
	case anthropic.ContentTypeText:
		return a.emitPacedText(ctx, block.Text, index, a.textSliceSize, yield)

	case anthropic.ContentTypeToolUse, anthropic.ContentTypeServerToolUse:
		shell := block
		shell.Input = json.RawMessage("{}")
		if !yield(&anthropic.StreamEvent{
			Type:         anthropic.EventContentBlockStart,
			Index:        index,
			ContentBlock: &shell,
		}, nil) {
			return false
		}
		for _, slice := range paceSlices(toolInputJSON(block.Input), a.jsonSliceSize) {
			if !a.pace(ctx) {
				return false
			}
			if !yield(&anthropic.StreamEvent{
				Type:  anthropic.EventContentBlockDelta,
				Index: index,
				Delta: &anthropic.StreamDelta{Type: anthropic.DeltaTypeInputJSON, PartialJSON: slice},
			}, nil) {
				return false
			}
		}
		return yield(&anthropic.StreamEvent{Type: anthropic.EventContentBlockStop, Index: index}, nil)

	default:
		// Structured result blocks carry their full payload on the start
		// event and stream no deltas.
		if !yield(&anthropic.StreamEvent{
			Type:         anthropic.EventContentBlockStart,
			Index:        index,
			ContentBlock: &block,
		}, nil) {
			return false
		}
		return yield(&anthropic.StreamEvent{Type: anthropic.EventContentBlockStop, Index: index}, nil)
	}
}
