package server

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/openbridge/claude-relay/internal/adapter"
	"github.com/openbridge/claude-relay/internal/anthropic"
	"github.com/openbridge/claude-relay/internal/websearch"
)

// MessagesHandler handles message creation requests, streaming or not. Search
// tool flows are detected up front and handed to the orchestrator; everything
// else goes through the generic adapter.
type MessagesHandler struct {
	Adapter  *adapter.Adapter
	Search   *websearch.Orchestrator
	Validate *validator.Validate
}

// Compile-time check that MessagesHandler implements http.Handler
var _ http.Handler = (*MessagesHandler)(nil)

// ServeHTTP implements http.Handler interface for streaming or non-streaming requests.
func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			slog.WarnContext(ctx, "request exceeds size limit", "limit_bytes", maxBytesErr.Limit)
			writeError(ctx, w, anthropic.NewInvalidRequestError(http.StatusText(http.StatusRequestEntityTooLarge)))
			return
		}
		slog.ErrorContext(ctx, "failed to decode request", "error", err)
		writeError(ctx, w, anthropic.NewInvalidRequestError("malformed request body"))
		return
	}

	if err := h.Validate.Struct(&req); err != nil {
		writeError(ctx, w, anthropic.NewInvalidRequestError(err.Error()))
		return
	}

	if req.Stream {
		h.streamResponse(ctx, w, &req)
	} else {
		h.writeResponse(ctx, w, &req)
	}
}

// writeResponse handles non-streaming message requests.
func (h *MessagesHandler) writeResponse(ctx context.Context, w http.ResponseWriter, req *anthropic.MessagesRequest) {
	if ctx.Err() != nil {
		return
	}

	var (
		msg *anthropic.MessagesResponse
		err error
	)
	if h.Search != nil && h.Search.Handles(req) {
		msg, err = h.Search.Execute(ctx, req)
	} else {
		msg, err = h.Adapter.CreateMessage(ctx, req)
	}
	if err != nil {
		slog.ErrorContext(ctx, "request failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, msg, http.StatusOK)
}

// streamResponse streams message events using SSE. Failures before the first
// event map to HTTP statuses; once headers are committed, failures become
// in-band error events.
func (h *MessagesHandler) streamResponse(ctx context.Context, w http.ResponseWriter, req *anthropic.MessagesRequest) {
	if ctx.Err() != nil {
		return
	}

	var (
		events iter.Seq2[*anthropic.StreamEvent, error]
		err    error
	)
	if h.Search != nil && h.Search.Handles(req) {
		events, err = h.Search.ExecuteStream(ctx, req)
	} else {
		events, err = h.Adapter.StreamMessage(ctx, req)
	}
	if err != nil {
		slog.ErrorContext(ctx, "streaming request failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		writeError(ctx, w, err)
		return
	}

	for event, err := range events {
		// Check for client disconnect before processing the event
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "client disconnected during stream")
			return
		}

		if err != nil {
			slog.ErrorContext(ctx, "stream error", "error", err)
			writeStreamError(ctx, sse, err)
			return
		}

		if writeErr := sse.WriteEvent(event.Type); writeErr != nil {
			slog.ErrorContext(ctx, "failed to write event type", "error", writeErr)
			return
		}
		if writeErr := sse.WriteData(event); writeErr != nil {
			slog.ErrorContext(ctx, "failed to write event", "error", writeErr)
			return
		}
	}
}

// writeStreamError emits an in-band error event; the HTTP status is already
// committed at this point.
func writeStreamError(ctx context.Context, sse *SSEWriter, err error) {
	var errResp *anthropic.ErrorResponse
	if !errors.As(err, &errResp) {
		errResp = anthropic.NewAPIError(err.Error())
	}
	event := &anthropic.StreamEvent{Type: anthropic.EventError, Error: &errResp.Err}

	if writeErr := sse.WriteEvent(anthropic.EventError); writeErr != nil {
		slog.ErrorContext(ctx, "failed to write error event type", "error", writeErr)
		return
	}
	if writeErr := sse.WriteData(event); writeErr != nil {
		slog.ErrorContext(ctx, "failed to write error event", "error", writeErr)
	}
}
