package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/openbridge/claude-relay/internal/anthropic"
	"github.com/openbridge/claude-relay/internal/batch"
)

// BatchesHandler exposes the batch sub-API: create, get, list, cancel and
// results retrieval.
type BatchesHandler struct {
	Engine *batch.Engine
}

func (h *BatchesHandler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req batch.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(ctx, w, anthropic.NewInvalidRequestError(http.StatusText(http.StatusRequestEntityTooLarge)))
			return
		}
		writeError(ctx, w, anthropic.NewInvalidRequestError("malformed batch request body"))
		return
	}

	b, err := h.Engine.Create(ctx, &req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, b, http.StatusOK)
}

func (h *BatchesHandler) get(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.Get(r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, b, http.StatusOK)
}

func (h *BatchesHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(r.Context(), w, anthropic.NewInvalidRequestError("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	writeJSON(r.Context(), w, h.Engine.List(limit), http.StatusOK)
}

func (h *BatchesHandler) cancel(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.Cancel(r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, b, http.StatusOK)
}

// results streams the per-item outcomes as newline-delimited JSON records.
func (h *BatchesHandler) results(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	items, err := h.Engine.Results(r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			slog.ErrorContext(ctx, "failed to encode batch result record", "error", err)
			return
		}
	}
}
