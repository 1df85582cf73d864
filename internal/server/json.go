package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openbridge/claude-relay/internal/anthropic"
)

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeError writes an error envelope with the status code implied by the
// error type. Untyped errors are wrapped as api_error.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var errResp *anthropic.ErrorResponse
	if !errors.As(err, &errResp) {
		errResp = anthropic.NewAPIError(http.StatusText(http.StatusInternalServerError))
	}
	writeJSON(ctx, w, errResp, errResp.HTTPStatus())
}
