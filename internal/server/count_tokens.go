package server

import (
	"encoding/json"
	"net/http"

	"github.com/openbridge/claude-relay/internal/anthropic"
	"github.com/openbridge/claude-relay/internal/tokenizer"
)

// countTokensHandler estimates the input token count of a request without
// invoking the backend.
func countTokensHandler(estimator tokenizer.Estimator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req anthropic.TokenCountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(ctx, w, anthropic.NewInvalidRequestError("malformed request body"))
			return
		}
		if req.Model == "" {
			writeError(ctx, w, anthropic.NewInvalidRequestError("model is required"))
			return
		}

		count := tokenizer.CountRequest(estimator, anthropic.FlattenContent(req.System), req.Messages, req.Tools)
		writeJSON(ctx, w, &anthropic.TokenCountResponse{InputTokens: count}, http.StatusOK)
	}
}
