package server

import (
	"fmt"
	"net/http"

	"github.com/openbridge/claude-relay/internal/anthropic"
	"github.com/openbridge/claude-relay/internal/config"
)

// modelInfo is one entry of the model listing. Clients see the source-side ids
// only; the backend mapping stays internal.
type modelInfo struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	MaxTokens   int    `json:"max_tokens,omitempty"`
}

type modelList struct {
	Data    []modelInfo `json:"data"`
	HasMore bool        `json:"has_more"`
}

func toModelInfo(m config.ModelMapping) modelInfo {
	return modelInfo{
		Type:        "model",
		ID:          m.SourceModelID,
		DisplayName: m.Description,
		MaxTokens:   m.MaxTokens,
	}
}

// listModelsHandler serves the configured model mappings as a model listing.
func listModelsHandler(registry *config.ModelRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mappings := registry.List()
		list := modelList{Data: make([]modelInfo, 0, len(mappings))}
		for _, m := range mappings {
			list.Data = append(list.Data, toModelInfo(m))
		}
		writeJSON(r.Context(), w, &list, http.StatusOK)
	}
}

// getModelHandler serves a single model by its source id.
func getModelHandler(registry *config.ModelRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		m, ok := registry.Resolve(id)
		if !ok {
			writeError(r.Context(), w, anthropic.NewNotFoundError(fmt.Sprintf("model %s not found", id)))
			return
		}
		info := toModelInfo(m)
		writeJSON(r.Context(), w, &info, http.StatusOK)
	}
}
