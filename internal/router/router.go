// Package router selects the effective backend model for a request by a fixed
// precedence of heuristics over the configured routing policy.
package router

import (
	"log/slog"
	"strings"

	"github.com/openbridge/claude-relay/internal/anthropic"
	"github.com/openbridge/claude-relay/internal/config"
	"github.com/openbridge/claude-relay/internal/tokenizer"
)

// WebSearchSystemMarker identifies a web-search assistant system prompt.
// Requests carrying exactly one web-search tool and this marker are routed to
// the web-search model regardless of the other rules.
const WebSearchSystemMarker = "You are a web search assistant"

// BackgroundTierMarker flags fast-tier model ids eligible for the background route.
const BackgroundTierMarker = "haiku"

// Router routes requests to backend models.
type Router struct {
	policy    config.RouterPolicy
	estimator tokenizer.Estimator
}

// New creates a router over the given policy and token estimator.
func New(policy config.RouterPolicy, estimator tokenizer.Estimator) *Router {
	return &Router{policy: policy, estimator: estimator}
}

// Route returns the model id the request should target. Evaluation is
// first-match-wins; any internal failure falls back to the default route
// rather than aborting the request.
func (r *Router) Route(req *anthropic.MessagesRequest) (model string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("routing failed, using default model", "panic", rec)
			model = r.policy.Default
		}
	}()

	if r.policy.WebSearch != "" && isWebSearchRequest(req) {
		return r.policy.WebSearch
	}

	if r.policy.LongContext != "" {
		threshold := r.policy.LongContextThreshold
		if threshold <= 0 {
			threshold = 60000
		}
		if r.estimateTokens(req) > threshold {
			return r.policy.LongContext
		}
	}

	if r.policy.Background != "" && strings.Contains(req.Model, BackgroundTierMarker) {
		return r.policy.Background
	}

	if r.policy.Think != "" && req.ThinkingEnabled() {
		return r.policy.Think
	}

	return r.policy.Default
}

// isWebSearchRequest reports whether the request carries exactly one
// web-search tool and the marker system prompt.
func isWebSearchRequest(req *anthropic.MessagesRequest) bool {
	if len(req.Tools) != 1 || !req.Tools[0].IsWebSearch() {
		return false
	}
	return strings.Contains(req.SystemText(), WebSearchSystemMarker)
}

func (r *Router) estimateTokens(req *anthropic.MessagesRequest) int {
	if r.estimator == nil {
		return 0
	}
	return tokenizer.CountRequest(r.estimator, req.SystemText(), req.Messages, req.Tools)
}
