// Package adapter transforms typed content-block requests into chat-completion
// calls against the backend and reconstructs the responses, both one-shot and
// streamed, back into the typed event protocol.
package adapter

import (
	"context"
	"fmt"
	"iter"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openbridge/claude-relay/internal/anthropic"
	"github.com/openbridge/claude-relay/internal/config"
	"github.com/openbridge/claude-relay/internal/router"
)

// HardMaxTokensCeiling caps the output token budget sent to the backend,
// independent of what the request or the model mapping ask for.
const HardMaxTokensCeiling = 8192

// Pacing defaults for replayed deltas. Cosmetic only: removing the delay
// changes arrival cadence, never content.
const (
	defaultTextSliceSize = 50
	defaultJSONSliceSize = 30
	defaultPaceDelay     = 25 * time.Millisecond
)

// Backend is the chat-completion surface the adapter needs from the upstream
// client. *openai.Client satisfies it.
type Backend interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Adapter converts requests and replies between the two protocols.
// Instances are stateless apart from their collaborators and safe for
// concurrent use.
type Adapter struct {
	backend  Backend
	registry *config.ModelRegistry
	router   *router.Router
	thinking ThinkingExtractor

	textSliceSize int
	jsonSliceSize int
	paceDelay     time.Duration
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithThinkingExtractor replaces the reasoning-extraction strategy applied to
// one-shot responses. Pass nil to disable extraction.
func WithThinkingExtractor(e ThinkingExtractor) Option {
	return func(a *Adapter) { a.thinking = e }
}

// WithPacing overrides the replay slice sizes and inter-slice delay.
// A zero delay disables pacing, which tests rely on.
func WithPacing(textSlice, jsonSlice int, delay time.Duration) Option {
	return func(a *Adapter) {
		if textSlice > 0 {
			a.textSliceSize = textSlice
		}
		if jsonSlice > 0 {
			a.jsonSliceSize = jsonSlice
		}
		a.paceDelay = delay
	}
}

// New creates an adapter over the backend client, model registry and router.
func New(backend Backend, registry *config.ModelRegistry, r *router.Router, opts ...Option) *Adapter {
	a := &Adapter{
		backend:       backend,
		registry:      registry,
		router:        r,
		textSliceSize: defaultTextSliceSize,
		jsonSliceSize: defaultJSONSliceSize,
		paceDelay:     defaultPaceDelay,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// resolveMapping routes the request and resolves the effective model mapping.
func (a *Adapter) resolveMapping(req *anthropic.MessagesRequest) (config.ModelMapping, error) {
	effective := req.Model
	if a.router != nil {
		effective = a.router.Route(req)
	}
	if mapping, ok := a.registry.Resolve(effective); ok {
		return mapping, nil
	}
	// The routed id may be a policy entry with no mapping of its own; the
	// request's model is the fallback lookup before giving up.
	if mapping, ok := a.registry.Resolve(req.Model); ok {
		return mapping, nil
	}
	return config.ModelMapping{}, anthropic.NewInvalidRequestError(
		fmt.Sprintf("unknown model: %s", req.Model))
}

// CreateMessage executes the one-shot conversion path: route, build the
// backend request, call the backend and convert the reply.
func (a *Adapter) CreateMessage(ctx context.Context, req *anthropic.MessagesRequest) (*anthropic.MessagesResponse, error) {
	mapping, err := a.resolveMapping(req)
	if err != nil {
		return nil, err
	}

	backendReq, err := a.BuildChatRequest(req, mapping, false)
	if err != nil {
		return nil, err
	}

	resp, err := a.backend.CreateChatCompletion(ctx, backendReq)
	if err != nil {
		return nil, anthropic.NewAPIError(fmt.Sprintf("backend request failed: %v", err))
	}

	return a.ConvertResponse(&resp, req.Model)
}

// StreamMessage executes the streaming path: the backend stream is drained in
// full and replayed as an ordered event sequence.
func (a *Adapter) StreamMessage(ctx context.Context, req *anthropic.MessagesRequest) (iter.Seq2[*anthropic.StreamEvent, error], error) {
	mapping, err := a.resolveMapping(req)
	if err != nil {
		return nil, err
	}

	backendReq, err := a.BuildChatRequest(req, mapping, true)
	if err != nil {
		return nil, err
	}

	stream, err := a.backend.CreateChatCompletionStream(ctx, backendReq)
	if err != nil {
		return nil, anthropic.NewAPIError(fmt.Sprintf("backend stream failed: %v", err))
	}

	return a.ReconstructStream(ctx, stream, req.Model), nil
}
