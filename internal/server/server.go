// Package server exposes the relay's HTTP surface: the messages endpoint with
// streaming, token counting, model listing, the batch sub-API and health
// probes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openbridge/claude-relay/internal/adapter"
	"github.com/openbridge/claude-relay/internal/batch"
	"github.com/openbridge/claude-relay/internal/config"
	"github.com/openbridge/claude-relay/internal/observability/middleware"
	"github.com/openbridge/claude-relay/internal/tokenizer"
	"github.com/openbridge/claude-relay/internal/websearch"
)

// Options carries the collaborators the server routes to.
type Options struct {
	Adapter   *adapter.Adapter
	Search    *websearch.Orchestrator
	Batches   *batch.Engine
	Registry  *config.ModelRegistry
	Estimator tokenizer.Estimator
	Readiness ReadinessChecker

	// MaxRequestBytes bounds request bodies; zero disables the limit.
	MaxRequestBytes int64
}

// Server is the relay HTTP server.
type Server struct {
	httpServer *http.Server
}

// New builds the server with its routes and middleware chain.
func New(opts Options) *Server {
	mux := http.NewServeMux()

	messages := &MessagesHandler{
		Adapter:  opts.Adapter,
		Search:   opts.Search,
		Validate: validator.New(),
	}
	batches := &BatchesHandler{Engine: opts.Batches}

	mux.Handle("POST /v1/messages", messages)
	mux.HandleFunc("POST /v1/messages/count_tokens", countTokensHandler(opts.Estimator))
	mux.HandleFunc("POST /v1/messages/batches", batches.create)
	mux.HandleFunc("GET /v1/messages/batches", batches.list)
	mux.HandleFunc("GET /v1/messages/batches/{id}", batches.get)
	mux.HandleFunc("POST /v1/messages/batches/{id}/cancel", batches.cancel)
	mux.HandleFunc("GET /v1/messages/batches/{id}/results", batches.results)
	mux.HandleFunc("GET /v1/models", listModelsHandler(opts.Registry))
	mux.HandleFunc("GET /v1/models/{id}", getModelHandler(opts.Registry))
	mux.HandleFunc("GET /livez", livenessHandler())
	mux.HandleFunc("GET /readyz", readinessHandler(opts.Readiness))

	middlewares := []func(http.Handler) http.Handler{
		middleware.RequestIDGeneration,
		middleware.Logging(slog.Default()),
		middleware.RequestIDPropagation,
		middleware.TraceContextExtraction,
		Recovery,
	}
	if opts.MaxRequestBytes > 0 {
		middlewares = append(middlewares, RequestSizeLimit(opts.MaxRequestBytes))
	}

	return &Server{
		httpServer: &http.Server{
			Handler:           applyMiddlewares(mux, middlewares...),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler exposes the composed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving on addr. It returns once the listener is bound; the
// returned channel reports the terminal serve error, if any.
func (s *Server) Start(ctx context.Context, addr string) (<-chan error, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "server listening", "addr", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
