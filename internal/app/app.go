// Package app assembles the relay from its configuration and owns the
// lifecycle of the long-running services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/openbridge/claude-relay/internal/adapter"
	"github.com/openbridge/claude-relay/internal/batch"
	"github.com/openbridge/claude-relay/internal/cache"
	"github.com/openbridge/claude-relay/internal/config"
	"github.com/openbridge/claude-relay/internal/router"
	"github.com/openbridge/claude-relay/internal/server"
	"github.com/openbridge/claude-relay/internal/tokenizer"
	"github.com/openbridge/claude-relay/internal/websearch"
)

// App orchestrates the lifecycle of the relay server and related services.
type App struct {
	cfg    *config.Config
	server *server.Server
	health *Health
}

// New creates a new App instance from the loaded configuration.
func New(cfg *config.Config) (*App, error) {
	registry := cfg.Mappings()
	estimator := tokenizer.Heuristic{}
	modelRouter := router.New(cfg.Router, estimator)

	backendCfg := openai.DefaultConfig(cfg.Upstream.APIKey)
	backendCfg.BaseURL = cfg.Upstream.BaseURL
	backendCfg.HTTPClient = &http.Client{Timeout: cfg.Upstream.Timeout()}
	backend := openai.NewClientWithConfig(backendCfg)

	adpt := adapter.New(backend, registry, modelRouter)

	var search *websearch.Orchestrator
	if cfg.Search.BaseURL != "" {
		provider := websearch.NewHTTPProvider(cfg.Search.BaseURL, cfg.Search.APIKey, nil)
		results := cache.New[websearch.SearchResult](cfg.Cache.TTL(), cfg.Cache.SweepInterval())
		search = websearch.New(provider, backend, adpt, results, cfg.Search, summaryModel(cfg, registry))
	} else {
		slog.Info("web search disabled, no provider configured")
	}

	health := NewHealth()

	srv := server.New(server.Options{
		Adapter:         adpt,
		Search:          search,
		Batches:         batch.NewEngine(adpt, registry),
		Registry:        registry,
		Estimator:       estimator,
		Readiness:       health,
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
	})

	return &App{cfg: cfg, server: srv, health: health}, nil
}

// summaryModel picks the backend model used for search answer synthesis: the
// default route's target when it resolves, the raw route id otherwise.
func summaryModel(cfg *config.Config, registry *config.ModelRegistry) string {
	if m, ok := registry.Resolve(cfg.Router.Default); ok {
		return m.TargetModelID
	}
	return cfg.Router.Default
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting relay server")
	serverErrCh, err := a.server.Start(gCtx, a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	a.health.SetReady(true)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	runtimeErr := g.Wait()

	a.health.SetReady(false)
	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
