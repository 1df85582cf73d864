package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
)

// Logging emits one structured line per request in the concise ECS schema.
// The anthropic-version header identifies which protocol revision the caller
// speaks, so it rides along; bodies and auth headers never reach the log.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema:             httplog.SchemaECS.Concise(true),
		LogRequestHeaders:  []string{"Content-Type", "Anthropic-Version"},
		LogResponseHeaders: []string{},

		RecoverPanics: false, // panics are handled by the recovery middleware
	})
}

// SetLogAttrs attaches attributes to the current request's log line. No-op
// outside a Logging-wrapped handler.
func SetLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	httplog.SetAttrs(ctx, attrs...)
}
