package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// NewLoggingMiddleware logs each request at a level picked from its status:
// preflights and event streams at debug, 5xx at error, 4xx at warn.
func NewLoggingMiddleware(logger *slog.Logger) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		method := ctx.Method()
		path := ctx.URL().Path

		attrs := []slog.Attr{
			slog.String("method", method),
			slog.String("path", path),
			slog.String("remote_addr", ctx.RemoteAddr()),
		}
		if q := ctx.URL().RawQuery; q != "" && !strings.Contains(q, "auth=") {
			attrs = append(attrs, slog.String("query", q))
		}

		next(ctx)

		status := ctx.Status()
		attrs = append(attrs,
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		)

		level := slog.LevelInfo
		switch {
		case method == http.MethodOptions, strings.HasSuffix(path, "/stream"), path == "/api/events":
			level = slog.LevelDebug
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		logger.LogAttrs(ctx.Context(), level, "HTTP request completed", attrs...)
	}
}
