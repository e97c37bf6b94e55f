package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/scanout/internal/logging"
)

// HTTPLoggingMiddleware logs one line per request, with the level chosen by
// method and status code.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	method := ctx.Method()
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", ctx.URL().Path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if query := ctx.URL().RawQuery; query != "" {
		attrs = append(attrs, slog.String("query", query))
	}

	next(ctx)

	status := ctx.Status()
	attrs = append(attrs,
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	)

	level := slog.LevelInfo
	switch {
	case method == http.MethodOptions:
		level = slog.LevelDebug
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}
	logger.LogAttrs(ctx.Context(), level, "HTTP request completed", attrs...)
}

// corsPolicy is a permissive CORS policy for the local control API.
type corsPolicy struct {
	origin  string
	methods string
	headers string
	maxAge  string
}

func defaultCORS() corsPolicy {
	return corsPolicy{
		origin:  "*",
		methods: strings.Join([]string{"GET", "POST", "OPTIONS"}, ", "),
		headers: strings.Join([]string{"Content-Type", "Authorization", "Accept", "Origin"}, ", "),
		maxAge:  strconv.Itoa(86400),
	}
}

func (c corsPolicy) apply(set func(name, value string)) {
	set("Access-Control-Allow-Origin", c.origin)
	set("Access-Control-Allow-Methods", c.methods)
	set("Access-Control-Allow-Headers", c.headers)
	set("Access-Control-Max-Age", c.maxAge)
}

// middleware adds CORS headers to API responses.
func (c corsPolicy) middleware(ctx huma.Context, next func(huma.Context)) {
	c.apply(ctx.SetHeader)
	if ctx.Method() == http.MethodOptions {
		ctx.SetStatus(http.StatusNoContent)
		return
	}
	next(ctx)
}

// preflight answers OPTIONS requests before they reach huma routing.
func (c corsPolicy) preflight(w http.ResponseWriter, _ *http.Request) {
	c.apply(w.Header().Set)
	w.WriteHeader(http.StatusNoContent)
}
