package metrics

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// EndpointPattern returns the chi route pattern for r, or a coarse bucket for
// unrouted paths so entity ids never become label values.
func EndpointPattern(r *http.Request) string {
	if r == nil {
		return "/unknown"
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/":
		return "/"
	case path == "/version", path == "/metrics":
		return path
	case path == "/health", strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case strings.HasPrefix(path, "/api/v1/"):
		return "/api/v1/*"
	default:
		return "/unknown"
	}
}
