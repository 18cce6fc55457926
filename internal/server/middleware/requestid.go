package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/arenawatch/arenawatch/internal/observability"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = observability.RequestIDHeader

// RequestID assigns a correlation id to each request. An id set by chi or
// supplied by the caller is reused; otherwise a uuid is generated. The id is
// stored on the context so entity calls made while serving the request carry
// it too.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.GetReqID(r.Context())
		if id == "" {
			id = r.Header.Get(RequestIDHeader)
		}
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), id)))
	})
}

// GetRequestID returns the correlation id stored on ctx.
func GetRequestID(ctx context.Context) string {
	return observability.RequestIDFrom(ctx)
}
