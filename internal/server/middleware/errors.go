package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/arenawatch/arenawatch/internal/errors"
	"github.com/arenawatch/arenawatch/internal/metrics"
)

// Recovery turns a handler panic into a critical INTERNAL_ERROR envelope
// carrying the stack trace.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			metrics.RecordPanic()

			envelope := errors.NewErrorEnvelope(apperrors.CodeInternal, fmt.Sprintf("panic: %v", recovered)).
				WithCorrelationID(GetRequestID(r.Context()))
			if withStack, err := envelope.WithContext(map[string]interface{}{
				"stack_trace": string(debug.Stack()),
			}); err == nil {
				envelope = withStack
			}
			if critical, err := envelope.WithSeverity(errors.SeverityCritical); err == nil {
				envelope = critical
			}
			apperrors.RespondWithEnvelope(w, r, envelope)
		}()

		next.ServeHTTP(w, r)
	})
}
