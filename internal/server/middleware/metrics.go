package middleware

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/arenawatch/arenawatch/internal/metrics"
	"github.com/arenawatch/arenawatch/internal/observability"
)

// statusRecorder captures the status code and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// RequestMetrics records request counters, latency and sizes, and logs each
// completed request with its correlation id.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		var requestBytes int64
		if header := r.Header.Get("Content-Length"); header != "" {
			if n, err := strconv.ParseInt(header, 10, 64); err == nil {
				requestBytes = n
			}
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		endpoint := metrics.EndpointPattern(r)
		metrics.RecordHTTPRequest(r.Method, endpoint, rec.status, duration, requestBytes, rec.bytes)

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", rec.status),
				zap.Duration("duration", duration),
				zap.Int64("request_size", requestBytes),
				zap.Int64("response_size", rec.bytes),
				zap.String("request_id", GetRequestID(r.Context())))
		}
	})
}
