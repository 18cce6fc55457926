// Package metrics emits application metrics through the gofulmen telemetry
// system. Every recorder is a no-op until observability.InitMetrics has run.
package metrics

import (
	"strconv"
	"time"

	"github.com/arenawatch/arenawatch/internal/observability"
)

// Metric names
const (
	RefreshCyclesTotal   = "app_refresh_cycles_total"
	RefreshCycleDuration = "app_refresh_cycle_duration_ms"

	RateLimitDecisionsTotal = "app_rate_limit_decisions_total"
	FetchesTotal            = "app_fetches_total"
	ChallengesTotal         = "app_challenges_total"

	TopicBackoffFactor     = "app_refresh_backoff_factor"
	TopicEffectiveInterval = "app_refresh_effective_interval_ms"
	EntitiesByState        = "app_entities"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"

	HTTPRequestsTotal   = "http_requests_total"
	HTTPRequestDuration = "http_request_duration_ms"
	HTTPRequestSize     = "http_request_size_bytes"
	HTTPResponseSize    = "http_response_size_bytes"
	HTTPErrorsTotal     = "http_errors_total"

	ErrorsTotal      = "errors_total"
	PanicsTotal      = "panics_total"
	ErrorsByEndpoint = "errors_by_endpoint"
)

type labels = map[string]string

func count(name string, tags labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(name, 1, tags)
	}
}

func gauge(name string, value float64, tags labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, tags)
	}
}

func observe(name string, d time.Duration, tags labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Histogram(name, d, tags)
	}
}

// RecordRefreshCycle records one aggregator cycle. outcome is success,
// failure or skipped; skipped cycles carry no duration.
func RecordRefreshCycle(outcome string, duration time.Duration) {
	count(RefreshCyclesTotal, labels{"outcome": outcome})
	if outcome != "skipped" {
		observe(RefreshCycleDuration, duration, nil)
	}
}

func RecordRateLimitDecision(kind string, allowed bool) {
	action := "allowed"
	if !allowed {
		action = "blocked"
	}
	count(RateLimitDecisionsTotal, labels{"kind": kind, "action": action})
}

func RecordFetch(kind string, outcome string) {
	count(FetchesTotal, labels{"kind": kind, "outcome": outcome})
}

func RecordChallenge(outcome string) {
	count(ChallengesTotal, labels{"outcome": outcome})
}

// SetTopicSchedule publishes the backoff factor and effective interval of a topic.
func SetTopicSchedule(topic string, backoffFactor int, effective time.Duration) {
	tags := labels{"topic": topic}
	gauge(TopicBackoffFactor, float64(backoffFactor), tags)
	gauge(TopicEffectiveInterval, float64(effective.Milliseconds()), tags)
}

func SetEntityCount(state string, n int) {
	gauge(EntitiesByState, float64(n), labels{"state": state})
}

func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	count(HealthCheckTotal, labels{"check": checkName, "status": status})
	observe(HealthCheckDuration, duration, labels{"check": checkName})
}

// SetServerStartTime records the server start as a Unix timestamp.
func SetServerStartTime(timestamp int64) {
	gauge(ServerStartTime, float64(timestamp), nil)
}

func SetServerUptime(seconds int64) {
	gauge(ServerUptime, float64(seconds), nil)
}

// RecordHTTPRequest records one served request. endpoint must be a route
// pattern, never a raw path.
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration, requestBytes, responseBytes int64) {
	tags := labels{"method": method, "endpoint": endpoint, "status": strconv.Itoa(status)}
	count(HTTPRequestsTotal, tags)
	observe(HTTPRequestDuration, duration, tags)

	sizeTags := labels{"method": method, "endpoint": endpoint}
	gauge(HTTPRequestSize, float64(requestBytes), sizeTags)
	gauge(HTTPResponseSize, float64(responseBytes), sizeTags)

	if status >= 400 {
		errorType := "client_error"
		if status >= 500 {
			errorType = "server_error"
		}
		count(HTTPErrorsTotal, labels{
			"method":     method,
			"endpoint":   endpoint,
			"status":     strconv.Itoa(status),
			"error_type": errorType,
		})
	}
}

// RecordError records an error envelope sent to a client.
func RecordError(errorCode string, httpStatus int) {
	count(ErrorsTotal, labels{"error_code": errorCode, "http_status": strconv.Itoa(httpStatus)})
}

func RecordPanic() {
	count(PanicsTotal, nil)
}

func RecordErrorByEndpoint(endpoint string, errorCode string) {
	count(ErrorsByEndpoint, labels{"endpoint": endpoint, "error_code": errorCode})
}
