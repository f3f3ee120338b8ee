package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portcullis_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portcullis_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveSessions tracks currently active protocol sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portcullis_active_sessions",
			Help: "Number of active protocol sessions",
		},
	)

	// RPCRequests counts JSON-RPC requests by method and outcome
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portcullis_rpc_requests_total",
			Help: "Total number of JSON-RPC requests",
		},
		[]string{"method", "status"},
	)

	// ToolCalls tracks tool invocations
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portcullis_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	// ToolCallDuration tracks handler execution time
	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portcullis_tool_call_duration_seconds",
			Help:    "Tool handler execution time in seconds",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
		[]string{"tool"},
	)

	// AuthFailures counts authentication failures by reason
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portcullis_auth_failures_total",
			Help: "Total number of authentication failures",
		},
		[]string{"reason"},
	)

	// BridgeQueueDepth tracks work items waiting for a bridge worker
	BridgeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portcullis_bridge_queue_depth",
			Help: "Number of calls queued for a bridge worker",
		},
	)

	// BridgeTimeouts counts bridge calls that exceeded their deadline
	BridgeTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portcullis_bridge_timeouts_total",
			Help: "Total number of bridge calls that timed out",
		},
	)

	// BridgePanics counts recovered handler panics
	BridgePanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portcullis_bridge_panics_total",
			Help: "Total number of recovered handler panics",
		},
	)

	// VaultOperations counts credential vault operations
	VaultOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portcullis_vault_operations_total",
			Help: "Total number of credential vault operations",
		},
		[]string{"operation", "status"},
	)

	// RateLimitRejections counts requests rejected by the rate limiter
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portcullis_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for streaming responses
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware creates an HTTP middleware that records metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath normalizes URL paths to avoid high cardinality
func normalizePath(path string) string {
	switch path {
	case "/health", "/ready", "/mcp", "/mcp/", "/metrics":
		return path
	default:
		if len(path) > 5 && path[:5] == "/mcp/" {
			return "/mcp"
		}
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionStart increments the active session gauge
func RecordSessionStart() {
	ActiveSessions.Inc()
}

// RecordSessionEnd decrements the active session gauge
func RecordSessionEnd() {
	ActiveSessions.Dec()
}

// RecordRPC records a JSON-RPC request outcome
func RecordRPC(method, status string) {
	RPCRequests.WithLabelValues(method, status).Inc()
}

// RecordToolCall records a tool invocation and its duration
func RecordToolCall(tool, status string, durationSeconds float64) {
	ToolCalls.WithLabelValues(tool, status).Inc()
	ToolCallDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordAuthFailure records an authentication failure by reason
func RecordAuthFailure(reason string) {
	AuthFailures.WithLabelValues(reason).Inc()
}

// RecordVaultOperation records a credential vault operation
func RecordVaultOperation(operation, status string) {
	VaultOperations.WithLabelValues(operation, status).Inc()
}
