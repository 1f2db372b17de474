package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_dispatch_total",
			Help: "Dispatch attempts by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_dispatch_duration_seconds",
			Help:    "Time from dispatch request to persisted record",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"category"},
	)

	channelSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_channel_sends_total",
			Help: "Side-channel adapter results by channel and status",
		},
		[]string{"channel", "status"},
	)

	channelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_channel_send_duration_seconds",
			Help:    "Side-channel adapter call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)

	realtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_realtime_connections",
			Help: "Live realtime connections",
		},
	)

	realtimeEmits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_realtime_emits_total",
			Help: "Realtime emits by event and whether any connection received it",
		},
		[]string{"event", "result"},
	)

	realtimeDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_realtime_drops_total",
			Help: "Frames dropped for a single connection",
		},
		[]string{"reason"},
	)

	eventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_consumed_total",
			Help: "Domain events consumed from SQS by type and status",
		},
		[]string{"type", "status"},
	)

	sqsMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_sqs_messages_in_flight",
			Help: "Current messages being processed from SQS",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
	)

	circuitStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_circuit_state_changes_total",
			Help: "Circuit breaker transitions by channel and new state",
		},
		[]string{"channel", "state"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDispatch records the outcome of one dispatch: created, suppressed,
// or failed.
func RecordDispatch(category, outcome string, duration time.Duration) {
	dispatchTotal.WithLabelValues(category, outcome).Inc()
	if outcome == "created" {
		dispatchDuration.WithLabelValues(category).Observe(duration.Seconds())
	}
}

// RecordChannelSend records one side-channel adapter result
func RecordChannelSend(channel string, ok bool, duration time.Duration) {
	status := "sent"
	if !ok {
		status = "failed"
	}
	channelSends.WithLabelValues(channel, status).Inc()
	channelLatency.WithLabelValues(channel).Observe(duration.Seconds())
}

// SetRealtimeConnections sets the live connection gauge
func SetRealtimeConnections(count int) {
	realtimeConnections.Set(float64(count))
}

// RecordRealtimeEmit records one bus emit. An emit with no targets counts as
// dropped.
func RecordRealtimeEmit(event string, targets, delivered int) {
	result := "delivered"
	switch {
	case targets == 0:
		result = "no_listeners"
	case delivered < targets:
		result = "partial"
	}
	realtimeEmits.WithLabelValues(event, result).Inc()
}

// RecordRealtimeDrop records a frame dropped for one connection
func RecordRealtimeDrop(reason string) {
	realtimeDrops.WithLabelValues(reason).Inc()
}

// RecordEventConsumed records a consumed domain event
func RecordEventConsumed(eventType, status string) {
	eventsConsumed.WithLabelValues(eventType, status).Inc()
}

// SetSQSMessagesInFlight sets the current in-flight message count
func SetSQSMessagesInFlight(count int) {
	sqsMessagesInFlight.Set(float64(count))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// RecordCircuitStateChange records a breaker transition
func RecordCircuitStateChange(channel, state string) {
	circuitStateChanges.WithLabelValues(channel, state).Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Middleware returns HTTP middleware that records request metrics. Requests
// routed by chi are labelled with their route pattern rather than the raw
// path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
