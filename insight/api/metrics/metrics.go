package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values.
const (
	OutcomeOK = "ok"

	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
	TransportSSE       = "sse"
	TransportGraphQL   = "graphql"

	// unmatchedRoute labels every request that matched no registered route.
	unmatchedRoute = "unmatched"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cfu_insight_api_build_info",
			Help: "Build information of the CFU Insight API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfu_insight_api_http_requests_total",
			Help: "Total number of HTTP requests by route and status class",
		},
		[]string{"method", "route", "code"},
	)

	// Insight turns run several LLM round-trips, so the buckets reach past
	// the LLM timeout.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cfu_insight_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"method", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cfu_insight_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	InsightsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfu_insight_api_insights_total",
			Help: "Insight turns by outcome (ok, or the HTTP status returned)",
		},
		[]string{"outcome"},
	)

	InsightRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cfu_insight_api_insight_rows",
			Help:    "Rows returned with successful insight turns",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	APIKeyRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfu_insight_api_api_key_rejections_total",
			Help: "Requests rejected for a missing or wrong API key",
		},
		[]string{"transport"},
	)

	StreamSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cfu_insight_api_stream_subscribers",
			Help: "Clients currently following a request's progress stream",
		},
		[]string{"transport"},
	)
)

// ObserveInsight records the outcome of one insight turn.
func ObserveInsight(status, rows int) {
	if status != http.StatusOK {
		InsightsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
		return
	}
	InsightsTotal.WithLabelValues(OutcomeOK).Inc()
	InsightRows.Observe(float64(rows))
}

// Middleware records HTTP metrics per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, route, statusClass(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusClass collapses a status code to 2xx, 4xx and so on. A handler that
// never wrote a header answered 200.
func statusClass(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	return strconv.Itoa(code/100) + "xx"
}
