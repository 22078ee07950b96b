package metrics

import (
	"net/http"
	"strconv"
	"time"

	"mercator-hq/turnstile/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics tracks the API server's request handling.
//
// Metrics:
//   - turnstile_http_requests_total: Request count by route, method and code
//   - turnstile_http_request_duration_seconds: Request duration by route
//   - turnstile_http_requests_in_flight: Requests currently being served
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

// NewHTTPMetrics creates and registers HTTP metrics with the provided registry.
func NewHTTPMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *HTTPMetrics {
	hm := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"route", "method", "code"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"route"},
		),

		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),
	}

	registry.MustRegister(hm.requestsTotal, hm.requestDuration, hm.inFlight)

	return hm
}

// RecordRequest records a completed request.
func (hm *HTTPMetrics) RecordRequest(route, method string, code int, duration time.Duration) {
	hm.requestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	hm.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

type codeRecorder struct {
	http.ResponseWriter
	code int
}

func (r *codeRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument wraps next so its requests are counted under route. The route
// is the pattern, not the raw path, so tenant IDs in URLs do not become
// label values.
//
//	mux.Handle("POST /v1/admit", collector.Instrument("/v1/admit", admitHandler))
func (c *Collector) Instrument(route string, next http.Handler) http.Handler {
	if !c.config.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.http.inFlight.Inc()
		defer c.http.inFlight.Dec()

		start := time.Now()
		rec := &codeRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		c.http.RecordRequest(route, r.Method, rec.code, time.Since(start))
	})
}
