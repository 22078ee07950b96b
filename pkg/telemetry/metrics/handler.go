package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
// It should be mounted at MetricsConfig.Path (typically "/metrics").
//
//	collector := metrics.NewCollector(cfg, nil)
//	mux.Handle("/metrics", collector.Handler())
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(
		c.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
			Registry:          c.registry,
		},
	)
}

// HandlerWithOptions returns an HTTP handler with custom options.
//
//	handler := collector.HandlerWithOptions(promhttp.HandlerOpts{
//		Timeout:             10 * time.Second,
//		MaxRequestsInFlight: 5,
//	})
func (c *Collector) HandlerWithOptions(opts promhttp.HandlerOpts) http.Handler {
	return promhttp.HandlerFor(c.registry, opts)
}
