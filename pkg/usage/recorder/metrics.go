package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the usage recorder.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	queueDepth prometheus.Gauge
	retryDepth prometheus.Gauge
	recorded   prometheus.Counter
	dropped    prometheus.Counter
	failed     prometheus.Counter
}

// NewMetrics creates recorder metrics registered on reg.
// A nil reg registers on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "turnstile_recorder_queue_depth",
			Help: "Number of usage events waiting in the recorder queue",
		}),
		retryDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "turnstile_recorder_retry_buffer_depth",
			Help: "Number of usage events waiting in the recorder retry buffer",
		}),
		recorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_recorder_events_recorded_total",
			Help: "Total number of usage events written to storage",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_recorder_events_dropped_total",
			Help: "Total number of usage events dropped because the queue was full",
		}),
		failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_recorder_events_failed_total",
			Help: "Total number of usage events that could not be written",
		}),
	}
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) setRetryDepth(n int) {
	if m == nil {
		return
	}
	m.retryDepth.Set(float64(n))
}

func (m *Metrics) incRecorded() {
	if m == nil {
		return
	}
	m.recorded.Inc()
}

func (m *Metrics) incDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) incFailed() {
	if m == nil {
		return
	}
	m.failed.Inc()
}
