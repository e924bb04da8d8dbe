package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// MetricsSink counts dispatches and handler failures.
type MetricsSink struct {
	dispatched *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

// NewMetricsSink registers its counters on reg.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	return &MetricsSink{
		dispatched: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_events_dispatched_total",
				Help: "Total number of events dispatched by the event hub, partitioned by event name.",
			},
			[]string{"event"},
		),
		failures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_handler_failures_total",
				Help: "Total number of isolated handler failures, partitioned by event name and kind.",
			},
			[]string{"event", "kind"},
		),
	}
}

func (m *MetricsSink) HandlerFailed(_ context.Context, failure *HandlerFailure) {
	m.failures.WithLabelValues(string(failure.Event), failure.Kind()).Inc()
}

func (m *MetricsSink) Dispatched(_ context.Context, name push.EventName, _, _ int) {
	m.dispatched.WithLabelValues(string(name)).Inc()
}
