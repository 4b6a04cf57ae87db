package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink turns EventToolInvoked into counters and latency
// histograms. Other events are ignored.
type PrometheusSink struct {
	calls   *prometheus.CounterVec
	prepare *prometheus.HistogramVec
	invoke  *prometheus.HistogramVec
}

// NewPrometheusSink registers the tool metrics on registry.
func NewPrometheusSink(registry prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolhost_tool_invocations_total",
				Help: "Total number of tool invocations by tool, source kind and result",
			},
			[]string{"tool_id", "source", "result"},
		),
		prepare: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolhost_tool_prepare_seconds",
				Help:    "Time spent preparing tool invocations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_id"},
		),
		invoke: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolhost_tool_invoke_seconds",
				Help:    "Time spent executing tool invocations",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"tool_id"},
		),
	}
	registry.MustRegister(s.calls, s.prepare, s.invoke)
	return s
}

// Publish implements Sink.
func (s *PrometheusSink) Publish(_ context.Context, name string, props Properties) {
	if name != EventToolInvoked {
		return
	}
	toolID, _ := props["toolId"].(string)
	source, _ := props["toolSourceKind"].(string)
	result, _ := props["result"].(string)

	s.calls.WithLabelValues(toolID, source, result).Inc()
	if ms, ok := props["prepareTimeMs"].(int64); ok {
		s.prepare.WithLabelValues(toolID).Observe((time.Duration(ms) * time.Millisecond).Seconds())
	}
	if ms, ok := props["invocationTimeMs"].(int64); ok {
		s.invoke.WithLabelValues(toolID).Observe((time.Duration(ms) * time.Millisecond).Seconds())
	}
}
