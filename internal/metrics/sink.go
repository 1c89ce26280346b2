package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loomcloud/loom/internal/events"
)

// CountingSink counts pipeline lifecycle events by name as they pass
// through to the wrapped sink.
type CountingSink struct {
	next    events.Sink
	emitted *prometheus.CounterVec
}

var _ events.Sink = (*CountingSink)(nil)

// NewCountingSink creates a counting sink and registers its counter
// with the given registry.
func NewCountingSink(registry *prometheus.Registry, next events.Sink) *CountingSink {
	s := &CountingSink{
		next: next,
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_pipeline_events_total",
			Help: "Total number of pipeline lifecycle events emitted by name",
		}, []string{"event"}),
	}
	registry.MustRegister(s.emitted)
	return s
}

// Emit implements events.Sink.
func (s *CountingSink) Emit(ctx context.Context, name string, payload map[string]any) {
	s.emitted.WithLabelValues(name).Inc()
	s.next.Emit(ctx, name, payload)
}
