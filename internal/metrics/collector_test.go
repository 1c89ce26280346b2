package metrics

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRuns struct {
	n int
}

func (s *stubRuns) Len() int { return s.n }

type stubScheduler struct {
	running  bool
	inFlight int
}

func (s *stubScheduler) Running() bool { return s.running }

func (s *stubScheduler) InFlight() int { return s.inFlight }

func gatherMap(t *testing.T, registry *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestCollectorDescribe(t *testing.T) {
	t.Parallel()

	collector := NewCollector("1.0.0", &stubRuns{}, &stubScheduler{})

	ch := make(chan *prometheus.Desc, 10)
	collector.Describe(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	assert.Equal(t, 5, count)
}

func TestCollectorGather(t *testing.T) {
	t.Parallel()

	collector := NewCollector("1.0.0",
		&stubRuns{n: 3},
		&stubScheduler{running: true, inFlight: 2})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	metrics := gatherMap(t, registry)

	require.Contains(t, metrics, "loom_info")
	info := metrics["loom_info"].Metric[0]
	assert.Equal(t, float64(1), info.Gauge.GetValue())
	labels := make(map[string]string)
	for _, l := range info.Label {
		labels[l.GetName()] = l.GetValue()
	}
	assert.Equal(t, "1.0.0", labels["version"])
	assert.NotEmpty(t, labels["go_version"])

	require.Contains(t, metrics, "loom_uptime_seconds")
	assert.GreaterOrEqual(t, metrics["loom_uptime_seconds"].Metric[0].Gauge.GetValue(), float64(0))

	require.Contains(t, metrics, "loom_pipeline_runs_currently_running")
	assert.Equal(t, float64(3), metrics["loom_pipeline_runs_currently_running"].Metric[0].Gauge.GetValue())

	require.Contains(t, metrics, "loom_scheduler_running")
	assert.Equal(t, float64(1), metrics["loom_scheduler_running"].Metric[0].Gauge.GetValue())

	require.Contains(t, metrics, "loom_scheduler_actions_in_flight")
	assert.Equal(t, float64(2), metrics["loom_scheduler_actions_in_flight"].Metric[0].Gauge.GetValue())
}

func TestCollectorToleratesNilDependencies(t *testing.T) {
	t.Parallel()

	collector := NewCollector("1.0.0", nil, nil)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	metrics := gatherMap(t, registry)
	assert.Equal(t, float64(0), metrics["loom_pipeline_runs_currently_running"].Metric[0].Gauge.GetValue())
	assert.Equal(t, float64(0), metrics["loom_scheduler_running"].Metric[0].Gauge.GetValue())
	assert.Equal(t, float64(0), metrics["loom_scheduler_actions_in_flight"].Metric[0].Gauge.GetValue())
}

func TestRegistryIncludesRuntimeCollectors(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(NewCollector("1.0.0", &stubRuns{}, &stubScheduler{}))

	metrics := gatherMap(t, registry)
	assert.Contains(t, metrics, "loom_info")
	assert.Contains(t, metrics, "go_goroutines")
}

type recordSink struct {
	mu    sync.Mutex
	names []string
}

func (s *recordSink) Emit(_ context.Context, name string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
}

func TestCountingSink(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	inner := &recordSink{}
	sink := NewCountingSink(registry, inner)

	ctx := context.Background()
	sink.Emit(ctx, "pipeline_run_started", map[string]any{"run_id": "r1"})
	sink.Emit(ctx, "pipeline_run_started", map[string]any{"run_id": "r2"})
	sink.Emit(ctx, "pipeline_run_completed", nil)

	assert.Equal(t, []string{
		"pipeline_run_started",
		"pipeline_run_started",
		"pipeline_run_completed",
	}, inner.names)

	metrics := gatherMap(t, registry)
	require.Contains(t, metrics, "loom_pipeline_events_total")
	counts := make(map[string]float64)
	for _, m := range metrics["loom_pipeline_events_total"].Metric {
		for _, l := range m.Label {
			if l.GetName() == "event" {
				counts[l.GetValue()] = m.Counter.GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), counts["pipeline_run_started"])
	assert.Equal(t, float64(1), counts["pipeline_run_completed"])
}
