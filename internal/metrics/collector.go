// Package metrics exposes orchestration state as Prometheus metrics.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ActiveRunCounter reports the number of live pipeline runs. The run
// manager satisfies it.
type ActiveRunCounter interface {
	Len() int
}

// SchedulerState reports the dispatch loop's liveness. The scheduler
// satisfies it.
type SchedulerState interface {
	Running() bool
	InFlight() int
}

// Collector implements prometheus.Collector over live orchestration
// state. All reads are in-memory, so collection never blocks on the
// store.
type Collector struct {
	startTime time.Time
	version   string
	runs      ActiveRunCounter
	sched     SchedulerState

	infoDesc             *prometheus.Desc
	uptimeDesc           *prometheus.Desc
	runsRunningDesc      *prometheus.Desc
	schedulerRunningDesc *prometheus.Desc
	actionsInFlightDesc  *prometheus.Desc
}

// NewCollector creates a collector. Either dependency may be nil, in
// which case its gauges report zero.
func NewCollector(version string, runs ActiveRunCounter, sched SchedulerState) *Collector {
	return &Collector{
		startTime: time.Now(),
		version:   version,
		runs:      runs,
		sched:     sched,

		infoDesc: prometheus.NewDesc(
			"loom_info",
			"Loom build information",
			[]string{"version", "go_version"},
			nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"loom_uptime_seconds",
			"Time since server start",
			nil,
			nil,
		),
		runsRunningDesc: prometheus.NewDesc(
			"loom_pipeline_runs_currently_running",
			"Number of currently running pipeline runs",
			nil,
			nil,
		),
		schedulerRunningDesc: prometheus.NewDesc(
			"loom_scheduler_running",
			"Whether the scheduler loop is running",
			nil,
			nil,
		),
		actionsInFlightDesc: prometheus.NewDesc(
			"loom_scheduler_actions_in_flight",
			"Number of scheduled actions currently being dispatched",
			nil,
			nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.infoDesc
	ch <- c.uptimeDesc
	ch <- c.runsRunningDesc
	ch <- c.schedulerRunningDesc
	ch <- c.actionsInFlightDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		c.infoDesc,
		prometheus.GaugeValue,
		1,
		c.version,
		runtime.Version(),
	)
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc,
		prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)

	runsRunning := float64(0)
	if c.runs != nil {
		runsRunning = float64(c.runs.Len())
	}
	ch <- prometheus.MustNewConstMetric(
		c.runsRunningDesc,
		prometheus.GaugeValue,
		runsRunning,
	)

	schedulerRunning := float64(0)
	actionsInFlight := float64(0)
	if c.sched != nil {
		if c.sched.Running() {
			schedulerRunning = 1
		}
		actionsInFlight = float64(c.sched.InFlight())
	}
	ch <- prometheus.MustNewConstMetric(
		c.schedulerRunningDesc,
		prometheus.GaugeValue,
		schedulerRunning,
	)
	ch <- prometheus.MustNewConstMetric(
		c.actionsInFlightDesc,
		prometheus.GaugeValue,
		actionsInFlight,
	)
}

// NewRegistry creates a Prometheus registry with the Loom collector
// and the standard Go runtime collectors registered.
func NewRegistry(collector *Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}
