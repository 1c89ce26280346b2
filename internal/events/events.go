// Package events defines the lifecycle event sink the orchestration
// core emits into. Emission is fire-and-forget: delivery failures are
// swallowed and must never affect a run's outcome.
package events

import "context"

// Lifecycle event names.
const (
	RunStarted   = "pipeline_run_started"
	RunCompleted = "pipeline_run_completed"
	RunFailed    = "pipeline_run_failed"
	RunCancelled = "pipeline_run_cancelled"
	RunTimeout   = "pipeline_run_timeout"

	NodeStarted   = "pipeline_node_started"
	NodeCompleted = "pipeline_node_completed"
	NodeFailed    = "pipeline_node_failed"
	NodeSkipped   = "pipeline_node_skipped"
	NodeRetrying  = "pipeline_node_retrying"
)

// Sink receives lifecycle events. Implementations must be safe for
// concurrent use and must not block the caller beyond ordinary I/O.
type Sink interface {
	Emit(ctx context.Context, name string, payload map[string]any)
}

// Nop discards all events.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, string, map[string]any) {}

// Multi fans an event out to several sinks.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, name string, payload map[string]any) {
	for _, s := range m {
		s.Emit(ctx, name, payload)
	}
}
