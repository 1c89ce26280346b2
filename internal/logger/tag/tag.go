// Package tag provides standardized tag functions for structured logging.
//
// All tag keys use kebab-case naming convention for consistency.
// Use these functions instead of raw strings to ensure consistent
// and type-safe log output across the codebase.
package tag

import (
	"log/slog"
	"time"
)

// Core identification tags

func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// RunID creates a tag for pipeline run IDs.
func RunID(id string) slog.Attr {
	return slog.String("run-id", id)
}

// Pipeline creates a tag for pipeline IDs.
func Pipeline(id string) slog.Attr {
	return slog.String("pipeline", id)
}

// Node creates a tag for pipeline node IDs.
func Node(id string) slog.Attr {
	return slog.String("node", id)
}

// Kind creates a tag for node or action kinds.
func Kind(kind string) slog.Attr {
	return slog.String("kind", kind)
}

// Action creates a tag for scheduled action IDs.
func Action(id int64) slog.Attr {
	return slog.Int64("action", id)
}

// Agent creates a tag for agent IDs.
func Agent(id string) slog.Attr {
	return slog.String("agent", id)
}

// Execution context tags

// Status creates a tag for execution status values.
func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// Attempt creates a tag for attempt numbers.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// MaxRetries creates a tag for maximum retry count.
func MaxRetries(n int) slog.Attr {
	return slog.Int("max-retries", n)
}

// Timeout creates a tag for timeout duration values.
func Timeout(d time.Duration) slog.Attr {
	return slog.Duration("timeout", d)
}

// Duration creates a tag for elapsed durations.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Reason creates a tag for human-readable reasons.
func Reason(reason string) slog.Attr {
	return slog.String("reason", reason)
}

// Count creates a tag for numeric counts.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Scheduler tags

// NextRun creates a tag for the next scheduled run time.
func NextRun(t time.Time) slog.Attr {
	return slog.Time("next-run", t)
}

// Interval creates a tag for tick or schedule intervals.
func Interval(d time.Duration) slog.Attr {
	return slog.Duration("interval", d)
}

// TriggeredBy creates a tag for the origin of a dispatch.
func TriggeredBy(source string) slog.Attr {
	return slog.String("triggered-by", source)
}

// Schedule creates a tag for schedule expressions.
func Schedule(expr string) slog.Attr {
	return slog.String("schedule", expr)
}

// Event and transport tags

// Event creates a tag for lifecycle event names.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Channel creates a tag for notification channels.
func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

// Method creates a tag for HTTP methods.
func Method(method string) slog.Attr {
	return slog.String("method", method)
}

// URL creates a tag for request URLs.
func URL(url string) slog.Attr {
	return slog.String("url", url)
}

// StatusCode creates a tag for HTTP status codes.
func StatusCode(code int) slog.Attr {
	return slog.Int("status-code", code)
}

// Infrastructure tags

// Port creates a tag for listen ports.
func Port(port int) slog.Attr {
	return slog.Int("port", port)
}

// Signal creates a tag for signal names (e.g., SIGTERM).
func Signal(sig string) slog.Attr {
	return slog.String("signal", sig)
}

// Phase creates a tag for shutdown phases.
func Phase(name string) slog.Attr {
	return slog.String("phase", name)
}
