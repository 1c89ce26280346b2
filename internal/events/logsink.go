package events

import (
	"context"

	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
)

// LogSink writes events to the context logger at debug level. It is the
// default sink when no external delivery is configured.
type LogSink struct{}

// Emit implements Sink.
func (LogSink) Emit(ctx context.Context, name string, payload map[string]any) {
	logger.Debug(ctx, "lifecycle event", tag.Event(name), "payload", payload)
}
