// Package notify defines the notification sender port and its built-in
// implementations.
package notify

import (
	"context"
	"strings"

	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
	"github.com/loomcloud/loom/internal/stringutil"
)

// Sender delivers a notification body to recipients on a channel.
type Sender interface {
	Send(ctx context.Context, channel string, recipients []string, body string) error
}

// Router dispatches to a channel-specific sender, falling back to the
// log sender for unknown channels.
type Router struct {
	senders  map[string]Sender
	fallback Sender
}

// NewRouter creates a router with the log sender as fallback.
func NewRouter() *Router {
	return &Router{
		senders:  make(map[string]Sender),
		fallback: LogSender{},
	}
}

// Register wires a sender for a channel name.
func (r *Router) Register(channel string, s Sender) {
	r.senders[strings.ToLower(channel)] = s
}

// Send implements Sender.
func (r *Router) Send(ctx context.Context, channel string, recipients []string, body string) error {
	if s, ok := r.senders[strings.ToLower(channel)]; ok {
		return s.Send(ctx, channel, recipients, body)
	}
	return r.fallback.Send(ctx, channel, recipients, body)
}

// LogSender records the notification in the log instead of delivering
// it. It is the default sender in single-instance and test setups.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(ctx context.Context, channel string, recipients []string, body string) error {
	logger.Info(ctx, "notification",
		tag.Channel(channel),
		"recipients", strings.Join(recipients, ","),
		"body", stringutil.TruncString(body, 500))
	return nil
}
