// Package shutdown sequences process teardown in reverse dependency
// order: readiness flips first so load balancers drain, the scheduler
// stops spawning work, in-flight tasks get a drain window, remaining
// runs are cancelled, and the store pool closes last.
package shutdown

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
)

const (
	// DefaultLBDrain is how long the readiness endpoint reports 503
	// before anything is torn down.
	DefaultLBDrain = 3 * time.Second

	// DefaultTaskDrain is how long dispatch tasks that already hold
	// advisory locks get to finish on their own.
	DefaultTaskDrain = 2 * time.Second

	serverShutdownTimeout = 10 * time.Second
)

// HTTPServer drains in-flight requests. The frontend server satisfies
// it.
type HTTPServer interface {
	Shutdown(ctx context.Context) error
}

// SchedulerStopper ends the dispatch loop. The scheduler satisfies it.
type SchedulerStopper interface {
	Stop(ctx context.Context)
}

// RunCanceller tears down live pipeline runs. The run manager
// satisfies it.
type RunCanceller interface {
	CancelAll(ctx context.Context)
	Len() int
}

// StoreCloser releases the store's connection pool.
type StoreCloser interface {
	Close()
}

// Controller owns the shutting_down flag and drives the teardown
// sequence. Every dependency is optional; a nil one skips its phase.
type Controller struct {
	flag atomic.Bool

	server    HTTPServer
	scheduler SchedulerStopper
	runs      RunCanceller
	store     StoreCloser

	lbDrain   time.Duration
	taskDrain time.Duration
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithServer wires the HTTP server phase.
func WithServer(s HTTPServer) ControllerOption {
	return func(c *Controller) {
		c.server = s
	}
}

// WithScheduler wires the scheduler stop phase.
func WithScheduler(s SchedulerStopper) ControllerOption {
	return func(c *Controller) {
		c.scheduler = s
	}
}

// WithRunManager wires the run cancellation phase.
func WithRunManager(r RunCanceller) ControllerOption {
	return func(c *Controller) {
		c.runs = r
	}
}

// WithStore wires the pool close phase.
func WithStore(s StoreCloser) ControllerOption {
	return func(c *Controller) {
		c.store = s
	}
}

// WithLBDrain overrides the load-balancer drain window.
func WithLBDrain(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d >= 0 {
			c.lbDrain = d
		}
	}
}

// WithTaskDrain overrides the in-flight task drain window.
func WithTaskDrain(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d >= 0 {
			c.taskDrain = d
		}
	}
}

// NewController creates a controller with default drain windows.
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		lbDrain:   DefaultLBDrain,
		taskDrain: DefaultTaskDrain,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShuttingDown reports whether teardown has begun. The readiness
// endpoint reads it.
func (c *Controller) ShuttingDown() bool {
	return c.flag.Load()
}

// Shutdown runs the teardown sequence. A second call while the first
// is in progress returns immediately. A panic in any phase aborts the
// remaining phases and is logged, never rethrown.
func (c *Controller) Shutdown(ctx context.Context) {
	if !c.flag.CompareAndSwap(false, true) {
		logger.Debug(ctx, "Shutdown already in progress")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Shutdown aborted by panic",
				tag.String("panic", fmt.Sprint(r)),
				tag.String("stack", string(debug.Stack())))
		}
	}()

	// Load balancers need to see the readiness flip before anything
	// stops answering.
	logger.Info(ctx, "Shutdown started", tag.Phase("drain_lb"), tag.Timeout(c.lbDrain))
	time.Sleep(c.lbDrain)

	if c.server != nil {
		logger.Info(ctx, "Stopping HTTP server", tag.Phase("http_server"))
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "HTTP server did not drain cleanly", tag.Error(err))
		}
		cancel()
	}

	if c.scheduler != nil {
		logger.Info(ctx, "Stopping scheduler", tag.Phase("scheduler"))
		c.scheduler.Stop(ctx)
	}

	logger.Info(ctx, "Draining in-flight tasks", tag.Phase("drain_tasks"), tag.Timeout(c.taskDrain))
	time.Sleep(c.taskDrain)

	if c.runs != nil {
		if n := c.runs.Len(); n > 0 {
			logger.Warn(ctx, "Cancelling runs still live after drain", tag.Count(n))
		}
		logger.Info(ctx, "Cancelling remaining runs", tag.Phase("executor"))
		c.runs.CancelAll(ctx)
	}

	// The pool closes after every subsystem that could still issue a
	// query has stopped.
	if c.store != nil {
		logger.Info(ctx, "Closing store pool", tag.Phase("store_pool"))
		c.store.Close()
	}
	logger.Info(ctx, "Shutdown complete")
}
