package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/loomcloud/loom/internal/core"
	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
)

// DefaultCancelDrain is the window between the cooperative
// cancellation flag and forced cancellation of the run's task.
const DefaultCancelDrain = 5 * time.Second

// Manager owns the set of live runs. Every run starts and ends through
// it, so the live set is always consistent: a run that finished, was
// cancelled, or panicked leaves no entry behind.
type Manager struct {
	mu      sync.Mutex
	running map[string]*runHandle
	drain   time.Duration
}

type runHandle struct {
	executor *Executor
	cancel   context.CancelFunc
	done     chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCancelDrain sets the drain window between the two cancellation
// phases.
func WithCancelDrain(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.drain = d
		}
	}
}

// NewManager creates an empty run manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		running: make(map[string]*runHandle),
		drain:   DefaultCancelDrain,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start registers the run and spawns its task under the given timeout.
// The task is detached from the caller's context; callers that need
// the outcome use Wait. Starting an id that is already live is an
// error and leaves the live run untouched.
func (m *Manager) Start(ctx context.Context, runID string, exec *Executor, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = core.DefaultPipelineTimeout
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	handle := &runHandle{executor: exec, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if _, exists := m.running[runID]; exists {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("run %s is already active", runID)
	}
	m.running[runID] = handle
	m.mu.Unlock()

	logger.Info(ctx, "Run task started", tag.RunID(runID), tag.Timeout(timeout))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(runCtx, "Run task panicked",
					tag.RunID(runID),
					tag.String("stack", string(debug.Stack())))
			}
			cancel()
			m.mu.Lock()
			delete(m.running, runID)
			m.mu.Unlock()
			close(handle.done)
		}()
		// The executor logs and persists its own terminal state.
		_ = exec.Run(runCtx)
	}()
	return nil
}

// Wait blocks until the run leaves the live set or ctx ends. Waiting
// on an id that is not live returns immediately.
func (m *Manager) Wait(ctx context.Context, runID string) error {
	m.mu.Lock()
	handle, ok := m.running[runID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops a live run in two phases. It first sets the cooperative
// flag and waits up to the drain window for the run to wind down on
// its own; only then does it cancel the task outright. Returns false
// when no live run matches.
func (m *Manager) Cancel(ctx context.Context, runID string) bool {
	m.mu.Lock()
	handle, ok := m.running[runID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	logger.Info(ctx, "Cancelling run", tag.RunID(runID))
	handle.executor.RequestCancel()
	if waitDone(handle.done, m.drain) {
		return true
	}

	logger.Warn(ctx, "Run did not drain, cancelling its task",
		tag.RunID(runID), tag.Timeout(m.drain))
	handle.cancel()
	if !waitDone(handle.done, m.drain) {
		logger.Error(ctx, "Run still live after forced cancellation", tag.RunID(runID))
	}
	return true
}

// CancelAll tears down every live run in parallel and waits for each.
// Shutdown calls this after the voluntary drain window has passed.
func (m *Manager) CancelAll(ctx context.Context) {
	ids := m.ActiveRuns()
	if len(ids) == 0 {
		return
	}
	logger.Info(ctx, "Cancelling all live runs", tag.Count(len(ids)))
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Cancel(ctx, id)
		}()
	}
	wg.Wait()
}

// ActiveRuns returns the ids of live runs in stable order.
func (m *Manager) ActiveRuns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := lo.Keys(m.running)
	sort.Strings(ids)
	return ids
}

// Len returns the number of live runs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func waitDone(done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
