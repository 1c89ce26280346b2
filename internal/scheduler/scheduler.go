package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loomcloud/loom/internal/backoff"
	"github.com/loomcloud/loom/internal/core"
	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
	"github.com/loomcloud/loom/internal/persistence"
)

const (
	DefaultCheckInterval = 60 * time.Second
	DefaultJitter        = 10 * time.Second

	// LockNamespace is the advisory-lock namespace reserved for
	// scheduled action dispatch.
	LockNamespace int32 = 1

	// recoveryWindow is subtracted from a missed action's next_run_at
	// when deduplicating at startup, absorbing clock skew between
	// instances.
	recoveryWindow = time.Minute
)

// Scheduler is the background loop that dispatches due actions. Two
// gates keep dispatch exactly-once: the in-process runningActions set
// within one instance, and the store's advisory lock across instances.
type Scheduler struct {
	store      persistence.Store
	dispatcher *ActionDispatcher
	interval   time.Duration
	jitter     time.Duration
	lockNS     int32

	running  atomic.Bool
	stopChan chan struct{}

	mu             sync.Mutex
	runningActions map[int64]struct{}

	wg sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCheckInterval sets the tick interval.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithJitter sets the maximum random delay added to each tick so a
// fleet of instances does not align.
func WithJitter(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.jitter = d
	}
}

// WithLockNamespace overrides the advisory-lock namespace.
func WithLockNamespace(ns int32) SchedulerOption {
	return func(s *Scheduler) {
		s.lockNS = ns
	}
}

// New creates a scheduler over the given store and dispatcher.
func New(store persistence.Store, dispatcher *ActionDispatcher, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:          store,
		dispatcher:     dispatcher,
		interval:       DefaultCheckInterval,
		jitter:         DefaultJitter,
		lockNS:         LockNamespace,
		stopChan:       make(chan struct{}),
		runningActions: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start recovers missed runs, then ticks until Stop is called or ctx
// ends. It blocks; callers run it in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	logger.Info(ctx, "Scheduler started", tag.Interval(s.interval))

	s.recoverMissedRuns(ctx, time.Now())

	timer := time.NewTimer(s.tickDelay())
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			s.tick(ctx, time.Now())
			timer.Reset(s.tickDelay())
		case <-s.stopChan:
			return
		case <-ctx.Done():
			s.Stop(ctx)
			return
		}
	}
}

// Stop ends the loop after its current tick. Already-spawned dispatch
// tasks keep running; the shutdown drain window covers them. Calling
// Stop twice is a no-op.
func (s *Scheduler) Stop(ctx context.Context) {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopChan)
	logger.Info(ctx, "Scheduler stopped")
}

// Running reports whether the loop is live.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// InFlight returns the number of dispatch tasks currently claimed by
// this instance.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runningActions)
}

func (s *Scheduler) tickDelay() time.Duration {
	if s.jitter <= 0 {
		return s.interval
	}
	return s.interval + time.Duration(rand.Int63n(int64(s.jitter)))
}

// tick loads due actions and dispatches each through the concurrency
// gates.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	actions, err := s.store.ListDueActions(ctx, now)
	if err != nil {
		logger.Error(ctx, "Failed to load due actions", tag.Error(err))
		return
	}
	if len(actions) == 0 {
		return
	}
	logger.Debug(ctx, "Tick found due actions", tag.Count(len(actions)))
	for _, action := range actions {
		s.maybeDispatch(ctx, action, core.TriggeredByScheduler)
	}
}

// maybeDispatch claims the action in the in-process set and spawns its
// dispatch task. The claim happens before the spawn, inside one
// critical section, so no other tick can observe the action as idle
// while the task is starting.
func (s *Scheduler) maybeDispatch(ctx context.Context, action *core.ScheduledAction, source core.TriggerSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, claimed := s.runningActions[action.ID]; claimed {
		logger.Debug(ctx, "Action already in flight", tag.Action(action.ID))
		return
	}
	s.runningActions[action.ID] = struct{}{}
	s.wg.Add(1)
	go s.dispatchAction(ctx, action, source)
}

func (s *Scheduler) dispatchAction(ctx context.Context, action *core.ScheduledAction, source core.TriggerSource) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Action dispatch panicked",
				tag.Action(action.ID),
				tag.String("stack", string(debug.Stack())))
		}
		s.mu.Lock()
		delete(s.runningActions, action.ID)
		s.mu.Unlock()
	}()

	err := s.store.WithTx(ctx, func(txCtx context.Context, tx persistence.Store) error {
		if !tx.TryAdvisoryLock(txCtx, s.lockNS, action.ID) {
			logger.Debug(ctx, "Advisory lock held elsewhere",
				tag.Action(action.ID))
			return nil
		}
		return s.runLocked(txCtx, tx, action, source)
	})
	if err != nil {
		logger.Error(ctx, "Action dispatch failed",
			tag.Action(action.ID), tag.Error(err))
	}
}

// runLocked performs one dispatch while holding the advisory lock. The
// action run record, the dispatch itself, and the schedule advance all
// commit together; a crash mid-dispatch leaves no record, so recovery
// re-dispatches the window.
//
// The run's triggered_at is the action's due time, not the wall clock:
// the unique (action_id, triggered_at) key then rejects an instance
// that loaded the action before another instance advanced it.
func (s *Scheduler) runLocked(ctx context.Context, tx persistence.Store, action *core.ScheduledAction, source core.TriggerSource) error {
	now := time.Now()
	window := now
	if action.NextRunAt != nil {
		window = *action.NextRunAt
	}
	runID, err := tx.InsertActionRun(ctx, &core.ScheduledActionRun{
		ActionID:    action.ID,
		TriggeredAt: window,
		TriggeredBy: source,
		Status:      core.ActionRunRunning,
		StartedAt:   now,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrDuplicateActionRun) {
			logger.Debug(ctx, "Dispatch window already claimed",
				tag.Action(action.ID), tag.TriggeredBy(source.String()))
			return nil
		}
		return fmt.Errorf("failed to record action run: %w", err)
	}

	logger.Info(ctx, "Dispatching action",
		tag.Action(action.ID),
		tag.Kind(action.Kind.String()),
		tag.TriggeredBy(source.String()))

	var (
		summary  string
		attempts int
	)
	op := func(ctx context.Context) error {
		if attempts > 0 {
			logger.Info(ctx, "Retrying action",
				tag.Action(action.ID), tag.Attempt(attempts), tag.MaxRetries(action.MaxRetries))
		}
		attempts++
		var derr error
		summary, derr = s.dispatcher.Dispatch(ctx, tx, action)
		return derr
	}
	// A zero MaxRetries would mean unlimited under the policy; an
	// action without a retry budget dispatches exactly once.
	var dispatchErr error
	if action.MaxRetries > 0 {
		policy := &backoff.ConstantBackoffPolicy{
			Interval:   action.RetryDelay,
			MaxRetries: action.MaxRetries,
		}
		dispatchErr = backoff.Retry(ctx, op, policy, core.IsExecutionError)
	} else {
		dispatchErr = op(ctx)
	}

	status := core.ActionRunCompleted
	errMsg := ""
	if dispatchErr != nil {
		status = core.ActionRunFailed
		errMsg = dispatchErr.Error()
	}

	next, expire := s.nextOccurrence(ctx, action, time.Now())
	if aerr := tx.AdvanceAction(ctx, action.ID, next, expire, status); aerr != nil {
		return fmt.Errorf("failed to advance action: %w", aerr)
	}
	if ferr := tx.FinishActionRun(ctx, runID, status, errMsg); ferr != nil {
		return fmt.Errorf("failed to finish action run: %w", ferr)
	}

	if dispatchErr != nil {
		logger.Error(ctx, "Action failed",
			tag.Action(action.ID), tag.Attempt(attempts), tag.Error(dispatchErr))
	} else {
		logger.Info(ctx, "Action completed",
			tag.Action(action.ID), tag.Reason(summary))
	}
	return nil
}

// nextOccurrence computes the action's next due time. A one-shot
// action expires; an event action waits for the next external event to
// set its due time.
func (s *Scheduler) nextOccurrence(ctx context.Context, action *core.ScheduledAction, now time.Time) (*time.Time, bool) {
	switch action.ScheduleKind {
	case core.ScheduleCron:
		sched, err := cron.ParseStandard(action.CronExpression)
		if err != nil {
			logger.Error(ctx, "Invalid cron expression",
				tag.Action(action.ID), tag.Schedule(action.CronExpression), tag.Error(err))
			return nil, false
		}
		next := sched.Next(now)
		return &next, false
	case core.ScheduleInterval:
		if action.Interval <= 0 {
			logger.Error(ctx, "Interval action without a positive interval",
				tag.Action(action.ID))
			return nil, false
		}
		next := now.Add(action.Interval)
		return &next, false
	case core.ScheduleOnce:
		return nil, true
	case core.ScheduleEvent:
		return nil, false
	default:
		logger.Error(ctx, "Unknown schedule kind",
			tag.Action(action.ID), tag.Kind(action.ScheduleKind.String()))
		return nil, false
	}
}

// recoverMissedRuns deduplicates missed windows at startup. For each
// active action already past due, a recovery dispatch happens only
// when no instance has claimed the window; an existing claim just
// advances the schedule.
func (s *Scheduler) recoverMissedRuns(ctx context.Context, now time.Time) {
	actions, err := s.store.ListDueActions(ctx, now)
	if err != nil {
		logger.Error(ctx, "Failed to load actions for recovery", tag.Error(err))
		return
	}
	for _, action := range actions {
		if action.NextRunAt == nil {
			continue
		}
		window := action.NextRunAt.Add(-recoveryWindow)
		claimed, err := s.store.ExistsActionRunSince(ctx, action.ID, window,
			core.ActionRunCompleted, core.ActionRunRunning, core.ActionRunPending)
		if err != nil {
			// Fail closed: assume another instance owns the window.
			logger.Warn(ctx, "Deduplication query failed, skipping recovery",
				tag.Action(action.ID), tag.Error(err))
			continue
		}
		if claimed {
			logger.Info(ctx, "Missed window already claimed, advancing",
				tag.Action(action.ID), tag.NextRun(*action.NextRunAt))
			next, expire := s.nextOccurrence(ctx, action, now)
			if serr := s.store.SetNextRun(ctx, action.ID, next, expire); serr != nil {
				logger.Error(ctx, "Failed to advance past missed window",
					tag.Action(action.ID), tag.Error(serr))
			}
			continue
		}
		logger.Info(ctx, "Dispatching recovery run",
			tag.Action(action.ID), tag.NextRun(*action.NextRunAt))
		s.maybeDispatch(ctx, action, core.TriggeredByRecovery)
	}
}

// drain waits for in-flight dispatch tasks, used by tests to observe
// dispatch side effects deterministically.
func (s *Scheduler) drain() {
	s.wg.Wait()
}
