// Package persistence defines the relational store port the
// orchestration core writes through. Implementations: postgres (the
// production store), Memory (tests and ephemeral dev mode), and Nil
// (no store wired; single-instance mode).
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/loomcloud/loom/internal/core"
)

// ErrDuplicateActionRun reports that the (action_id, triggered_at)
// dispatch window is already claimed. Callers treat it like a lost
// advisory lock and skip.
var ErrDuplicateActionRun = errors.New("action run already recorded for this window")

// Store is the persistence port. All methods are safe for concurrent
// use.
//
// TryAdvisoryLock is transaction-scoped: it is only meaningful inside
// a WithTx callback, and the lock releases when that transaction ends.
// It fails closed: any store error reports the lock as not acquired.
type Store interface {
	// Pipelines.
	GetPipeline(ctx context.Context, id string) (*core.PipelineDefinition, error)
	SavePipeline(ctx context.Context, def *core.PipelineDefinition) error

	// Pipeline runs.
	CreateRun(ctx context.Context, run *core.PipelineRun) error
	GetRun(ctx context.Context, id string) (*core.PipelineRun, error)
	UpdateRunStatus(ctx context.Context, id string, status core.RunStatus, errMsg string) error
	SetCurrentNode(ctx context.Context, runID, nodeID string) error

	// Node runs.
	SaveNodeRun(ctx context.Context, nodeRun *core.NodeRun) error
	ListNodeRuns(ctx context.Context, runID string) ([]*core.NodeRun, error)

	// Scheduled actions.
	ListDueActions(ctx context.Context, now time.Time) ([]*core.ScheduledAction, error)
	GetAction(ctx context.Context, id int64) (*core.ScheduledAction, error)
	// AdvanceAction increments execution_count, records the last run
	// status and moves next_run_at forward. A nil next with expire set
	// marks a one-shot action expired.
	AdvanceAction(ctx context.Context, id int64, next *time.Time, expire bool, lastRunStatus core.ActionRunStatus) error
	// SetNextRun moves next_run_at without recording an execution. The
	// scheduler uses it to advance past a missed window another
	// instance already claimed.
	SetNextRun(ctx context.Context, id int64, next *time.Time, expire bool) error

	// Scheduled action runs.
	InsertActionRun(ctx context.Context, run *core.ScheduledActionRun) (int64, error)
	FinishActionRun(ctx context.Context, id int64, status core.ActionRunStatus, errMsg string) error
	// ExistsActionRunSince reports whether the action already has a run
	// triggered at or after since in one of the given statuses. The
	// scheduler's restart deduplication depends on it.
	ExistsActionRunSince(ctx context.Context, actionID int64, since time.Time, statuses ...core.ActionRunStatus) (bool, error)

	// Coordination.
	TryAdvisoryLock(ctx context.Context, namespace int32, resource int64) bool
	// WithTx runs fn inside a single transaction; the Store passed to
	// fn operates on that transaction. Nested calls join the outer
	// transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	Close()
}

// Nil is the store used when no database is configured. Writes are
// dropped, reads come back not-found, and the advisory lock always
// grants, degrading coordination to the scheduler's in-process mutex.
type Nil struct{}

var _ Store = Nil{}

func (Nil) GetPipeline(context.Context, string) (*core.PipelineDefinition, error) {
	return nil, core.ErrPipelineNotFound
}

func (Nil) SavePipeline(context.Context, *core.PipelineDefinition) error { return nil }

func (Nil) CreateRun(context.Context, *core.PipelineRun) error { return nil }

func (Nil) GetRun(context.Context, string) (*core.PipelineRun, error) {
	return nil, core.ErrRunNotFound
}

func (Nil) UpdateRunStatus(context.Context, string, core.RunStatus, string) error { return nil }

func (Nil) SetCurrentNode(context.Context, string, string) error { return nil }

func (Nil) SaveNodeRun(context.Context, *core.NodeRun) error { return nil }

func (Nil) ListNodeRuns(context.Context, string) ([]*core.NodeRun, error) { return nil, nil }

func (Nil) ListDueActions(context.Context, time.Time) ([]*core.ScheduledAction, error) {
	return nil, nil
}

func (Nil) GetAction(context.Context, int64) (*core.ScheduledAction, error) {
	return nil, core.ErrActionNotFound
}

func (Nil) AdvanceAction(context.Context, int64, *time.Time, bool, core.ActionRunStatus) error {
	return nil
}

func (Nil) SetNextRun(context.Context, int64, *time.Time, bool) error { return nil }

func (Nil) InsertActionRun(context.Context, *core.ScheduledActionRun) (int64, error) {
	return 0, nil
}

func (Nil) FinishActionRun(context.Context, int64, core.ActionRunStatus, string) error { return nil }

func (Nil) ExistsActionRunSince(context.Context, int64, time.Time, ...core.ActionRunStatus) (bool, error) {
	return false, nil
}

func (Nil) TryAdvisoryLock(context.Context, int32, int64) bool { return true }

func (n Nil) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, n)
}

func (Nil) Close() {}
