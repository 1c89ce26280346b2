package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/loomcloud/loom/internal/core"
)

// Faults injects errors into selected Memory operations. Tests use it
// to exercise fail-closed paths.
type Faults struct {
	LockErr        error
	SaveNodeRunErr error
	ExistsErr      error
	UpdateRunErr   error
}

// Memory is a map-backed Store. It backs the test suite and the
// ephemeral dev mode. Transactions scope advisory locks only; writes
// inside a failed WithTx callback are not rolled back.
type Memory struct {
	mu         sync.Mutex
	pipelines  map[string]core.PipelineDefinition
	runs       map[string]core.PipelineRun
	nodeRuns   map[string][]core.NodeRun
	actions    map[int64]core.ScheduledAction
	actionRuns map[int64]core.ScheduledActionRun
	nextID     int64
	locks      map[lockKey]bool

	// Fail injects errors. Zero value disables injection.
	Fail Faults
}

type lockKey struct {
	ns  int32
	res int64
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		pipelines:  make(map[string]core.PipelineDefinition),
		runs:       make(map[string]core.PipelineRun),
		nodeRuns:   make(map[string][]core.NodeRun),
		actions:    make(map[int64]core.ScheduledAction),
		actionRuns: make(map[int64]core.ScheduledActionRun),
		locks:      make(map[lockKey]bool),
	}
}

func (m *Memory) GetPipeline(_ context.Context, id string) (*core.PipelineDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.pipelines[id]
	if !ok {
		return nil, core.ErrPipelineNotFound
	}
	return &def, nil
}

func (m *Memory) SavePipeline(_ context.Context, def *core.PipelineDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelines[def.ID] = *def
	return nil
}

func (m *Memory) CreateRun(_ context.Context, run *core.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (*core.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	return &run, nil
}

func (m *Memory) UpdateRunStatus(_ context.Context, id string, status core.RunStatus, errMsg string) error {
	if err := m.Fail.UpdateRunErr; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return core.ErrRunNotFound
	}
	// Terminal states are write-once.
	if run.Status.IsTerminal() {
		return nil
	}
	run.Status = status
	run.Error = errMsg
	if status.IsTerminal() {
		run.CompletedAt = time.Now()
	}
	m.runs[id] = run
	return nil
}

func (m *Memory) SetCurrentNode(_ context.Context, runID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return core.ErrRunNotFound
	}
	run.CurrentNode = nodeID
	m.runs[runID] = run
	return nil
}

func (m *Memory) SaveNodeRun(_ context.Context, nodeRun *core.NodeRun) error {
	if err := m.Fail.SaveNodeRunErr; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := m.nodeRuns[nodeRun.RunID]
	for i, existing := range runs {
		if existing.NodeID == nodeRun.NodeID {
			runs[i] = *nodeRun
			return nil
		}
	}
	m.nodeRuns[nodeRun.RunID] = append(runs, *nodeRun)
	return nil
}

func (m *Memory) ListNodeRuns(_ context.Context, runID string) ([]*core.NodeRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := m.nodeRuns[runID]
	out := make([]*core.NodeRun, len(runs))
	for i := range runs {
		nr := runs[i]
		out[i] = &nr
	}
	return out, nil
}

func (m *Memory) ListDueActions(_ context.Context, now time.Time) ([]*core.ScheduledAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*core.ScheduledAction
	for _, action := range m.actions {
		if action.Status != core.ActionActive || action.NextRunAt == nil {
			continue
		}
		if !action.NextRunAt.After(now) {
			a := action
			due = append(due, &a)
		}
	}
	return due, nil
}

func (m *Memory) GetAction(_ context.Context, id int64) (*core.ScheduledAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.actions[id]
	if !ok {
		return nil, core.ErrActionNotFound
	}
	return &action, nil
}

// SaveAction inserts or replaces an action. Tests seed the store with
// it; it is not part of the Store port.
func (m *Memory) SaveAction(action *core.ScheduledAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[action.ID] = *action
}

func (m *Memory) AdvanceAction(_ context.Context, id int64, next *time.Time, expire bool, lastRunStatus core.ActionRunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.actions[id]
	if !ok {
		return core.ErrActionNotFound
	}
	action.ExecutionCount++
	action.LastRunStatus = lastRunStatus.String()
	action.NextRunAt = next
	if expire {
		action.Status = core.ActionExpired
	}
	m.actions[id] = action
	return nil
}

func (m *Memory) SetNextRun(_ context.Context, id int64, next *time.Time, expire bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.actions[id]
	if !ok {
		return core.ErrActionNotFound
	}
	action.NextRunAt = next
	if expire {
		action.Status = core.ActionExpired
	}
	m.actions[id] = action
	return nil
}

func (m *Memory) InsertActionRun(_ context.Context, run *core.ScheduledActionRun) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.actionRuns {
		if existing.ActionID == run.ActionID && existing.TriggeredAt.Equal(run.TriggeredAt) {
			return 0, ErrDuplicateActionRun
		}
	}
	m.nextID++
	run.ID = m.nextID
	m.actionRuns[run.ID] = *run
	return run.ID, nil
}

func (m *Memory) FinishActionRun(_ context.Context, id int64, status core.ActionRunStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.actionRuns[id]
	if !ok {
		return nil
	}
	run.Status = status
	run.Error = errMsg
	run.CompletedAt = time.Now()
	m.actionRuns[id] = run
	return nil
}

func (m *Memory) ExistsActionRunSince(_ context.Context, actionID int64, since time.Time, statuses ...core.ActionRunStatus) (bool, error) {
	if err := m.Fail.ExistsErr; err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.actionRuns {
		if run.ActionID != actionID || run.TriggeredAt.Before(since) {
			continue
		}
		for _, s := range statuses {
			if run.Status == s {
				return true, nil
			}
		}
	}
	return false, nil
}

// ActionRuns returns all recorded dispatch attempts for an action,
// for test assertions.
func (m *Memory) ActionRuns(actionID int64) []core.ScheduledActionRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.ScheduledActionRun
	for _, run := range m.actionRuns {
		if run.ActionID == actionID {
			out = append(out, run)
		}
	}
	return out
}

// TryAdvisoryLock outside a transaction grants only when the key is
// not held, and releases immediately, mirroring the store primitive's
// behavior in an auto-commit statement.
func (m *Memory) TryAdvisoryLock(_ context.Context, namespace int32, resource int64) bool {
	if m.Fail.LockErr != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.locks[lockKey{ns: namespace, res: resource}]
}

func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	tx := &memoryTx{m: m}
	defer tx.releaseLocks()
	return fn(ctx, tx)
}

func (m *Memory) Close() {}

// memoryTx scopes advisory locks to one WithTx call. All other
// operations hit the parent store directly.
type memoryTx struct {
	m    *Memory
	held []lockKey
	hmu  sync.Mutex
}

var _ Store = (*memoryTx)(nil)

func (t *memoryTx) TryAdvisoryLock(_ context.Context, namespace int32, resource int64) bool {
	if t.m.Fail.LockErr != nil {
		return false
	}
	key := lockKey{ns: namespace, res: resource}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.m.locks[key] {
		return false
	}
	t.m.locks[key] = true
	t.hmu.Lock()
	t.held = append(t.held, key)
	t.hmu.Unlock()
	return true
}

func (t *memoryTx) releaseLocks() {
	t.hmu.Lock()
	held := t.held
	t.held = nil
	t.hmu.Unlock()
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, key := range held {
		delete(t.m.locks, key)
	}
}

func (t *memoryTx) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}

func (t *memoryTx) GetPipeline(ctx context.Context, id string) (*core.PipelineDefinition, error) {
	return t.m.GetPipeline(ctx, id)
}

func (t *memoryTx) SavePipeline(ctx context.Context, def *core.PipelineDefinition) error {
	return t.m.SavePipeline(ctx, def)
}

func (t *memoryTx) CreateRun(ctx context.Context, run *core.PipelineRun) error {
	return t.m.CreateRun(ctx, run)
}

func (t *memoryTx) GetRun(ctx context.Context, id string) (*core.PipelineRun, error) {
	return t.m.GetRun(ctx, id)
}

func (t *memoryTx) UpdateRunStatus(ctx context.Context, id string, status core.RunStatus, errMsg string) error {
	return t.m.UpdateRunStatus(ctx, id, status, errMsg)
}

func (t *memoryTx) SetCurrentNode(ctx context.Context, runID, nodeID string) error {
	return t.m.SetCurrentNode(ctx, runID, nodeID)
}

func (t *memoryTx) SaveNodeRun(ctx context.Context, nodeRun *core.NodeRun) error {
	return t.m.SaveNodeRun(ctx, nodeRun)
}

func (t *memoryTx) ListNodeRuns(ctx context.Context, runID string) ([]*core.NodeRun, error) {
	return t.m.ListNodeRuns(ctx, runID)
}

func (t *memoryTx) ListDueActions(ctx context.Context, now time.Time) ([]*core.ScheduledAction, error) {
	return t.m.ListDueActions(ctx, now)
}

func (t *memoryTx) GetAction(ctx context.Context, id int64) (*core.ScheduledAction, error) {
	return t.m.GetAction(ctx, id)
}

func (t *memoryTx) AdvanceAction(ctx context.Context, id int64, next *time.Time, expire bool, lastRunStatus core.ActionRunStatus) error {
	return t.m.AdvanceAction(ctx, id, next, expire, lastRunStatus)
}

func (t *memoryTx) SetNextRun(ctx context.Context, id int64, next *time.Time, expire bool) error {
	return t.m.SetNextRun(ctx, id, next, expire)
}

func (t *memoryTx) InsertActionRun(ctx context.Context, run *core.ScheduledActionRun) (int64, error) {
	return t.m.InsertActionRun(ctx, run)
}

func (t *memoryTx) FinishActionRun(ctx context.Context, id int64, status core.ActionRunStatus, errMsg string) error {
	return t.m.FinishActionRun(ctx, id, status, errMsg)
}

func (t *memoryTx) ExistsActionRunSince(ctx context.Context, actionID int64, since time.Time, statuses ...core.ActionRunStatus) (bool, error) {
	return t.m.ExistsActionRunSince(ctx, actionID, since, statuses...)
}

func (t *memoryTx) Close() {}
