package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomcloud/loom/internal/core"
	"github.com/loomcloud/loom/internal/persistence"
	"github.com/loomcloud/loom/internal/runtime"
)

// slowExecutor builds an executor whose single node sleeps for d
// unless its context dies first.
func slowExecutor(t *testing.T, runID string, store persistence.Store, d time.Duration) *Executor {
	t.Helper()
	def := testDef(
		[]core.Node{{ID: "SLOW", Kind: core.NodeKindAgent, Config: map[string]any{"agent_id": "a1", "task": "t"}}},
		nil,
	)
	run := testRun(def, nil)
	run.ID = runID

	dispatcher := runtime.NewDispatcher()
	dispatcher.Register(core.NodeKindAgent, sleepHandler(d))
	return NewExecutor(def, run, WithStore(store), WithDispatcher(dispatcher))
}

func TestManagerStartWaitAndFinish(t *testing.T) {
	t.Parallel()

	m := NewManager()
	exec := slowExecutor(t, "run-wait", persistence.Nil{}, 100*time.Millisecond)

	require.NoError(t, m.Start(context.Background(), "run-wait", exec, time.Minute))
	assert.Equal(t, []string{"run-wait"}, m.ActiveRuns())

	require.NoError(t, m.Wait(context.Background(), "run-wait"))
	assert.Equal(t, core.RunCompleted, exec.Status())
	assert.Zero(t, m.Len())

	// Waiting for a run that is no longer live returns immediately.
	require.NoError(t, m.Wait(context.Background(), "run-wait"))
}

func TestManagerDuplicateStartRejected(t *testing.T) {
	t.Parallel()

	m := NewManager()
	store := persistence.Nil{}
	first := slowExecutor(t, "run-dup", store, 200*time.Millisecond)
	second := slowExecutor(t, "run-dup", store, 200*time.Millisecond)

	require.NoError(t, m.Start(context.Background(), "run-dup", first, time.Minute))
	err := m.Start(context.Background(), "run-dup", second, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already active")

	require.NoError(t, m.Wait(context.Background(), "run-dup"))
}

func TestManagerCancelLeavesNoZombies(t *testing.T) {
	t.Parallel()

	m := NewManager(WithCancelDrain(50 * time.Millisecond))
	store := persistence.NewMemory()
	exec := slowExecutor(t, "run-cancel", store, 10*time.Second)
	run := exec.run
	require.NoError(t, store.CreateRun(context.Background(), run))

	start := time.Now()
	require.NoError(t, m.Start(context.Background(), "run-cancel", exec, time.Minute))
	require.True(t, m.Cancel(context.Background(), "run-cancel"))

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, m.ActiveRuns())
	assert.Equal(t, core.RunCancelled, exec.Status())

	stored, err := store.GetRun(context.Background(), "run-cancel")
	require.NoError(t, err)
	assert.Equal(t, core.RunCancelled, stored.Status)
}

func TestManagerCancelUnknownRun(t *testing.T) {
	t.Parallel()

	m := NewManager()
	assert.False(t, m.Cancel(context.Background(), "no-such-run"))
}

func TestManagerTimeoutTransitionsRun(t *testing.T) {
	t.Parallel()

	m := NewManager()
	store := persistence.NewMemory()
	exec := slowExecutor(t, "run-timeout", store, 10*time.Second)
	require.NoError(t, store.CreateRun(context.Background(), exec.run))

	require.NoError(t, m.Start(context.Background(), "run-timeout", exec, 30*time.Millisecond))
	require.NoError(t, m.Wait(context.Background(), "run-timeout"))

	assert.Equal(t, core.RunTimeout, exec.Status())
	assert.Empty(t, m.ActiveRuns())

	stored, err := store.GetRun(context.Background(), "run-timeout")
	require.NoError(t, err)
	assert.Equal(t, core.RunTimeout, stored.Status)
}

func TestManagerCancelAll(t *testing.T) {
	t.Parallel()

	m := NewManager(WithCancelDrain(50 * time.Millisecond))
	store := persistence.Nil{}
	first := slowExecutor(t, "run-a", store, 10*time.Second)
	second := slowExecutor(t, "run-b", store, 10*time.Second)

	require.NoError(t, m.Start(context.Background(), "run-a", first, time.Minute))
	require.NoError(t, m.Start(context.Background(), "run-b", second, time.Minute))
	assert.Equal(t, 2, m.Len())

	m.CancelAll(context.Background())

	assert.Zero(t, m.Len())
	assert.Equal(t, core.RunCancelled, first.Status())
	assert.Equal(t, core.RunCancelled, second.Status())
}
