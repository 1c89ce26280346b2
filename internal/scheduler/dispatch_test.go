package scheduler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomcloud/loom/internal/agents"
	"github.com/loomcloud/loom/internal/core"
	"github.com/loomcloud/loom/internal/persistence"
	"github.com/loomcloud/loom/internal/runtime"
)

type createdTask struct {
	agentID string
	goal    string
}

type stubRegistry struct {
	mu      sync.Mutex
	created []createdTask
	err     error
}

func (r *stubRegistry) Get(context.Context, string) (agents.Handle, error) {
	return nil, errors.New("not implemented")
}

func (r *stubRegistry) CreateTask(_ context.Context, agentID, goal string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.created = append(r.created, createdTask{agentID: agentID, goal: goal})
	return nil
}

type sentNotification struct {
	channel    string
	recipients []string
	body       string
}

type recordSender struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (s *recordSender) Send(_ context.Context, channel string, recipients []string, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentNotification{channel: channel, recipients: recipients, body: body})
	return nil
}

func testScheduledAction(kind core.ActionKind, config map[string]any) *core.ScheduledAction {
	return &core.ScheduledAction{
		ID:      7,
		AgentID: "agent-1",
		Kind:    kind,
		Config:  config,
		Status:  core.ActionActive,
	}
}

func TestDispatchUnknownKind(t *testing.T) {
	t.Parallel()

	d := NewActionDispatcher()
	action := testScheduledAction(core.ActionKind(99), nil)

	_, err := d.Dispatch(context.Background(), persistence.Nil{}, action)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnknownActionKind)
	assert.True(t, core.IsConfigError(err))
}

func TestRunTaskSimulatedWithoutRegistry(t *testing.T) {
	t.Parallel()

	d := NewActionDispatcher()
	action := testScheduledAction(core.ActionKindRunTask, map[string]any{"goal": "summarize inbox"})

	summary, err := d.Dispatch(context.Background(), persistence.Nil{}, action)
	require.NoError(t, err)
	assert.Equal(t, "task creation simulated", summary)
}

func TestRunTaskCreatesTaskThroughRegistry(t *testing.T) {
	t.Parallel()

	registry := &stubRegistry{}
	d := NewActionDispatcher(WithAgentRegistry(registry))
	action := testScheduledAction(core.ActionKindRunTask, map[string]any{"goal": "summarize inbox"})

	summary, err := d.Dispatch(context.Background(), persistence.Nil{}, action)
	require.NoError(t, err)
	assert.Contains(t, summary, "agent-1")
	require.Len(t, registry.created, 1)
	assert.Equal(t, "agent-1", registry.created[0].agentID)
	assert.Equal(t, "summarize inbox", registry.created[0].goal)
}

func TestRunTaskRequiresGoal(t *testing.T) {
	t.Parallel()

	d := NewActionDispatcher(WithAgentRegistry(&stubRegistry{}))
	action := testScheduledAction(core.ActionKindRunTask, map[string]any{})

	_, err := d.Dispatch(context.Background(), persistence.Nil{}, action)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrGoalRequired)
	assert.True(t, core.IsConfigError(err))
}

func TestRunTaskRegistryFailure(t *testing.T) {
	t.Parallel()

	registry := &stubRegistry{err: errors.New("registry offline")}
	d := NewActionDispatcher(WithAgentRegistry(registry))
	action := testScheduledAction(core.ActionKindRunTask, map[string]any{"goal": "g"})

	_, err := d.Dispatch(context.Background(), persistence.Nil{}, action)
	require.Error(t, err)
	assert.True(t, core.IsExecutionError(err))
	assert.Contains(t, err.Error(), "registry offline")
}

func TestSendNotification(t *testing.T) {
	t.Parallel()

	sender := &recordSender{}
	d := NewActionDispatcher(WithNotifier(sender))
	action := testScheduledAction(core.ActionKindSendNotification, map[string]any{
		"channel":    "slack",
		"recipients": []string{"#ops", "#oncall"},
		"body":       "nightly digest ready",
	})

	summary, err := d.Dispatch(context.Background(), persistence.Nil{}, action)
	require.NoError(t, err)
	assert.Contains(t, summary, "slack")
	assert.Contains(t, summary, "2 recipients")
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "slack", sender.sent[0].channel)
	assert.Equal(t, []string{"#ops", "#oncall"}, sender.sent[0].recipients)
	assert.Equal(t, "nightly digest ready", sender.sent[0].body)
}

func TestSendNotificationFailure(t *testing.T) {
	t.Parallel()

	sender := &recordSender{err: errors.New("channel unreachable")}
	d := NewActionDispatcher(WithNotifier(sender))
	action := testScheduledAction(core.ActionKindSendNotification, map[string]any{
		"channel": "slack",
		"body":    "b",
	})

	_, err := d.Dispatch(context.Background(), persistence.Nil{}, action)
	require.Error(t, err)
	assert.True(t, core.IsExecutionError(err))
}

func TestCallAPI(t *testing.T) {
	t.Parallel()

	var (
		gotMethod string
		gotHeader string
		gotBody   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Token")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewActionDispatcher()
	action := testScheduledAction(core.ActionKindCallAPI, map[string]any{
		"method":  "POST",
		"url":     srv.URL,
		"headers": map[string]string{"X-Token": "t0ken"},
		"body":    `{"ping":true}`,
	})

	summary, err := d.Dispatch(context.Background(), persistence.Nil{}, action)
	require.NoError(t, err)
	assert.Equal(t, "HTTP 200", summary)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "t0ken", gotHeader)
	assert.Equal(t, `{"ping":true}`, gotBody)
}

func TestCallAPIRequiresURL(t *testing.T) {
	t.Parallel()

	d := NewActionDispatcher()
	action := testScheduledAction(core.ActionKindCallAPI, map[string]any{"method": "GET"})

	_, err := d.Dispatch(context.Background(), persistence.Nil{}, action)
	require.Error(t, err)
	assert.True(t, core.IsConfigError(err))
}

func TestCallAPIServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewActionDispatcher()
	action := testScheduledAction(core.ActionKindCallAPI, map[string]any{"url": srv.URL})

	_, err := d.Dispatch(context.Background(), persistence.Nil{}, action)
	require.Error(t, err)
	assert.True(t, core.IsExecutionError(err))
	assert.Contains(t, err.Error(), "502")
}

func TestExecutePipelineRunsToCompletion(t *testing.T) {
	t.Parallel()

	store := persistence.NewMemory()
	require.NoError(t, store.SavePipeline(context.Background(), &core.PipelineDefinition{
		ID: "pl-digest",
		Nodes: []core.Node{
			{ID: "T", Kind: core.NodeKindTrigger},
			{ID: "A", Kind: core.NodeKindAction, Config: map[string]any{"action_type": "custom"}},
		},
		Edges:   []core.Edge{{From: "T", To: "A"}},
		Timeout: time.Minute,
	}))

	nodes := runtime.NewDispatcher()
	nodes.Register(core.NodeKindAction, func(_ context.Context, _ core.Node, in runtime.Input) (map[string]any, error) {
		return map[string]any{"seen": in.TriggerData["x"]}, nil
	})

	sink := &recordSink{}
	d := NewActionDispatcher(
		WithStore(store),
		WithNodeDispatcher(nodes),
		WithSink(sink),
	)
	action := testScheduledAction(core.ActionKindExecutePipeline, map[string]any{
		"pipeline_id":  "pl-digest",
		"trigger_data": map[string]any{"x": 1},
	})

	summary, err := d.Dispatch(context.Background(), store, action)
	require.NoError(t, err)
	assert.Contains(t, summary, "pl-digest")
	assert.Contains(t, summary, "completed")
	assert.Contains(t, sink.names(), "pipeline_run_completed")
}

func TestExecutePipelineRequiresID(t *testing.T) {
	t.Parallel()

	d := NewActionDispatcher()
	action := testScheduledAction(core.ActionKindExecutePipeline, map[string]any{})

	_, err := d.Dispatch(context.Background(), persistence.Nil{}, action)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPipelineIDRequired)
}

func TestExecutePipelineUnknownDefinition(t *testing.T) {
	t.Parallel()

	store := persistence.NewMemory()
	d := NewActionDispatcher(WithStore(store))
	action := testScheduledAction(core.ActionKindExecutePipeline, map[string]any{
		"pipeline_id": "missing",
	})

	_, err := d.Dispatch(context.Background(), store, action)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPipelineNotFound)
}

func TestExecutePipelineReportsRunFailure(t *testing.T) {
	t.Parallel()

	store := persistence.NewMemory()
	require.NoError(t, store.SavePipeline(context.Background(), &core.PipelineDefinition{
		ID: "pl-broken",
		Nodes: []core.Node{
			{ID: "A", Kind: core.NodeKindAction, Config: map[string]any{"action_type": "custom"}},
		},
		Timeout: time.Minute,
	}))

	nodes := runtime.NewDispatcher()
	nodes.Register(core.NodeKindAction, func(_ context.Context, n core.Node, _ runtime.Input) (map[string]any, error) {
		return nil, core.NewExecutionError(n.ID, errors.New("downstream unavailable"))
	})

	d := NewActionDispatcher(WithStore(store), WithNodeDispatcher(nodes))
	action := testScheduledAction(core.ActionKindExecutePipeline, map[string]any{
		"pipeline_id": "pl-broken",
	})

	_, err := d.Dispatch(context.Background(), store, action)
	require.Error(t, err)
	assert.True(t, core.IsExecutionError(err))
	assert.Contains(t, err.Error(), "failed")
}

func TestDispatchHonorsActionTimeout(t *testing.T) {
	t.Parallel()

	d := NewActionDispatcher()
	d.Register(core.ActionKindRunTask, func(ctx context.Context, _ persistence.Store, _ *core.ScheduledAction) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	action := testScheduledAction(core.ActionKindRunTask, map[string]any{"goal": "g"})
	action.Timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := d.Dispatch(context.Background(), persistence.Nil{}, action)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
