package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomcloud/loom/internal/core"
)

type fakeSender struct {
	mu         sync.Mutex
	channel    string
	recipients []string
	body       string
	err        error
	calls      int
}

func (f *fakeSender) Send(_ context.Context, channel string, recipients []string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.channel = channel
	f.recipients = recipients
	f.body = body
	return f.err
}

func actionNode(config map[string]any) core.Node {
	return core.Node{ID: "act", Kind: core.NodeKindAction, Config: config}
}

func TestActionRequiresActionType(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	_, err := d.Dispatch(context.Background(), actionNode(map[string]any{}), Input{})
	require.Error(t, err)
	assert.True(t, core.IsConfigError(err))
	assert.ErrorIs(t, err, core.ErrInvalidActionType)
}

func TestActionUnknownType(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	_, err := d.Dispatch(context.Background(), actionNode(map[string]any{"action_type": "launch_rocket"}), Input{})
	require.Error(t, err)
	assert.True(t, core.IsConfigError(err))
	assert.ErrorIs(t, err, core.ErrInvalidActionType)
}

func TestActionNestedPipelineRejected(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	for _, kind := range []string{"execute_pipeline", "pipeline"} {
		_, err := d.Dispatch(context.Background(), actionNode(map[string]any{
			"action_type": kind,
			"pipeline_id": "p1",
		}), Input{})
		require.Error(t, err)
		assert.True(t, core.IsConfigError(err))
		assert.ErrorIs(t, err, core.ErrNestedPipeline)
	}
}

func TestActionNotification(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	d := NewDispatcher(WithNotifier(sender))

	out, err := d.Dispatch(context.Background(), actionNode(map[string]any{
		"action_type": "notification",
		"channel":     "slack",
		"recipients":  []any{"C123", "C456"},
		"body":        "pipeline finished",
	}), Input{})
	require.NoError(t, err)
	assert.Equal(t, true, out["sent"])
	assert.Equal(t, 2, out["recipients"])
	assert.Equal(t, "slack", sender.channel)
	assert.Equal(t, []string{"C123", "C456"}, sender.recipients)
	assert.Equal(t, "pipeline finished", sender.body)
}

func TestActionNotificationFailureIsRetriable(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{err: assert.AnError}
	d := NewDispatcher(WithNotifier(sender))

	_, err := d.Dispatch(context.Background(), actionNode(map[string]any{
		"action_type": "send_notification",
		"channel":     "slack",
		"recipients":  []any{"C123"},
		"body":        "x",
	}), Input{})
	require.Error(t, err)
	assert.True(t, core.IsExecutionError(err))
}

func TestActionCallAPI(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	d := NewDispatcher()
	out, err := d.Dispatch(context.Background(), actionNode(map[string]any{
		"action_type": "call_api",
		"method":      "POST",
		"url":         srv.URL,
		"headers":     map[string]any{"Authorization": "token"},
		"body":        `{"q":1}`,
	}), Input{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out["status_code"])
	assert.JSONEq(t, `{"accepted":true}`, out["body"].(string))
}

func TestActionCallAPIRequiresURL(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	_, err := d.Dispatch(context.Background(), actionNode(map[string]any{
		"action_type": "call_api",
		"method":      "GET",
	}), Input{})
	require.Error(t, err)
	assert.True(t, core.IsConfigError(err))
}

func TestActionCallAPIServerErrorIsRetriable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDispatcher()
	_, err := d.Dispatch(context.Background(), actionNode(map[string]any{
		"action_type": "call_api",
		"url":         srv.URL,
	}), Input{})
	require.Error(t, err)
	assert.True(t, core.IsExecutionError(err))
}

func TestActionRunTaskSimulated(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	out, err := d.Dispatch(context.Background(), actionNode(map[string]any{
		"action_type": "run_task",
		"agent_id":    "agent-9",
		"goal":        "rebuild index",
	}), Input{})
	require.NoError(t, err)
	assert.Equal(t, SimulatedAgentResult, out["result"])
}

func TestActionRunTaskCreatesTask(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	d := NewDispatcher(WithAgentRegistry(reg))

	out, err := d.Dispatch(context.Background(), actionNode(map[string]any{
		"action_type": "run_task",
		"agent_id":    "agent-9",
		"goal":        "rebuild index",
	}), Input{})
	require.NoError(t, err)
	assert.Equal(t, true, out["task_created"])
	assert.Equal(t, "agent-9", reg.createdAgent)
	assert.Equal(t, "rebuild index", reg.createdGoal)
}
