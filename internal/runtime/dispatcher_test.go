package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomcloud/loom/internal/core"
)

func TestDispatchUnknownKind(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	_, err := d.Dispatch(context.Background(), core.Node{ID: "n1", Kind: core.NodeKindUnknown}, Input{})
	require.Error(t, err)
	assert.True(t, core.IsConfigError(err))
	assert.ErrorIs(t, err, core.ErrUnknownNodeKind)
}

func TestDispatchTriggerReturnsTriggerData(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	out, err := d.Dispatch(context.Background(),
		core.Node{ID: "start", Kind: core.NodeKindTrigger},
		Input{TriggerData: map[string]any{"x": 1}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1}, out)
}

func TestDispatchTriggerPassesPredecessorsThrough(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	out, err := d.Dispatch(context.Background(),
		core.Node{ID: "start", Kind: core.NodeKindTrigger},
		Input{
			TriggerData: map[string]any{"x": 1},
			Outputs:     map[string]map[string]any{"up": {"done": true}},
		})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"up": map[string]any{"done": true}}, out)
}

func TestDispatchParallelPassthrough(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	out, err := d.Dispatch(context.Background(),
		core.Node{ID: "fan", Kind: core.NodeKindParallel},
		Input{Outputs: map[string]map[string]any{
			"a": {"v": 1},
			"b": {"v": 2},
		}})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, map[string]any{"v": 1}, out["a"])
}

func TestRegisterOverridesHandler(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	sentinel := errors.New("custom handler")
	d.Register(core.NodeKindAgent, func(_ context.Context, _ core.Node, _ Input) (map[string]any, error) {
		return nil, sentinel
	})

	_, err := d.Dispatch(context.Background(),
		core.Node{ID: "a", Kind: core.NodeKindAgent, Config: map[string]any{"agent_id": "x", "task": "y"}},
		Input{})
	assert.ErrorIs(t, err, sentinel)
}
