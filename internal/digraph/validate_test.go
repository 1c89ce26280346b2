package digraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomcloud/loom/internal/core"
)

func TestValidateEmptyNodeSet(t *testing.T) {
	errs := Validate(nil, nil)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], core.ErrEmptyPipeline)
}

func TestValidateUnknownKind(t *testing.T) {
	nodes := []core.Node{{ID: "n1", Kind: core.NodeKindUnknown}}

	errs := Validate(nodes, nil)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], core.ErrUnknownNodeKind)
	assert.Contains(t, errs[0].Error(), "n1")
}

func TestValidateUnknownEdgeEndpoints(t *testing.T) {
	nodes := nodesOf("a")
	edges := []core.Edge{{From: "a", To: "ghost"}, {From: "phantom", To: "a"}}

	errs := Validate(nodes, edges)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], core.ErrUnknownEdgeTarget)
	assert.ErrorIs(t, errs[1], core.ErrUnknownEdgeSource)
}

func TestValidateDuplicateNodeID(t *testing.T) {
	nodes := []core.Node{
		{ID: "a", Kind: core.NodeKindTrigger},
		{ID: "a", Kind: core.NodeKindAction},
	}
	errs := Validate(nodes, nil)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], core.ErrDuplicateNodeID)
}

func TestValidateCycleReportedLast(t *testing.T) {
	nodes := nodesOf("a", "b")
	edges := edgesOf([2]string{"a", "b"}, [2]string{"b", "a"})

	errs := Validate(nodes, edges)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], core.ErrCycleDetected)
}

func TestValidateErrorOrder(t *testing.T) {
	// Unknown kind comes before the bad edge endpoint.
	nodes := []core.Node{
		{ID: "a", Kind: core.NodeKindUnknown},
		{ID: "b", Kind: core.NodeKindAgent},
	}
	edges := []core.Edge{{From: "b", To: "ghost"}}

	errs := Validate(nodes, edges)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], core.ErrUnknownNodeKind)
	assert.ErrorIs(t, errs[1], core.ErrUnknownEdgeTarget)
}

func TestValidateAcceptsValidDefinition(t *testing.T) {
	nodes := []core.Node{
		{ID: "t", Kind: core.NodeKindTrigger},
		{ID: "a", Kind: core.NodeKindAgent, Config: map[string]any{"agent_id": "x", "task": "do"}},
	}
	edges := edgesOf([2]string{"t", "a"})

	assert.Empty(t, Validate(nodes, edges))
}

func TestOrphansWarnedNotRejected(t *testing.T) {
	nodes := []core.Node{
		{ID: "t", Kind: core.NodeKindTrigger},
		{ID: "a", Kind: core.NodeKindAction},
		{ID: "lonely", Kind: core.NodeKindTrigger},
	}
	edges := edgesOf([2]string{"t", "a"})

	assert.Empty(t, Validate(nodes, edges))
	assert.Equal(t, []string{"lonely"}, Orphans(nodes, edges))
}
