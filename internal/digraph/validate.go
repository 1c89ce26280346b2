package digraph

import (
	"fmt"

	"github.com/loomcloud/loom/internal/core"
)

// Validate checks a definition's node/edge structure and returns all
// violations found, in a fixed order: empty node set, unknown node
// kinds, duplicate or missing node ids, edges referencing unknown
// nodes, and finally a cycle (with the offending path).
//
// A node with no edges at all is legitimate (a standalone trigger);
// Orphans reports them so callers can warn.
func Validate(nodes []core.Node, edges []core.Edge) []error {
	var errs core.ErrorList

	if len(nodes) == 0 {
		errs = append(errs, core.ErrEmptyPipeline)
		return errs
	}

	for _, n := range nodes {
		if !validNodeKind(n.Kind) {
			errs = append(errs, core.NewValidationError(
				fmt.Sprintf("nodes[%s].kind", n.ID), n.Kind.String(), core.ErrUnknownNodeKind))
		}
	}

	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			errs = append(errs, core.ErrNodeIDRequired)
			continue
		}
		if _, dup := known[n.ID]; dup {
			errs = append(errs, core.NewValidationError("nodes", n.ID, core.ErrDuplicateNodeID))
			continue
		}
		known[n.ID] = struct{}{}
	}

	for i, e := range edges {
		if _, ok := known[e.From]; !ok {
			errs = append(errs, core.NewValidationError(
				fmt.Sprintf("edges[%d].from", i), e.From, core.ErrUnknownEdgeSource))
		}
		if _, ok := known[e.To]; !ok {
			errs = append(errs, core.NewValidationError(
				fmt.Sprintf("edges[%d].to", i), e.To, core.ErrUnknownEdgeTarget))
		}
	}

	// Cycle detection only makes sense once the endpoints resolve.
	if len(errs) == 0 {
		if _, err := NewGraph(nodes, edges).TopologicalOrder(); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

// Orphans returns the ids of nodes with no incoming and no outgoing
// edges. Callers warn about them but do not reject the definition.
func Orphans(nodes []core.Node, edges []core.Edge) []string {
	connected := make(map[string]struct{}, len(edges)*2)
	for _, e := range edges {
		connected[e.From] = struct{}{}
		connected[e.To] = struct{}{}
	}
	var orphans []string
	for _, n := range nodes {
		if _, ok := connected[n.ID]; !ok {
			orphans = append(orphans, n.ID)
		}
	}
	return orphans
}

func validNodeKind(k core.NodeKind) bool {
	switch k {
	case core.NodeKindTrigger, core.NodeKindAgent, core.NodeKindCondition,
		core.NodeKindAction, core.NodeKindParallel, core.NodeKindDelay:
		return true
	default:
		return false
	}
}
