package runtime

import (
	"context"

	"github.com/loomcloud/loom/internal/core"
)

// handleParallel is a structural marker for fan-out points. It passes
// predecessor outputs through unchanged; concurrent dispatch of the
// successors is left to the executor.
func (d *Dispatcher) handleParallel(_ context.Context, _ core.Node, in Input) (map[string]any, error) {
	return mergeOutputs(in.Outputs), nil
}
