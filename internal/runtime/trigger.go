package runtime

import (
	"context"

	"github.com/loomcloud/loom/internal/core"
)

// handleTrigger surfaces the run's trigger data. A trigger with
// predecessors (unusual but legal) passes their outputs through.
func (d *Dispatcher) handleTrigger(_ context.Context, _ core.Node, in Input) (map[string]any, error) {
	if len(in.Outputs) == 0 {
		out := make(map[string]any, len(in.TriggerData))
		for k, v := range in.TriggerData {
			out[k] = v
		}
		return out, nil
	}
	return mergeOutputs(in.Outputs), nil
}

func mergeOutputs(outputs map[string]map[string]any) map[string]any {
	merged := make(map[string]any, len(outputs))
	for id, out := range outputs {
		merged[id] = out
	}
	return merged
}
