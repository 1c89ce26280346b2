package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/loomcloud/loom/internal/core"
	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
)

// SimulatedAgentResult is returned by agent nodes when no registry is
// wired, so pipelines stay runnable without LLM capacity.
const SimulatedAgentResult = "<simulated>"

type agentNodeConfig struct {
	AgentID string `mapstructure:"agent_id"`
	Task    string `mapstructure:"task"`
}

func (d *Dispatcher) handleAgent(ctx context.Context, node core.Node, in Input) (map[string]any, error) {
	var cfg agentNodeConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	if cfg.AgentID == "" {
		return nil, core.NewNodeConfigError(node.ID, core.ErrAgentIDRequired)
	}
	if cfg.Task == "" {
		return nil, core.NewNodeConfigError(node.ID, core.ErrTaskRequired)
	}

	if d.registry == nil {
		logger.Debug(ctx, "No agent registry wired, returning simulated output",
			tag.Node(node.ID), tag.Agent(cfg.AgentID))
		return map[string]any{
			"result":   SimulatedAgentResult,
			"agent_id": cfg.AgentID,
		}, nil
	}

	handle, err := d.registry.Get(ctx, cfg.AgentID)
	if err != nil {
		return nil, core.NewExecutionError(node.ID, fmt.Errorf("failed to resolve agent %s: %w", cfg.AgentID, err))
	}
	result, err := handle.ProcessAsync(ctx, agentPrompt(cfg.Task, in))
	if err != nil {
		return nil, core.NewExecutionError(node.ID, fmt.Errorf("agent %s failed: %w", cfg.AgentID, err))
	}
	return map[string]any{
		"result":   result,
		"agent_id": cfg.AgentID,
	}, nil
}

// agentPrompt appends predecessor outputs to the task so the agent
// sees upstream context. Predecessors are ordered by id for a stable
// prompt.
func agentPrompt(task string, in Input) string {
	if len(in.Outputs) == 0 {
		return task
	}
	ids := make([]string, 0, len(in.Outputs))
	for id := range in.Outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString(task)
	sb.WriteString("\n\nContext from previous steps:\n")
	for _, id := range ids {
		data, err := json.Marshal(in.Outputs[id])
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", id, data)
	}
	return sb.String()
}
