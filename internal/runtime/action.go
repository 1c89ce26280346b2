package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomcloud/loom/internal/core"
	"github.com/loomcloud/loom/internal/httpcall"
	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
)

// handleAction reads action_type from the node config and delegates to
// the matching sub-handler. Nested pipeline execution is rejected so a
// pipeline cannot recurse into the executor.
func (d *Dispatcher) handleAction(ctx context.Context, node core.Node, in Input) (map[string]any, error) {
	var cfg struct {
		ActionType string `mapstructure:"action_type"`
	}
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	if cfg.ActionType == "" {
		return nil, core.NewNodeConfigError(node.ID, fmt.Errorf("%w: action_type is required", core.ErrInvalidActionType))
	}

	switch strings.ToLower(cfg.ActionType) {
	case "notification", "send_notification":
		return d.actionNotification(ctx, node)
	case "call_api":
		return d.actionCallAPI(ctx, node)
	case "run_task":
		return d.actionRunTask(ctx, node)
	case "execute_pipeline", "pipeline":
		return nil, core.NewNodeConfigError(node.ID, core.ErrNestedPipeline)
	default:
		return nil, core.NewNodeConfigError(node.ID, fmt.Errorf("%w: %q", core.ErrInvalidActionType, cfg.ActionType))
	}
}

type notificationActionConfig struct {
	Channel    string   `mapstructure:"channel"`
	Recipients []string `mapstructure:"recipients"`
	Body       string   `mapstructure:"body"`
}

func (d *Dispatcher) actionNotification(ctx context.Context, node core.Node) (map[string]any, error) {
	var cfg notificationActionConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	if err := d.notifier.Send(ctx, cfg.Channel, cfg.Recipients, cfg.Body); err != nil {
		return nil, core.NewExecutionError(node.ID, fmt.Errorf("notification failed: %w", err))
	}
	return map[string]any{
		"sent":       true,
		"channel":    cfg.Channel,
		"recipients": len(cfg.Recipients),
	}, nil
}

type callAPIActionConfig struct {
	Method  string            `mapstructure:"method"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Body    string            `mapstructure:"body"`
	Timeout float64           `mapstructure:"timeout"`
}

func (d *Dispatcher) actionCallAPI(ctx context.Context, node core.Node) (map[string]any, error) {
	var cfg callAPIActionConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, core.NewNodeConfigError(node.ID, fmt.Errorf("url is required for call_api"))
	}

	rsp, err := d.client.Do(ctx, httpcall.Request{
		Method:  cfg.Method,
		URL:     cfg.URL,
		Headers: cfg.Headers,
		Body:    cfg.Body,
		Timeout: time.Duration(cfg.Timeout * float64(time.Second)),
	})
	if err != nil {
		return nil, core.NewExecutionError(node.ID, err)
	}
	return map[string]any{
		"status_code": rsp.StatusCode,
		"body":        rsp.Body,
	}, nil
}

type runTaskActionConfig struct {
	AgentID string `mapstructure:"agent_id"`
	Goal    string `mapstructure:"goal"`
}

func (d *Dispatcher) actionRunTask(ctx context.Context, node core.Node) (map[string]any, error) {
	var cfg runTaskActionConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	if cfg.AgentID == "" {
		return nil, core.NewNodeConfigError(node.ID, core.ErrAgentIDRequired)
	}
	if cfg.Goal == "" {
		return nil, core.NewNodeConfigError(node.ID, core.ErrTaskRequired)
	}

	if d.registry == nil {
		logger.Debug(ctx, "No agent registry wired, simulating task creation",
			tag.Node(node.ID), tag.Agent(cfg.AgentID))
		return map[string]any{
			"result":   SimulatedAgentResult,
			"agent_id": cfg.AgentID,
		}, nil
	}
	if err := d.registry.CreateTask(ctx, cfg.AgentID, cfg.Goal); err != nil {
		return nil, core.NewExecutionError(node.ID, fmt.Errorf("failed to create task: %w", err))
	}
	return map[string]any{
		"task_created": true,
		"agent_id":     cfg.AgentID,
	}, nil
}
