// Package scheduler advances scheduled actions to their due time and
// dispatches them, coordinating across instances with the store's
// advisory lock.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"

	"github.com/loomcloud/loom/internal/agents"
	"github.com/loomcloud/loom/internal/core"
	"github.com/loomcloud/loom/internal/events"
	"github.com/loomcloud/loom/internal/httpcall"
	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
	"github.com/loomcloud/loom/internal/notify"
	"github.com/loomcloud/loom/internal/persistence"
	"github.com/loomcloud/loom/internal/pipeline"
	"github.com/loomcloud/loom/internal/runtime"
	"github.com/loomcloud/loom/internal/ttlcache"
)

const definitionCacheTTL = 5 * time.Minute

// ActionHandlerFunc executes one scheduled action. The store is the
// caller's transactional view, so bookkeeping writes join the
// dispatching transaction. The returned summary lands in the action
// run record.
type ActionHandlerFunc func(ctx context.Context, store persistence.Store, action *core.ScheduledAction) (string, error)

// ActionDispatcher routes scheduled actions to their kind's handler.
type ActionDispatcher struct {
	handlers map[core.ActionKind]ActionHandlerFunc
	registry agents.Registry
	notifier notify.Sender
	client   httpcall.Client
	runs     *pipeline.Manager
	nodes    *runtime.Dispatcher
	store    persistence.Store
	sink     events.Sink
	defs     *ttlcache.Cache[string, *core.PipelineDefinition]
}

// ActionOption configures an ActionDispatcher.
type ActionOption func(*ActionDispatcher)

// WithAgentRegistry wires the agent registry used by run_task actions.
func WithAgentRegistry(r agents.Registry) ActionOption {
	return func(d *ActionDispatcher) {
		d.registry = r
	}
}

// WithNotifier wires the notification sender.
func WithNotifier(n notify.Sender) ActionOption {
	return func(d *ActionDispatcher) {
		d.notifier = n
	}
}

// WithHTTPClient wires the HTTP client used by call_api actions.
func WithHTTPClient(c httpcall.Client) ActionOption {
	return func(d *ActionDispatcher) {
		d.client = c
	}
}

// WithRunManager wires the run manager that owns pipeline runs
// launched by execute_pipeline actions.
func WithRunManager(m *pipeline.Manager) ActionOption {
	return func(d *ActionDispatcher) {
		d.runs = m
	}
}

// WithNodeDispatcher wires the node dispatcher handed to pipeline
// executors.
func WithNodeDispatcher(nd *runtime.Dispatcher) ActionOption {
	return func(d *ActionDispatcher) {
		d.nodes = nd
	}
}

// WithStore wires the pool-backed store. Pipeline runs write through
// it directly because they outlive the action's transaction.
func WithStore(s persistence.Store) ActionOption {
	return func(d *ActionDispatcher) {
		d.store = s
	}
}

// WithSink wires the lifecycle event sink handed to pipeline
// executors.
func WithSink(s events.Sink) ActionOption {
	return func(d *ActionDispatcher) {
		d.sink = s
	}
}

// NewActionDispatcher creates a dispatcher with the four built-in
// action kinds registered.
func NewActionDispatcher(opts ...ActionOption) *ActionDispatcher {
	d := &ActionDispatcher{
		handlers: make(map[core.ActionKind]ActionHandlerFunc),
		notifier: notify.NewRouter(),
		client:   httpcall.New(),
		runs:     pipeline.NewManager(),
		nodes:    runtime.NewDispatcher(),
		store:    persistence.Nil{},
		sink:     events.Nop{},
		defs:     ttlcache.New[string, *core.PipelineDefinition]("pipeline-definitions", 0, definitionCacheTTL),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handlers[core.ActionKindRunTask] = d.handleRunTask
	d.handlers[core.ActionKindExecutePipeline] = d.handleExecutePipeline
	d.handlers[core.ActionKindSendNotification] = d.handleSendNotification
	d.handlers[core.ActionKindCallAPI] = d.handleCallAPI
	return d
}

// Register installs or replaces the handler for a kind.
func (d *ActionDispatcher) Register(kind core.ActionKind, h ActionHandlerFunc) {
	d.handlers[kind] = h
}

// Dispatch runs the action's handler under the action's timeout. An
// unknown kind is a configuration error, never a crash.
func (d *ActionDispatcher) Dispatch(ctx context.Context, store persistence.Store, action *core.ScheduledAction) (string, error) {
	h, ok := d.handlers[action.Kind]
	if !ok {
		logger.Warn(ctx, "Unknown action kind",
			tag.Action(action.ID), tag.Kind(action.Kind.String()))
		return "", core.NewActionConfigError(action.ID, core.ErrUnknownActionKind)
	}
	if action.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, action.Timeout)
		defer cancel()
	}
	return h(ctx, store, action)
}

// InvalidateDefinition drops a cached pipeline definition, forcing a
// reload on the next execute_pipeline dispatch.
func (d *ActionDispatcher) InvalidateDefinition(pipelineID string) {
	d.defs.Invalidate(pipelineID)
}

type runTaskConfig struct {
	Goal string `mapstructure:"goal"`
}

func (d *ActionDispatcher) handleRunTask(ctx context.Context, _ persistence.Store, action *core.ScheduledAction) (string, error) {
	var cfg runTaskConfig
	if err := decodeActionConfig(action, &cfg); err != nil {
		return "", err
	}
	if cfg.Goal == "" {
		return "", core.NewActionConfigError(action.ID, core.ErrGoalRequired)
	}

	if d.registry == nil {
		logger.Debug(ctx, "No agent registry wired, task creation simulated",
			tag.Action(action.ID), tag.Agent(action.AgentID))
		return "task creation simulated", nil
	}
	if err := d.registry.CreateTask(ctx, action.AgentID, cfg.Goal); err != nil {
		return "", core.NewActionExecutionError(action.ID, fmt.Errorf("failed to create task for agent %s: %w", action.AgentID, err))
	}
	return fmt.Sprintf("task created for agent %s", action.AgentID), nil
}

type executePipelineConfig struct {
	PipelineID  string         `mapstructure:"pipeline_id"`
	TriggerData map[string]any `mapstructure:"trigger_data"`
}

func (d *ActionDispatcher) handleExecutePipeline(ctx context.Context, store persistence.Store, action *core.ScheduledAction) (string, error) {
	var cfg executePipelineConfig
	if err := decodeActionConfig(action, &cfg); err != nil {
		return "", err
	}
	if cfg.PipelineID == "" {
		return "", core.NewActionConfigError(action.ID, core.ErrPipelineIDRequired)
	}

	def, err := d.loadDefinition(ctx, store, cfg.PipelineID)
	if err != nil {
		return "", err
	}

	// The run row is written through the pool store, not the action's
	// transaction: the executor task updates it before that
	// transaction commits.
	run := &core.PipelineRun{
		ID:          uuid.NewString(),
		PipelineID:  def.ID,
		Status:      core.RunRunning,
		TriggerData: cfg.TriggerData,
		StartedAt:   time.Now(),
	}
	if err := d.store.CreateRun(ctx, run); err != nil {
		return "", core.NewActionExecutionError(action.ID, fmt.Errorf("failed to create run: %w", err))
	}

	exec := pipeline.NewExecutor(def, run,
		pipeline.WithStore(d.store),
		pipeline.WithSink(d.sink),
		pipeline.WithDispatcher(d.nodes),
	)
	timeout := action.Timeout
	if timeout <= 0 {
		timeout = def.Timeout
	}
	if err := d.runs.Start(ctx, run.ID, exec, timeout); err != nil {
		return "", core.NewActionExecutionError(action.ID, err)
	}
	if err := d.runs.Wait(ctx, run.ID); err != nil {
		return "", core.NewActionExecutionError(action.ID, fmt.Errorf("wait for run %s: %w", run.ID, err))
	}

	status := exec.Status()
	summary := fmt.Sprintf("pipeline %s run %s: %s", def.ID, run.ID, status)
	if status != core.RunCompleted {
		stored, gerr := d.store.GetRun(context.WithoutCancel(ctx), run.ID)
		if gerr == nil && stored.Error != "" {
			return "", core.NewActionExecutionError(action.ID, fmt.Errorf("run %s %s: %s", run.ID, status, stored.Error))
		}
		return "", core.NewActionExecutionError(action.ID, fmt.Errorf("run %s finished %s", run.ID, status))
	}
	return summary, nil
}

func (d *ActionDispatcher) loadDefinition(ctx context.Context, store persistence.Store, pipelineID string) (*core.PipelineDefinition, error) {
	return d.defs.LoadOr(pipelineID, func() (*core.PipelineDefinition, error) {
		return store.GetPipeline(ctx, pipelineID)
	})
}

type sendNotificationConfig struct {
	Channel    string   `mapstructure:"channel"`
	Recipients []string `mapstructure:"recipients"`
	Body       string   `mapstructure:"body"`
}

func (d *ActionDispatcher) handleSendNotification(ctx context.Context, _ persistence.Store, action *core.ScheduledAction) (string, error) {
	var cfg sendNotificationConfig
	if err := decodeActionConfig(action, &cfg); err != nil {
		return "", err
	}
	if err := d.notifier.Send(ctx, cfg.Channel, cfg.Recipients, cfg.Body); err != nil {
		return "", core.NewActionExecutionError(action.ID, fmt.Errorf("failed to send notification: %w", err))
	}
	return fmt.Sprintf("notification sent on %s to %d recipients", cfg.Channel, len(cfg.Recipients)), nil
}

type callAPIConfig struct {
	Method  string            `mapstructure:"method"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Body    string            `mapstructure:"body"`
	Timeout float64           `mapstructure:"timeout"`
}

func (d *ActionDispatcher) handleCallAPI(ctx context.Context, _ persistence.Store, action *core.ScheduledAction) (string, error) {
	var cfg callAPIConfig
	if err := decodeActionConfig(action, &cfg); err != nil {
		return "", err
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return "", core.NewActionConfigError(action.ID, fmt.Errorf("url must be specified"))
	}

	req := httpcall.Request{
		Method:  cfg.Method,
		URL:     cfg.URL,
		Headers: cfg.Headers,
		Body:    cfg.Body,
	}
	if cfg.Timeout > 0 {
		req.Timeout = time.Duration(cfg.Timeout * float64(time.Second))
	}
	rsp, err := d.client.Do(ctx, req)
	if err != nil {
		return "", core.NewActionExecutionError(action.ID, fmt.Errorf("api call failed: %w", err))
	}
	return fmt.Sprintf("HTTP %d", rsp.StatusCode), nil
}

func decodeActionConfig(action *core.ScheduledAction, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return core.NewActionConfigError(action.ID, err)
	}
	if err := dec.Decode(action.Config); err != nil {
		return core.NewActionConfigError(action.ID, err)
	}
	return nil
}
