// Package runtime dispatches pipeline nodes to their kind handlers.
// Handlers share a uniform signature and classify their own failures:
// a NodeConfigError is fatal for the node, a NodeExecutionError is
// eligible for retry by the executor.
package runtime

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/loomcloud/loom/internal/agents"
	"github.com/loomcloud/loom/internal/core"
	"github.com/loomcloud/loom/internal/httpcall"
	"github.com/loomcloud/loom/internal/notify"
)

// Input carries what a node sees when dispatched.
type Input struct {
	// Outputs holds the outputs of the node's predecessors, keyed by
	// predecessor node id.
	Outputs map[string]map[string]any
	// TriggerData is the payload the run was started with. Trigger
	// nodes surface it as their output.
	TriggerData map[string]any
}

// HandlerFunc executes a single attempt of one node.
type HandlerFunc func(ctx context.Context, node core.Node, in Input) (map[string]any, error)

// Dispatcher routes a node to the handler registered for its kind.
type Dispatcher struct {
	handlers map[core.NodeKind]HandlerFunc

	registry agents.Registry
	notifier notify.Sender
	client   httpcall.Client
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAgentRegistry wires the agent capability. Without it, agent
// nodes return simulated outputs.
func WithAgentRegistry(r agents.Registry) Option {
	return func(d *Dispatcher) { d.registry = r }
}

// WithNotifier wires the notification capability.
func WithNotifier(s notify.Sender) Option {
	return func(d *Dispatcher) { d.notifier = s }
}

// WithHTTPClient wires the outbound HTTP capability.
func WithHTTPClient(c httpcall.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// NewDispatcher builds a dispatcher with handlers for every node kind.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifier: notify.NewRouter(),
		client:   httpcall.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handlers = map[core.NodeKind]HandlerFunc{
		core.NodeKindTrigger:   d.handleTrigger,
		core.NodeKindAgent:     d.handleAgent,
		core.NodeKindCondition: d.handleCondition,
		core.NodeKindAction:    d.handleAction,
		core.NodeKindParallel:  d.handleParallel,
		core.NodeKindDelay:     d.handleDelay,
	}
	return d
}

// Register replaces the handler for a kind. Tests use this to inject
// failing or counting handlers.
func (d *Dispatcher) Register(kind core.NodeKind, h HandlerFunc) {
	d.handlers[kind] = h
}

// Dispatch runs one attempt of the node and returns its output.
func (d *Dispatcher) Dispatch(ctx context.Context, node core.Node, in Input) (map[string]any, error) {
	h, ok := d.handlers[node.Kind]
	if !ok {
		return nil, core.NewNodeConfigError(node.ID, fmt.Errorf("%w: %s", core.ErrUnknownNodeKind, node.Kind))
	}
	return h(ctx, node, in)
}

// decodeConfig maps a node's raw config into a typed handler config.
func decodeConfig(node core.Node, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return core.NewNodeConfigError(node.ID, err)
	}
	if err := dec.Decode(node.Config); err != nil {
		return core.NewNodeConfigError(node.ID, fmt.Errorf("invalid config: %w", err))
	}
	return nil
}
