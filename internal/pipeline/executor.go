// Package pipeline drives validated pipeline definitions to a terminal
// state. The Executor walks one run in topological order; the Manager
// owns the set of live runs and their cancellation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomcloud/loom/internal/backoff"
	"github.com/loomcloud/loom/internal/breaker"
	"github.com/loomcloud/loom/internal/core"
	"github.com/loomcloud/loom/internal/digraph"
	"github.com/loomcloud/loom/internal/events"
	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
	"github.com/loomcloud/loom/internal/persistence"
	"github.com/loomcloud/loom/internal/runtime"
)

const tracerName = "github.com/loomcloud/loom/internal/pipeline"

// Executor runs a single pipeline run from start to a terminal state.
// It is single-use: construct one per run and call Run exactly once.
type Executor struct {
	def        *core.PipelineDefinition
	run        *core.PipelineRun
	dispatcher *runtime.Dispatcher
	store      persistence.Store
	sink       events.Sink
	breakers   *breaker.Set

	cancelRequested atomic.Bool

	mu      sync.Mutex
	outputs map[string]map[string]any
	status  core.RunStatus
	done    bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithStore sets the persistence backend for run and node records.
func WithStore(store persistence.Store) ExecutorOption {
	return func(e *Executor) {
		e.store = store
	}
}

// WithSink sets the lifecycle event sink.
func WithSink(sink events.Sink) ExecutorOption {
	return func(e *Executor) {
		e.sink = sink
	}
}

// WithDispatcher sets the node dispatcher.
func WithDispatcher(d *runtime.Dispatcher) ExecutorOption {
	return func(e *Executor) {
		e.dispatcher = d
	}
}

// WithBreakers sets the per-node circuit breaker set. The set lives
// and dies with the run unless shared deliberately.
func WithBreakers(set *breaker.Set) ExecutorOption {
	return func(e *Executor) {
		e.breakers = set
	}
}

// NewExecutor creates an executor for one run of the given definition.
// Without options it runs fully in-memory: no-op store, no-op sink,
// a dispatcher with simulated agents.
func NewExecutor(def *core.PipelineDefinition, run *core.PipelineRun, opts ...ExecutorOption) *Executor {
	e := &Executor{
		def:        def,
		run:        run,
		dispatcher: runtime.NewDispatcher(),
		store:      persistence.Nil{},
		sink:       events.Nop{},
		breakers:   breaker.NewSet(breaker.DefaultFailureThreshold, breaker.DefaultRecoveryTimeout),
		outputs:    make(map[string]map[string]any),
		status:     run.Status,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RequestCancel sets the cooperative cancellation flag. The traversal
// loop observes it between nodes; in-flight node handlers are not
// interrupted until their context is cancelled.
func (e *Executor) RequestCancel() {
	e.cancelRequested.Store(true)
}

// Status returns the run's current status.
func (e *Executor) Status() core.RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// NodeOutputs returns a copy of the outputs recorded so far, keyed by
// node id.
func (e *Executor) NodeOutputs() map[string]map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]map[string]any, len(e.outputs))
	for id, o := range e.outputs {
		out[id] = o
	}
	return out
}

// Run executes the pipeline. It validates the definition, walks the
// nodes in topological order, and always leaves the run in a terminal
// state, persisting and emitting as it goes. The returned error is the
// cause of a failed, cancelled, or timed out run; nil means completed.
func (e *Executor) Run(ctx context.Context) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx,
		fmt.Sprintf("pipeline: %s", e.def.ID),
		trace.WithAttributes(
			attribute.String("pipeline.id", e.def.ID),
			attribute.String("pipeline.run_id", e.run.ID),
		))
	defer func() {
		span.SetAttributes(attribute.String("pipeline.run.status", e.Status().String()))
		span.End()
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Executor panicked",
				tag.RunID(e.run.ID),
				tag.Pipeline(e.run.PipelineID),
				tag.String("stack", string(debug.Stack())))
			msg := fmt.Sprintf("executor panic: %v", r)
			e.finish(ctx, core.RunFailed, msg)
			err = errors.New(msg)
		}
	}()

	if errs := digraph.Validate(e.def.Nodes, e.def.Edges); len(errs) > 0 {
		verr := core.ErrorList(errs)
		e.finish(ctx, core.RunFailed, verr.Error())
		return verr
	}
	if orphans := digraph.Orphans(e.def.Nodes, e.def.Edges); len(orphans) > 0 {
		logger.Warn(ctx, "Pipeline contains unreachable nodes",
			tag.Pipeline(e.def.ID), tag.Count(len(orphans)))
	}

	graph := digraph.NewGraph(e.def.Nodes, e.def.Edges)
	order, err := graph.TopologicalOrder()
	if err != nil {
		e.finish(ctx, core.RunFailed, err.Error())
		return err
	}

	e.setStatus(core.RunRunning)
	if uerr := e.store.UpdateRunStatus(ctx, e.run.ID, core.RunRunning, ""); uerr != nil {
		logger.Warn(ctx, "Failed to persist run status",
			tag.RunID(e.run.ID), tag.Status(core.RunRunning.String()), tag.Error(uerr))
	}
	e.sink.Emit(ctx, events.RunStarted, map[string]any{
		"run_id":      e.run.ID,
		"pipeline_id": e.run.PipelineID,
	})
	logger.Info(ctx, "Pipeline run started",
		tag.RunID(e.run.ID), tag.Pipeline(e.run.PipelineID), tag.Count(len(order)))

	// Trigger data doubles as the recorded output of every trigger
	// node, so downstream inputs see it even before traversal begins.
	for _, n := range e.def.Nodes {
		if n.Kind == core.NodeKindTrigger {
			e.setOutput(n.ID, e.run.TriggerData)
		}
	}

	nodes := e.def.NodesByID()
	skipped := make(map[string]bool)

	for _, nodeID := range order {
		node := nodes[nodeID]

		if e.shouldSkip(graph, nodeID, skipped) {
			skipped[nodeID] = true
			e.recordSkip(ctx, node)
			continue
		}

		if e.cancelRequested.Load() || ctx.Err() != nil {
			return e.finishInterrupted(ctx)
		}

		if serr := e.store.SetCurrentNode(ctx, e.run.ID, nodeID); serr != nil {
			logger.Warn(ctx, "Failed to persist current node",
				tag.RunID(e.run.ID), tag.Node(nodeID), tag.Error(serr))
		}

		output, nodeErr := e.executeNode(ctx, node, graph)
		if nodeErr != nil {
			if e.interrupted(ctx, nodeErr) {
				return e.finishInterrupted(ctx)
			}
			e.finish(ctx, core.RunFailed, nodeErr.Error())
			return nodeErr
		}

		e.setOutput(nodeID, output)
		if node.Kind == core.NodeKindCondition && !conditionResult(output) {
			e.sweepSkips(graph, nodeID, skipped)
		}
	}

	e.finish(ctx, core.RunCompleted, "")
	return nil
}

// executeNode runs one node under its circuit breaker and retry
// policy, persists the node run record, and emits lifecycle events.
func (e *Executor) executeNode(ctx context.Context, node core.Node, graph *digraph.Graph) (map[string]any, error) {
	inputs := e.inputsFor(graph, node.ID)
	started := time.Now()

	e.sink.Emit(ctx, events.NodeStarted, map[string]any{
		"run_id":  e.run.ID,
		"node_id": node.ID,
		"kind":    node.Kind.String(),
	})

	policy := &backoff.ExponentialBackoffPolicy{
		InitialInterval: e.def.RetryBackoffBase,
		BackoffFactor:   2.0,
		MaxInterval:     e.def.RetryBackoffMax,
		MaxRetries:      e.def.MaxRetriesPerNode,
	}

	var (
		output   map[string]any
		attempts int
	)
	op := func(ctx context.Context) error {
		if attempts > 0 {
			e.sink.Emit(ctx, events.NodeRetrying, map[string]any{
				"run_id":  e.run.ID,
				"node_id": node.ID,
				"attempt": attempts,
			})
			logger.Info(ctx, "Retrying node",
				tag.RunID(e.run.ID), tag.Node(node.ID),
				tag.Attempt(attempts), tag.MaxRetries(e.def.MaxRetriesPerNode))
		}
		attempts++
		out, derr := e.dispatcher.Dispatch(ctx, node, runtime.Input{
			Outputs:     inputs,
			TriggerData: e.run.TriggerData,
		})
		if derr != nil {
			return derr
		}
		output = out
		return nil
	}

	// The breaker wraps the whole retry series: an open breaker rejects
	// before the first attempt, so no retry budget is consumed, and the
	// series records exactly one success or failure. A zero retry
	// budget would mean unlimited under the policy, so it bypasses the
	// retry loop.
	execErr := e.breakers.ForNode(node.ID).Execute(func() error {
		if e.def.MaxRetriesPerNode <= 0 {
			return op(ctx)
		}
		return backoff.Retry(ctx, op, policy, core.IsExecutionError)
	})

	retryCount := attempts - 1
	if retryCount < 0 {
		retryCount = 0
	}
	nodeRun := &core.NodeRun{
		RunID:        e.run.ID,
		NodeID:       node.ID,
		Kind:         node.Kind,
		InputSummary: flattenInputs(inputs),
		RetryCount:   retryCount,
		StartedAt:    started,
	}

	if execErr != nil {
		if breaker.IsOpen(execErr) {
			execErr = core.NewExecutionError(node.ID, fmt.Errorf("circuit breaker open: %w", execErr))
		}
		if e.interrupted(ctx, execErr) {
			nodeRun.Status = core.NodeCancelled
			nodeRun.Error = execErr.Error()
			e.saveNodeRun(ctx, nodeRun)
			return nil, execErr
		}
		nodeRun.Status = core.NodeFailed
		nodeRun.Error = execErr.Error()
		e.saveNodeRun(ctx, nodeRun)
		e.sink.Emit(ctx, events.NodeFailed, map[string]any{
			"run_id":      e.run.ID,
			"node_id":     node.ID,
			"error":       execErr.Error(),
			"retry_count": retryCount,
		})
		logger.Error(ctx, "Node failed",
			tag.RunID(e.run.ID), tag.Node(node.ID), tag.Kind(node.Kind.String()),
			tag.Attempt(attempts), tag.Error(execErr))
		return nil, execErr
	}

	nodeRun.Status = core.NodeCompleted
	nodeRun.OutputSummary = output
	e.saveNodeRun(ctx, nodeRun)
	e.sink.Emit(ctx, events.NodeCompleted, map[string]any{
		"run_id":      e.run.ID,
		"node_id":     node.ID,
		"retry_count": retryCount,
	})
	logger.Debug(ctx, "Node completed",
		tag.RunID(e.run.ID), tag.Node(node.ID), tag.Kind(node.Kind.String()),
		tag.Duration(time.Since(started)))
	return output, nil
}

// shouldSkip reports whether the node was swept into the skip set or
// has predecessors that were all skipped. Roots never auto-skip.
func (e *Executor) shouldSkip(graph *digraph.Graph, nodeID string, skipped map[string]bool) bool {
	if skipped[nodeID] {
		return true
	}
	preds := graph.Predecessors(nodeID)
	if len(preds) == 0 {
		return false
	}
	for _, pred := range preds {
		if !skipped[pred] {
			return false
		}
	}
	return true
}

// sweepSkips marks every downstream node whose execution depends on a
// falsy condition. A successor is swept when each of its predecessors
// is either already swept or the condition node itself. Nodes with an
// unaffected predecessor still run.
func (e *Executor) sweepSkips(graph *digraph.Graph, conditionID string, skipped map[string]bool) {
	queue := []string{conditionID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, succ := range graph.Successors(current) {
			if skipped[succ] {
				continue
			}
			eligible := true
			for _, pred := range graph.Predecessors(succ) {
				if pred != conditionID && !skipped[pred] {
					eligible = false
					break
				}
			}
			if eligible {
				skipped[succ] = true
				queue = append(queue, succ)
			}
		}
	}
}

// recordSkip persists and announces a skipped node without invoking
// its handler.
func (e *Executor) recordSkip(ctx context.Context, node core.Node) {
	now := time.Now()
	nodeRun := &core.NodeRun{
		RunID:       e.run.ID,
		NodeID:      node.ID,
		Kind:        node.Kind,
		Status:      core.NodeSkipped,
		StartedAt:   now,
		CompletedAt: now,
	}
	if err := e.store.SaveNodeRun(ctx, nodeRun); err != nil {
		logger.Warn(ctx, "Failed to persist node run",
			tag.RunID(e.run.ID), tag.Node(node.ID), tag.Error(err))
	}
	e.sink.Emit(ctx, events.NodeSkipped, map[string]any{
		"run_id":  e.run.ID,
		"node_id": node.ID,
	})
	logger.Debug(ctx, "Node skipped", tag.RunID(e.run.ID), tag.Node(node.ID))
}

// saveNodeRun stamps completion fields and persists the record.
// Persistence failures are logged, never fatal to the run.
func (e *Executor) saveNodeRun(ctx context.Context, nodeRun *core.NodeRun) {
	nodeRun.CompletedAt = time.Now()
	nodeRun.DurationMS = nodeRun.CompletedAt.Sub(nodeRun.StartedAt).Milliseconds()
	if err := e.store.SaveNodeRun(context.WithoutCancel(ctx), nodeRun); err != nil {
		logger.Warn(ctx, "Failed to persist node run",
			tag.RunID(e.run.ID), tag.Node(nodeRun.NodeID), tag.Error(err))
	}
}

// interrupted reports whether the error or the context indicates the
// run was cancelled or timed out rather than genuinely failed.
func (e *Executor) interrupted(ctx context.Context, err error) bool {
	if e.cancelRequested.Load() || ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// finishInterrupted resolves an interruption to its terminal status:
// a dead deadline means timeout, everything else means cancelled.
func (e *Executor) finishInterrupted(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.finish(ctx, core.RunTimeout, core.ErrRunTimeout.Error())
		return core.ErrRunTimeout
	}
	e.finish(ctx, core.RunCancelled, core.ErrRunCancelled.Error())
	return core.ErrRunCancelled
}

// finish transitions the run to a terminal status exactly once,
// persists it, and emits the matching lifecycle event. Later calls are
// no-ops, so a timeout and a cancellation cannot both win.
func (e *Executor) finish(ctx context.Context, status core.RunStatus, errMsg string) {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	e.done = true
	e.status = status
	e.mu.Unlock()

	// The run context may already be dead; final writes and events
	// still have to land.
	ctx = context.WithoutCancel(ctx)
	if err := e.store.UpdateRunStatus(ctx, e.run.ID, status, errMsg); err != nil {
		logger.Warn(ctx, "Failed to persist run status",
			tag.RunID(e.run.ID), tag.Status(status.String()), tag.Error(err))
	}
	payload := map[string]any{
		"run_id":      e.run.ID,
		"pipeline_id": e.run.PipelineID,
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	e.sink.Emit(ctx, eventForStatus(status), payload)
	logger.Info(ctx, "Pipeline run finished",
		tag.RunID(e.run.ID), tag.Pipeline(e.run.PipelineID), tag.Status(status.String()))
}

func (e *Executor) setStatus(status core.RunStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
}

func (e *Executor) setOutput(nodeID string, output map[string]any) {
	if output == nil {
		output = map[string]any{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outputs[nodeID] = output
}

// inputsFor collects the recorded outputs of the node's predecessors.
// Skipped predecessors have no entry.
func (e *Executor) inputsFor(graph *digraph.Graph, nodeID string) map[string]map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	inputs := make(map[string]map[string]any)
	for _, pred := range graph.Predecessors(nodeID) {
		if out, ok := e.outputs[pred]; ok {
			inputs[pred] = out
		}
	}
	return inputs
}

// conditionResult reads the boolean verdict of a condition node's
// output. Anything malformed counts as true so only an explicit false
// sweeps the downstream.
func conditionResult(output map[string]any) bool {
	result, ok := output["result"].(bool)
	if !ok {
		return true
	}
	return result
}

func eventForStatus(status core.RunStatus) string {
	switch status {
	case core.RunCompleted:
		return events.RunCompleted
	case core.RunCancelled:
		return events.RunCancelled
	case core.RunTimeout:
		return events.RunTimeout
	default:
		return events.RunFailed
	}
}

func flattenInputs(inputs map[string]map[string]any) map[string]any {
	if len(inputs) == 0 {
		return nil
	}
	flat := make(map[string]any, len(inputs))
	for id, out := range inputs {
		flat[id] = out
	}
	return flat
}
