package core

import (
	"errors"
	"fmt"
	"strings"
)

// errors on validating a pipeline definition.
var (
	ErrEmptyPipeline      = errors.New("pipeline must contain at least one node")
	ErrUnknownNodeKind    = errors.New("unknown node kind")
	ErrUnknownEdgeSource  = errors.New("edge references unknown source node")
	ErrUnknownEdgeTarget  = errors.New("edge references unknown target node")
	ErrCycleDetected      = errors.New("pipeline contains a cycle")
	ErrDuplicateNodeID    = errors.New("node id must be unique")
	ErrNodeIDRequired     = errors.New("node id must be specified")
	ErrNestedPipeline     = errors.New("nested pipeline execution is not allowed")
	ErrInvalidCondition   = errors.New("condition must be true, false, or input.<key>")
	ErrInvalidDelay       = errors.New("delay seconds must be a non-negative number")
	ErrInvalidActionType  = errors.New("invalid action type")
	ErrAgentIDRequired    = errors.New("agent_id must be specified")
	ErrTaskRequired       = errors.New("task must be specified")
	ErrPipelineIDRequired = errors.New("pipeline_id must be specified")
)

// errors on validating a scheduled action.
var (
	ErrUnknownActionKind = errors.New("unknown action kind")
	ErrGoalRequired      = errors.New("goal must be specified")
)

// signals raised by the run lifecycle.
var (
	ErrRunCancelled = errors.New("run cancelled")
	ErrRunTimeout   = errors.New("run timed out")
)

// lookup failures surfaced by the store.
var (
	ErrRunNotFound      = errors.New("run not found")
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrActionNotFound   = errors.New("scheduled action not found")
)

// NodeConfigError reports a node whose configuration is malformed for
// its kind. It is a configuration bug, never retried and never recorded
// on the circuit breaker.
type NodeConfigError struct {
	Node string
	Err  error
}

func (e *NodeConfigError) Error() string {
	return fmt.Sprintf("node %q: invalid config: %v", e.Node, e.Err)
}

func (e *NodeConfigError) Unwrap() error {
	return e.Err
}

// NewNodeConfigError wraps an error with the offending node's id.
func NewNodeConfigError(node string, err error) error {
	return &NodeConfigError{Node: node, Err: err}
}

// ExecutionError reports a node handler that failed at runtime in a way
// that may succeed on retry (network, tool, LLM).
type ExecutionError struct {
	Node string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %q: execution failed: %v", e.Node, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError wraps an error with the failing node's id.
func NewExecutionError(node string, err error) error {
	return &ExecutionError{Node: node, Err: err}
}

// ActionConfigError reports a scheduled action whose configuration is
// malformed for its kind. It is never retried.
type ActionConfigError struct {
	Action int64
	Err    error
}

func (e *ActionConfigError) Error() string {
	return fmt.Sprintf("action %d: invalid config: %v", e.Action, e.Err)
}

func (e *ActionConfigError) Unwrap() error {
	return e.Err
}

// NewActionConfigError wraps an error with the offending action's id.
func NewActionConfigError(action int64, err error) error {
	return &ActionConfigError{Action: action, Err: err}
}

// ActionExecutionError reports an action handler that failed at runtime
// in a way that may succeed on retry.
type ActionExecutionError struct {
	Action int64
	Err    error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %d: execution failed: %v", e.Action, e.Err)
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Err
}

// NewActionExecutionError wraps an error with the failing action's id.
func NewActionExecutionError(action int64, err error) error {
	return &ActionExecutionError{Action: action, Err: err}
}

// CoordinationError reports a failed advisory-lock acquisition or
// deduplication query. Callers fail closed: treat it as "someone else
// owns the resource" and skip.
type CoordinationError struct {
	Op  string
	Err error
}

func (e *CoordinationError) Error() string {
	return fmt.Sprintf("coordination failed during %s: %v", e.Op, e.Err)
}

func (e *CoordinationError) Unwrap() error {
	return e.Err
}

// InfrastructureError reports an unavailable store, sink, or capability.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure during %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// IsConfigError checks whether the error chain contains a node or
// action configuration error.
func IsConfigError(err error) bool {
	var n *NodeConfigError
	if errors.As(err, &n) {
		return true
	}
	var a *ActionConfigError
	return errors.As(err, &a)
}

// IsExecutionError checks whether the error chain contains a retriable
// execution error.
func IsExecutionError(err error) bool {
	var n *ExecutionError
	if errors.As(err, &n) {
		return true
	}
	var a *ActionExecutionError
	return errors.As(err, &a)
}

// ErrorList is just a list of errors. It is used to collect multiple
// errors in validating a pipeline definition.
type ErrorList []error

// ToStringList returns the list of errors as a slice of strings.
func (e *ErrorList) ToStringList() []string {
	errStrings := make([]string, len(*e))
	for i, err := range *e {
		errStrings[i] = err.Error()
	}
	return errStrings
}

// Error implements the error interface.
// It returns a string with all the errors separated by a semicolon.
func (e ErrorList) Error() string {
	errStrings := make([]string, len(e))
	for i, err := range e {
		errStrings[i] = err.Error()
	}
	return strings.Join(errStrings, "; ")
}

// Unwrap implements the errors.Unwrap interface.
func (e ErrorList) Unwrap() []error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// ValidationError represents an error in a specific field of a
// definition.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("field '%s': %v", e.Field, e.Err)
	}
	return fmt.Sprintf("field '%s': %v (value: %+v)", e.Field, e.Err, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError wraps an error with field context.
func NewValidationError(field string, value any, err error) error {
	return &ValidationError{
		Field: field,
		Value: value,
		Err:   err,
	}
}
