package core

import (
	"fmt"
	"strings"
	"time"
)

// RunStatus represents the canonical lifecycle phases for a pipeline run.
type RunStatus int

const (
	RunPending RunStatus = iota
	RunRunning
	RunCompleted
	RunFailed
	RunCancelled
	RunTimeout
)

// String returns the canonical lowercase token used across APIs, logs,
// and the store.
func (s RunStatus) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	case RunCancelled:
		return "cancelled"
	case RunTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// IsTerminal checks if the status is a write-once terminal phase.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunTimeout:
		return true
	default:
		return false
	}
}

// ParseRunStatus parses a run status token.
func ParseRunStatus(s string) (RunStatus, error) {
	switch strings.ToLower(s) {
	case "pending":
		return RunPending, nil
	case "running":
		return RunRunning, nil
	case "completed":
		return RunCompleted, nil
	case "failed":
		return RunFailed, nil
	case "cancelled":
		return RunCancelled, nil
	case "timeout":
		return RunTimeout, nil
	default:
		return RunPending, fmt.Errorf("invalid run status: %q", s)
	}
}

// NodeStatus represents the canonical lifecycle phases for one node
// within a run.
type NodeStatus int

const (
	NodePending NodeStatus = iota
	NodeRunning
	NodeCompleted
	NodeFailed
	NodeSkipped
	NodeCancelled
)

// String returns the canonical lowercase token for the node phase.
func (s NodeStatus) String() string {
	switch s {
	case NodePending:
		return "pending"
	case NodeRunning:
		return "running"
	case NodeCompleted:
		return "completed"
	case NodeFailed:
		return "failed"
	case NodeSkipped:
		return "skipped"
	case NodeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal checks if the node status is terminal.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeSkipped, NodeCancelled:
		return true
	default:
		return false
	}
}

// ParseNodeStatus parses a node status token.
func ParseNodeStatus(s string) (NodeStatus, error) {
	switch strings.ToLower(s) {
	case "pending":
		return NodePending, nil
	case "running":
		return NodeRunning, nil
	case "completed":
		return NodeCompleted, nil
	case "failed":
		return NodeFailed, nil
	case "skipped":
		return NodeSkipped, nil
	case "cancelled":
		return NodeCancelled, nil
	default:
		return NodePending, fmt.Errorf("invalid node status: %q", s)
	}
}

// PipelineRun is one execution instance of a pipeline. Terminal states
// are write-once; the executor transitions pending → running → terminal.
type PipelineRun struct {
	ID          string         `json:"id"`
	PipelineID  string         `json:"pipelineId"`
	Status      RunStatus      `json:"status"`
	TriggerData map[string]any `json:"triggerData,omitempty"`
	CurrentNode string         `json:"currentNode,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// NodeRun is the attempt-series for one node in one run. Retries
// increment RetryCount within the same NodeRun.
type NodeRun struct {
	RunID         string         `json:"runId"`
	NodeID        string         `json:"nodeId"`
	Kind          NodeKind       `json:"kind"`
	Status        NodeStatus     `json:"status"`
	InputSummary  map[string]any `json:"inputSummary,omitempty"`
	OutputSummary map[string]any `json:"outputSummary,omitempty"`
	Error         string         `json:"error,omitempty"`
	RetryCount    int            `json:"retryCount"`
	StartedAt     time.Time      `json:"startedAt"`
	CompletedAt   time.Time      `json:"completedAt,omitempty"`
	DurationMS    int64          `json:"durationMs"`
}
