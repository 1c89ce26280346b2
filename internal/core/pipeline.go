package core

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied to a pipeline definition when the stored form omits
// the corresponding field.
const (
	DefaultPipelineTimeout   = 3600 * time.Second
	DefaultMaxRetriesPerNode = 3
	DefaultRetryBackoffBase  = time.Second
	DefaultRetryBackoffMax   = 60 * time.Second
)

// NodeKind identifies the handler used to execute a pipeline node.
type NodeKind int

const (
	NodeKindUnknown NodeKind = iota
	NodeKindTrigger
	NodeKindAgent
	NodeKindCondition
	NodeKindAction
	NodeKindParallel
	NodeKindDelay
)

// String returns the canonical lowercase token used across APIs, logs,
// and the store.
func (k NodeKind) String() string {
	switch k {
	case NodeKindTrigger:
		return "trigger"
	case NodeKindAgent:
		return "agent"
	case NodeKindCondition:
		return "condition"
	case NodeKindAction:
		return "action"
	case NodeKindParallel:
		return "parallel"
	case NodeKindDelay:
		return "delay"
	default:
		return "unknown"
	}
}

// ParseNodeKind parses a node kind token.
func ParseNodeKind(s string) (NodeKind, error) {
	switch strings.ToLower(s) {
	case "trigger":
		return NodeKindTrigger, nil
	case "agent":
		return NodeKindAgent, nil
	case "condition":
		return NodeKindCondition, nil
	case "action":
		return NodeKindAction, nil
	case "parallel":
		return NodeKindParallel, nil
	case "delay":
		return NodeKindDelay, nil
	default:
		return NodeKindUnknown, fmt.Errorf("%w: %q", ErrUnknownNodeKind, s)
	}
}

// Node is a vertex of a pipeline with a kind-specific configuration.
type Node struct {
	ID     string         `json:"id"`
	Kind   NodeKind       `json:"kind"`
	Config map[string]any `json:"config,omitempty"`
}

// Edge is a directed dependency between two nodes. Condition is
// reserved for future per-edge gating and ignored by the executor.
type Edge struct {
	ID        string `json:"id,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// PipelineDefinition is the validated, immutable shape of a pipeline.
// It never changes for the duration of a run.
type PipelineDefinition struct {
	ID                string        `json:"id"`
	Nodes             []Node        `json:"nodes"`
	Edges             []Edge        `json:"edges"`
	Timeout           time.Duration `json:"timeout"`
	MaxRetriesPerNode int           `json:"maxRetriesPerNode"`
	RetryBackoffBase  time.Duration `json:"retryBackoffBase"`
	RetryBackoffMax   time.Duration `json:"retryBackoffMax"`
}

// NodesByID returns a lookup map over the definition's nodes.
func (d *PipelineDefinition) NodesByID() map[string]Node {
	m := make(map[string]Node, len(d.Nodes))
	for _, n := range d.Nodes {
		m[n.ID] = n
	}
	return m
}

// Node returns the node with the given id, if present.
func (d *PipelineDefinition) Node(id string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
