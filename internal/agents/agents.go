// Package agents defines the port to the agent registry. The registry
// is supplied by an external subsystem; the orchestration core only
// resolves handles and hands work to them.
package agents

import "context"

// Handle is a live agent that can process work.
type Handle interface {
	// ProcessAsync hands the agent a prompt and returns its response.
	ProcessAsync(ctx context.Context, prompt string) (string, error)
}

// Registry resolves agent ids to live handles and creates background
// tasks against an agent.
type Registry interface {
	// Get returns the handle for the given agent id.
	Get(ctx context.Context, agentID string) (Handle, error)

	// CreateTask creates a background task with the given goal for the
	// agent to pursue.
	CreateTask(ctx context.Context, agentID, goal string) error
}
