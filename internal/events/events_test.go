package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSink collects events for assertions.
type recordSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordSink) Emit(_ context.Context, name string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *recordSink) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestMultiFansOut(t *testing.T) {
	a := &recordSink{}
	b := &recordSink{}
	sink := Multi{a, b}

	sink.Emit(context.Background(), RunStarted, map[string]any{"run_id": "r1"})
	sink.Emit(context.Background(), NodeCompleted, nil)

	require.Equal(t, []string{RunStarted, NodeCompleted}, a.names())
	assert.Equal(t, a.names(), b.names())
}

func TestNopIsSilent(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop{}.Emit(context.Background(), RunFailed, nil)
	})
}

func TestEventNameDomains(t *testing.T) {
	runEvents := []string{RunStarted, RunCompleted, RunFailed, RunCancelled, RunTimeout}
	nodeEvents := []string{NodeStarted, NodeCompleted, NodeFailed, NodeSkipped, NodeRetrying}

	seen := make(map[string]bool)
	for _, name := range append(runEvents, nodeEvents...) {
		assert.False(t, seen[name], "duplicate event name %s", name)
		seen[name] = true
	}
	assert.Len(t, seen, 10)
}
