// Package breaker guards node executions with a per-node circuit
// breaker. Breakers live and die with a single pipeline run; state is
// never persisted or shared across runs.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/loomcloud/loom/internal/core"
)

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Breaker tracks consecutive failures of one node. It opens after the
// failure threshold is reached, rejects calls until the recovery
// timeout elapses, then permits a single probe.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a breaker named after the node it guards. Only retriable
// execution failures count against the threshold; configuration errors
// and cancellations are reliability noise, not signals.
func New(name string, threshold uint32, recovery time.Duration) *Breaker {
	if threshold == 0 {
		threshold = DefaultFailureThreshold
	}
	if recovery <= 0 {
		recovery = DefaultRecoveryTimeout
	}
	return &Breaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     recovery,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				if err == nil || core.IsConfigError(err) {
					return true
				}
				return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			},
		}),
	}
}

// Execute runs fn under the breaker. When the breaker is open the call
// is rejected without invoking fn; IsOpen distinguishes that rejection
// from fn's own error.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the breaker's internal counters.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// IsOpen reports whether err is a breaker rejection rather than a
// failure of the guarded call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Set owns the per-node breakers of a single run. Breakers are created
// lazily at a node's first attempt and discarded with the set.
type Set struct {
	threshold uint32
	recovery  time.Duration

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet creates an empty breaker set with the given thresholds.
func NewSet(threshold uint32, recovery time.Duration) *Set {
	return &Set{
		threshold: threshold,
		recovery:  recovery,
		breakers:  make(map[string]*Breaker),
	}
}

// ForNode returns the breaker for the given node, creating it on first
// use.
func (s *Set) ForNode(nodeID string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[nodeID]
	if !ok {
		b = New(nodeID, s.threshold, s.recovery)
		s.breakers[nodeID] = b
	}
	return b
}

// Len returns the number of breakers created so far.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.breakers)
}
