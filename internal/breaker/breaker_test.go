package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Execute(func() error { return errBoom })
	}
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b := New("n1", 5, time.Minute)

	failN(b, 4)
	assert.Equal(t, gobreaker.StateClosed, b.State())

	// A success resets the consecutive failure count.
	require.NoError(t, b.Execute(func() error { return nil }))
	failN(b, 4)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := New("n1", 5, time.Minute)

	failN(b, 5)
	assert.Equal(t, gobreaker.StateOpen, b.State())

	invoked := false
	err := b.Execute(func() error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsOpen(err))
	assert.False(t, invoked, "open breaker must not invoke the handler")
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := New("n1", 2, 30*time.Millisecond)

	failN(b, 2)
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(50 * time.Millisecond)

	// One probe is permitted after the recovery timeout; success closes.
	err := b.Execute(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := New("n1", 2, 30*time.Millisecond)

	failN(b, 2)
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(50 * time.Millisecond)

	err := b.Execute(func() error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, gobreaker.StateOpen, b.State())
}

func TestIsOpenDistinguishesHandlerErrors(t *testing.T) {
	assert.False(t, IsOpen(errBoom))
	assert.False(t, IsOpen(nil))
	assert.True(t, IsOpen(gobreaker.ErrOpenState))
	assert.True(t, IsOpen(gobreaker.ErrTooManyRequests))
}

func TestSetCreatesPerNodeBreakers(t *testing.T) {
	s := NewSet(5, time.Minute)

	b1 := s.ForNode("a")
	b2 := s.ForNode("b")
	assert.NotSame(t, b1, b2)
	assert.Same(t, b1, s.ForNode("a"))
	assert.Equal(t, 2, s.Len())

	// Tripping one node's breaker leaves the other untouched.
	failN(b1, 5)
	assert.Equal(t, gobreaker.StateOpen, b1.State())
	assert.Equal(t, gobreaker.StateClosed, b2.State())
}

func TestSetConcurrentAccess(t *testing.T) {
	s := NewSet(5, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := s.ForNode("shared")
			_ = b.Execute(func() error { return nil })
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, s.Len())
}
