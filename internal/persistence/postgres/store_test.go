package postgres

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashLockKeyDeterministic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, hashLockKey(1, math.MaxInt32+1), hashLockKey(1, math.MaxInt32+1))
	assert.NotEqual(t, hashLockKey(1, math.MaxInt32+1), hashLockKey(2, math.MaxInt32+1))
	assert.NotEqual(t, hashLockKey(1, math.MaxInt32+1), hashLockKey(1, math.MaxInt32+2))
}
