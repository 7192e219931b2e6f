package store

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingCleaner struct {
	calls atomic.Int32
}

func (c *countingCleaner) CleanupExpired(ctx context.Context) (int64, error) {
	c.calls.Add(1)
	return 1, nil
}

func TestStartCleanupRoutine(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	c := &countingCleaner{}
	assert.True(t, StartCleanupRoutine(ctx, c, 5*time.Millisecond))
	assert.Eventually(t, func() bool { return c.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestStartCleanupRoutineSkipsSelfExpiringStores(t *testing.T) {
	assert.False(t, StartCleanupRoutine(t.Context(), NewMemoryStore(), time.Millisecond))
}
