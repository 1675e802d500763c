package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_GrantsUpToCapacityImmediately(t *testing.T) {
	b := NewTokenBucket(5, 1000)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Acquire(ctx))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestTokenBucket_BlocksWhenDry(t *testing.T) {
	b := NewTokenBucket(1, 100) // one token every 10ms
	ctx := context.Background()

	require.NoError(t, b.Acquire(ctx))

	start := time.Now()
	require.NoError(t, b.Acquire(ctx))
	waited := time.Since(start)
	assert.GreaterOrEqual(t, waited, 5*time.Millisecond)
}

func TestTokenBucket_NeverExceedsCapacity(t *testing.T) {
	b := NewTokenBucket(2, 1000)
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, b.Tokens(), 2.0)
}

func TestTokenBucket_NeverGoesNegative(t *testing.T) {
	b := NewTokenBucket(1, 50)
	ctx := context.Background()

	require.NoError(t, b.Acquire(ctx))
	require.NoError(t, b.Acquire(ctx))
	assert.GreaterOrEqual(t, b.Tokens(), 0.0)
}

func TestTokenBucket_AcquireHonorsContext(t *testing.T) {
	b := NewTokenBucket(1, 0.001) // effectively never refills
	require.NoError(t, b.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
