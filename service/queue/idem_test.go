package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemIdemSeenAfterRemember(t *testing.T) {
	ctx := context.Background()
	store := NewMemIdem(time.Minute)

	seen, err := store.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Remember(ctx, "k1", 0))
	seen, err = store.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemIdemExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemIdem(time.Minute)

	require.NoError(t, store.Remember(ctx, "k1", time.Nanosecond))
	time.Sleep(time.Millisecond)

	seen, err := store.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, seen, "an expired key reads as unseen")
}

func TestMemIdemWriteSweepBoundsTable(t *testing.T) {
	ctx := context.Background()
	store := NewMemIdem(time.Minute)
	mi := store.(*memIdem)

	for i := 0; i < 2*memIdemSweepAt; i++ {
		require.NoError(t, store.Remember(ctx, fmt.Sprintf("k%d", i), time.Nanosecond))
	}

	mi.mu.Lock()
	size := len(mi.m)
	mi.mu.Unlock()
	assert.LessOrEqual(t, size, memIdemSweepAt+1, "expired entries are evicted on write")
}
