// File: replay_test.go

package oidcguard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryReplayStore_ClaimOnceSemantics(t *testing.T) {
	store := NewMemoryReplayStore(time.Hour, 0)
	defer store.Close()

	first, err := store.ClaimJTI(context.Background(), "jti-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.ClaimJTI(context.Background(), "jti-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestMemoryReplayStore_CapacityBound(t *testing.T) {
	store := NewMemoryReplayStore(time.Hour, 1)
	defer store.Close()

	ok, err := store.ClaimJTI(context.Background(), "jti-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// A brand-new, never-before-seen jti must still be accepted at capacity:
	// the store evicts the oldest entry rather than rejecting the claim.
	ok, err = store.ClaimJTI(context.Background(), "jti-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// jti-a was evicted to make room, so it can be claimed again immediately.
	ok, err = store.ClaimJTI(context.Background(), "jti-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "evicted jti must be reclaimable")
}

func TestMemoryReplayStore_EvictsOldestFirst(t *testing.T) {
	store := NewMemoryReplayStore(time.Hour, 2)
	defer store.Close()

	for _, jti := range []string{"jti-1", "jti-2"} {
		ok, err := store.ClaimJTI(context.Background(), jti, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// jti-3 pushes the store over capacity; jti-1 (oldest) must be evicted,
	// not jti-2.
	ok, err := store.ClaimJTI(context.Background(), "jti-3", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Check jti-2 first: reclaiming jti-1 below is itself a claim at
	// capacity and would evict jti-2 as the then-oldest entry.
	ok, err = store.ClaimJTI(context.Background(), "jti-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "jti-2 should still be tracked, not evicted")

	ok, err = store.ClaimJTI(context.Background(), "jti-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "oldest entry should have been evicted and be reclaimable")
}

func TestMemoryReplayStore_SweepExpiresEntries(t *testing.T) {
	store := NewMemoryReplayStore(time.Hour, 0)
	defer store.Close()

	ok, err := store.ClaimJTI(context.Background(), "jti-expiring", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	store.sweep()

	store.mu.Lock()
	_, present := store.entries["jti-expiring"]
	store.mu.Unlock()
	assert.False(t, present)

	reclaimed, err := store.ClaimJTI(context.Background(), "jti-expiring", time.Minute)
	require.NoError(t, err)
	assert.True(t, reclaimed)
}

func TestMemoryReplayStore_ExpiredEntryCanBeReclaimedWithoutSweep(t *testing.T) {
	store := NewMemoryReplayStore(time.Hour, 0)
	defer store.Close()

	ok, err := store.ClaimJTI(context.Background(), "jti-reuse", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = store.ClaimJTI(context.Background(), "jti-reuse", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
