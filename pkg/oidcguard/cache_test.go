// File: cache_test.go

package oidcguard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopRecheck(*AccessTokenContent) *ValidationError { return nil }

func TestAccessTokenCache_CoalescesConcurrentBuilds(t *testing.T) {
	cache, err := newAccessTokenCache(DefaultCacheConfig())
	require.NoError(t, err)

	var builds atomic.Int64
	build := func(ctx context.Context) (*AccessTokenContent, *ValidationError) {
		builds.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &AccessTokenContent{Subject: "user-1", Expiration: time.Now().Add(time.Hour)}, nil
	}

	var wg sync.WaitGroup
	results := make([]*AccessTokenContent, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			content, verr := cache.getOrBuild(context.Background(), "same-raw-token", noopRecheck, build)
			require.Nil(t, verr)
			results[idx] = content
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), builds.Load())
	for _, r := range results {
		assert.Equal(t, "user-1", r.Subject)
	}
}

func TestAccessTokenCache_MissRunsBuildHitDoesNot(t *testing.T) {
	cache, err := newAccessTokenCache(DefaultCacheConfig())
	require.NoError(t, err)

	var builds atomic.Int64
	build := func(ctx context.Context) (*AccessTokenContent, *ValidationError) {
		builds.Add(1)
		return &AccessTokenContent{Subject: "user-2", Expiration: time.Now().Add(time.Hour)}, nil
	}

	_, verr := cache.getOrBuild(context.Background(), "tok-a", noopRecheck, build)
	require.Nil(t, verr)
	_, verr = cache.getOrBuild(context.Background(), "tok-a", noopRecheck, build)
	require.Nil(t, verr)

	assert.Equal(t, int64(1), builds.Load())
	assert.Equal(t, 1, cache.len())
}

func TestAccessTokenCache_ExpiredEntryRebuilds(t *testing.T) {
	cache, err := newAccessTokenCache(DefaultCacheConfig())
	require.NoError(t, err)

	var builds atomic.Int64
	build := func(ctx context.Context) (*AccessTokenContent, *ValidationError) {
		builds.Add(1)
		return &AccessTokenContent{Subject: "user-3", Expiration: time.Now().Add(-time.Second)}, nil
	}

	_, verr := cache.getOrBuild(context.Background(), "tok-b", noopRecheck, build)
	require.Nil(t, verr)
	_, verr = cache.getOrBuild(context.Background(), "tok-b", noopRecheck, build)
	require.Nil(t, verr)

	assert.Equal(t, int64(2), builds.Load())
}

func TestAccessTokenCache_DPoPRecheckCanRejectAHit(t *testing.T) {
	cache, err := newAccessTokenCache(DefaultCacheConfig())
	require.NoError(t, err)

	build := func(ctx context.Context) (*AccessTokenContent, *ValidationError) {
		return &AccessTokenContent{Subject: "user-4", Expiration: time.Now().Add(time.Hour)}, nil
	}
	_, verr := cache.getOrBuild(context.Background(), "tok-c", noopRecheck, build)
	require.Nil(t, verr)

	rejecting := func(content *AccessTokenContent) *ValidationError {
		return newError(CodeDpopProofInvalid, "forced rejection for test")
	}
	_, verr = cache.getOrBuild(context.Background(), "tok-c", rejecting, build)
	require.NotNil(t, verr)
	assert.Equal(t, CodeDpopProofInvalid, verr.Code)
}

func TestAccessTokenCache_BuildFailureIsNotCached(t *testing.T) {
	cache, err := newAccessTokenCache(DefaultCacheConfig())
	require.NoError(t, err)

	var builds atomic.Int64
	failThenSucceed := func(ctx context.Context) (*AccessTokenContent, *ValidationError) {
		n := builds.Add(1)
		if n == 1 {
			return nil, newError(CodeBadSignature, "forced failure")
		}
		return &AccessTokenContent{Subject: "user-5", Expiration: time.Now().Add(time.Hour)}, nil
	}

	_, verr := cache.getOrBuild(context.Background(), "tok-d", noopRecheck, failThenSucceed)
	require.NotNil(t, verr)

	content, verr := cache.getOrBuild(context.Background(), "tok-d", noopRecheck, failThenSucceed)
	require.Nil(t, verr)
	assert.Equal(t, "user-5", content.Subject)
	assert.Equal(t, int64(2), builds.Load())
}
