// File: replay.go
//
// DPoP proof replay detection (spec.md §4.8, RFC 9449 §11.1): each proof's
// `jti` must be accepted at most once within its validity window. Structured
// as a ReplayStore interface with in-memory and Redis backends, mirroring
// the multi-backend TokenRepository split in
// pkg/gourdiantoken-master/gourdiantoken.repository.{inmemory,redis}.imp.go
// — narrowed here to the single atomic "claim once" operation DPoP needs.

package oidcguard

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayStore records DPoP proof jti values and reports whether a given jti
// has already been seen within its TTL. ClaimJTI must be atomic: concurrent
// callers racing on the same jti must see exactly one success.
type ReplayStore interface {
	// ClaimJTI attempts to record jti as seen for ttl. Returns true if this
	// call is the first to claim it (accept the proof), false if it was
	// already claimed (reject as a replay).
	ClaimJTI(ctx context.Context, jti string, ttl time.Duration) (bool, error)
	Close() error
}

// --- in-memory backend -----------------------------------------------------

// memoryReplayEntry is one tracked jti: its expiry plus its position in the
// insertion-order list used for oldest-first eviction on overflow.
type memoryReplayEntry struct {
	jti       string
	expiresAt time.Time
}

// MemoryReplayStore is a single-process ReplayStore backed by a mutex-guarded
// map of jti to (insertion order, timestamp) — spec.md §3's "Map of jti to
// (insertion order, timestamp)" — with a background sweep, grounded on
// MemoryTokenRepository's structure in gourdiantoken.repository.inmemory.imp.go.
// Insertion order is tracked via container/list so a capacity overflow can
// evict the oldest entry instead of rejecting a brand-new, never-before-seen
// jti (spec.md §4.10).
type MemoryReplayStore struct {
	mu       sync.Mutex
	entries  map[string]*list.Element // jti -> element in order, Value is *memoryReplayEntry
	order    *list.List               // front = oldest insertion
	maxSize  int
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryReplayStore starts a replay store with a background sweep running
// every interval. maxSize bounds total tracked entries; once reached, the
// oldest entry by insertion order is evicted to make room for a fresh claim
// (spec.md §4.10 "the replay window is a bounded resource").
func NewMemoryReplayStore(sweepInterval time.Duration, maxSize int) *MemoryReplayStore {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	s := &MemoryReplayStore{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

func (s *MemoryReplayStore) ClaimJTI(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[jti]; ok {
		entry := elem.Value.(*memoryReplayEntry)
		if now.Before(entry.expiresAt) {
			return false, nil
		}
		// expired entry for a reused jti: drop it and treat as a fresh claim
		s.order.Remove(elem)
		delete(s.entries, jti)
	} else if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldestLocked()
	}

	elem := s.order.PushBack(&memoryReplayEntry{jti: jti, expiresAt: now.Add(ttl)})
	s.entries[jti] = elem
	return true, nil
}

// evictOldestLocked drops the single oldest entry by insertion order. Callers
// must hold s.mu.
func (s *MemoryReplayStore) evictOldestLocked() {
	oldest := s.order.Front()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*memoryReplayEntry)
	s.order.Remove(oldest)
	delete(s.entries, entry.jti)
}

func (s *MemoryReplayStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

func (s *MemoryReplayStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for elem := s.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*memoryReplayEntry)
		if now.After(entry.expiresAt) {
			s.order.Remove(elem)
			delete(s.entries, entry.jti)
		}
		elem = next
	}
}

func (s *MemoryReplayStore) Close() error {
	s.stopOnce.Do(func() { close(s.done) })
	return nil
}

// --- Redis backend ----------------------------------------------------------

const replayKeyPrefix = "oidcguard:dpop:jti:"

// RedisReplayStore is a ReplayStore backed by Redis SETNX, grounded on
// RedisTokenRepository.MarkTokenRotatedAtomic in
// gourdiantoken.repository.redis.imp.go — the same "SETNX + EXPIRE gives
// exactly-once claim semantics across instances" pattern, applied to DPoP
// jti instead of refresh-token rotation markers.
type RedisReplayStore struct {
	client *redis.Client
}

func NewRedisReplayStore(client *redis.Client) (*RedisReplayStore, error) {
	if client == nil {
		return nil, fmt.Errorf("replay store: redis client cannot be nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("replay store: redis connection failed: %w", err)
	}
	return &RedisReplayStore{client: client}, nil
}

func (s *RedisReplayStore) ClaimJTI(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if jti == "" {
		return false, fmt.Errorf("replay store: jti cannot be empty")
	}
	if ttl <= 0 {
		ttl = 100 * time.Millisecond
	}
	ok, err := s.client.SetNX(ctx, replayKeyPrefix+jti, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay store: redis error: %w", err)
	}
	return ok, nil
}

func (s *RedisReplayStore) Close() error {
	return s.client.Close()
}
