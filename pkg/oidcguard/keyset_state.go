// File: keyset_state.go

package oidcguard

import (
	"sync/atomic"
	"time"
)

// retiredKeyset is a superseded JWKSet tagged with its retirement time
// (spec.md §3 "JWKS state"). Lookups against it only succeed within grace.
type retiredKeyset struct {
	set        *JWKSet
	retiredAt  time.Time
}

// keysetState is the "current keyset + retired deque" pair of spec.md §3,
// §9 "Atomic keyset rotation" — readers see either the old generation or the
// new one, never a torn mix, via a single atomic.Pointer swap.
type keysetState struct {
	current *JWKSet
	retired []retiredKeyset // newest first
}

// keysetCell is a lock-free holder for keysetState; rotate replaces it with
// a single atomic store (no compare-and-swap), so it assumes one rotating
// writer at a time.
type keysetCell struct {
	ptr atomic.Pointer[keysetState]
}

func newKeysetCell() *keysetCell {
	c := &keysetCell{}
	c.ptr.Store(&keysetState{})
	return c
}

func (c *keysetCell) load() *keysetState {
	return c.ptr.Load()
}

// rotate installs newSet as current, pushing the prior current onto the
// retired deque (if one existed and differs), pruning entries older than
// grace, and truncating to maxRetired. Returns whether anything changed.
func (c *keysetCell) rotate(newSet *JWKSet, now time.Time, grace time.Duration, maxRetired int) bool {
	prev := c.load()
	if prev.current != nil && prev.current.Equal(newSet) {
		return false
	}

	next := &keysetState{current: newSet}
	if prev.current != nil {
		next.retired = append([]retiredKeyset{{set: prev.current, retiredAt: now}}, prev.retired...)
	} else {
		next.retired = append([]retiredKeyset{}, prev.retired...)
	}

	pruned := next.retired[:0:0]
	for _, r := range next.retired {
		if now.Sub(r.retiredAt) <= grace {
			pruned = append(pruned, r)
		}
	}
	if len(pruned) > maxRetired {
		pruned = pruned[:maxRetired]
	}
	next.retired = pruned

	c.ptr.Store(next)
	return true
}

// getKey consults current, then retired entries within grace, in order —
// spec.md §4.5.1 "get_key(kid) consults current, then retired entries newer
// than now - grace_period. Returns the first match."
func (c *keysetCell) getKey(kid string, now time.Time, grace time.Duration) (*JWK, bool) {
	state := c.load()
	if state.current != nil {
		if k, ok := state.current.Get(kid); ok {
			return k, true
		}
	}
	for _, r := range state.retired {
		if now.Sub(r.retiredAt) > grace {
			continue
		}
		if k, ok := r.set.Get(kid); ok {
			return k, true
		}
	}
	return nil, false
}
