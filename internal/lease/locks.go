// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package lease

import (
	"time"

	"github.com/maypok86/otter"
	"github.com/pkg/errors"
)

// Locks is an in-memory advisory lock table with per-lock expiry. Locks are
// best effort: losing one only means another worker may pick up the same item,
// and every mutation made by workers is safe to repeat.
type Locks struct {
	cache otter.CacheWithVariableTTL[string, string]
}

// NewLocks creates a lock table able to hold up to capacity concurrent locks.
func NewLocks(capacity int) (*Locks, error) {
	cache, err := otter.MustBuilder[string, string](capacity).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build lock cache")
	}

	return &Locks{cache: cache}, nil
}

// TryAcquire attempts to take every given lock for the owner, returning the
// set of keys that were already held by someone else.
func (l *Locks) TryAcquire(owner string, keys []string, ttl time.Duration) map[string]bool {
	failed := make(map[string]bool)
	for _, key := range keys {
		if !l.cache.SetIfAbsent(key, owner, ttl) {
			failed[key] = true
		}
	}

	return failed
}

// Release drops the given locks regardless of owner.
func (l *Locks) Release(keys ...string) {
	for _, key := range keys {
		l.cache.Delete(key)
	}
}

// Held reports whether the given lock is currently held.
func (l *Locks) Held(key string) bool {
	_, ok := l.cache.Get(key)
	return ok
}

// Close releases the resources backing the lock table.
func (l *Locks) Close() {
	l.cache.Close()
}
