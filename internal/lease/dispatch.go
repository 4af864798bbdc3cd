// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package lease

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/pushhub/pushhub/model"
)

const (
	// defaultSampleRatio scales how many work candidates to fetch per unit of
	// work requested.
	defaultSampleRatio = 20
	// defaultLockRatio scales how many of the fetched candidates to attempt
	// to lock per unit of work requested.
	defaultLockRatio = 4
)

// Item is a unit of leasable work.
type Item interface {
	LockKey() string
}

// Options tunes a QueryAndOwn call.
type Options struct {
	// WorkCount is the maximum number of items to own.
	WorkCount int
	// SampleRatio overrides defaultSampleRatio when positive.
	SampleRatio int
	// LockRatio overrides defaultLockRatio when positive.
	LockRatio int
	// LeasePeriod overrides model.LeasePeriod when positive.
	LeasePeriod time.Duration
}

// QueryAndOwn fetches a sample of eligible work through fetch, then claims a
// randomly chosen subset by taking advisory locks, so concurrent workers
// polling the same backlog mostly end up owning disjoint items. The returned
// items' locks belong to the caller, who releases them as each item finishes;
// unfinished items simply reappear once the lease expires.
func QueryAndOwn[T Item](locks *Locks, owner string, opts Options, fetch func(limit int) ([]T, error)) ([]T, error) {
	sampleRatio := opts.SampleRatio
	if sampleRatio <= 0 {
		sampleRatio = defaultSampleRatio
	}
	lockRatio := opts.LockRatio
	if lockRatio <= 0 {
		lockRatio = defaultLockRatio
	}
	leasePeriod := opts.LeasePeriod
	if leasePeriod <= 0 {
		leasePeriod = model.LeasePeriod
	}

	sample, err := fetch(opts.WorkCount * sampleRatio)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch work sample")
	}

	// Shuffle a copy; the fetched slice belongs to the caller.
	candidates := make([]T, len(sample))
	copy(candidates, sample)
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	if max := opts.WorkCount * lockRatio; len(candidates) > max {
		candidates = candidates[:max]
	}

	keys := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		keys = append(keys, candidate.LockKey())
	}

	failed := locks.TryAcquire(owner, keys, leasePeriod)

	owned := make([]T, 0, len(candidates))
	for _, candidate := range candidates {
		if !failed[candidate.LockKey()] {
			owned = append(owned, candidate)
		}
	}

	// Locked more than we can work on; let the surplus go again.
	if len(owned) > opts.WorkCount {
		for _, surplus := range owned[opts.WorkCount:] {
			locks.Release(surplus.LockKey())
		}
		owned = owned[:opts.WorkCount]
	}

	return owned, nil
}
