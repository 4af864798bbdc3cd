// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package lease

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	id string
}

func (i *testItem) LockKey() string {
	return "test/" + i.id
}

func makeItems(n int) []*testItem {
	items := make([]*testItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, &testItem{id: fmt.Sprintf("item-%d", i)})
	}
	return items
}

func TestLocks(t *testing.T) {
	locks, err := NewLocks(100)
	require.NoError(t, err)
	defer locks.Close()

	keys := []string{"a", "b", "c"}

	failed := locks.TryAcquire("owner-1", keys, time.Minute)
	require.Empty(t, failed)
	require.True(t, locks.Held("a"))

	t.Run("held locks cannot be reacquired", func(t *testing.T) {
		failed = locks.TryAcquire("owner-2", []string{"a", "d"}, time.Minute)
		assert.Equal(t, map[string]bool{"a": true}, failed)
		assert.True(t, locks.Held("d"))
	})

	t.Run("released locks can be reacquired", func(t *testing.T) {
		locks.Release("a", "b")

		failed = locks.TryAcquire("owner-2", []string{"a", "b"}, time.Minute)
		assert.Empty(t, failed)
	})
}

func TestQueryAndOwn(t *testing.T) {
	t.Run("owns at most work count", func(t *testing.T) {
		locks, err := NewLocks(100)
		require.NoError(t, err)
		defer locks.Close()

		items := makeItems(20)
		owned, err := QueryAndOwn(locks, "owner", Options{WorkCount: 3}, func(limit int) ([]*testItem, error) {
			assert.Equal(t, 60, limit)
			return items, nil
		})
		require.NoError(t, err)
		require.Len(t, owned, 3)

		// Only the owned items stay locked.
		held := 0
		for _, item := range items {
			if locks.Held(item.LockKey()) {
				held++
			}
		}
		assert.Equal(t, 3, held)
	})

	t.Run("skips already locked items", func(t *testing.T) {
		locks, err := NewLocks(100)
		require.NoError(t, err)
		defer locks.Close()

		items := makeItems(4)
		locks.TryAcquire("other", []string{items[0].LockKey(), items[2].LockKey()}, time.Minute)

		owned, err := QueryAndOwn(locks, "owner", Options{WorkCount: 4}, func(limit int) ([]*testItem, error) {
			return items, nil
		})
		require.NoError(t, err)
		require.Len(t, owned, 2)
		for _, item := range owned {
			assert.NotEqual(t, items[0].id, item.id)
			assert.NotEqual(t, items[2].id, item.id)
		}
	})

	t.Run("leaves the fetched slice untouched", func(t *testing.T) {
		locks, err := NewLocks(100)
		require.NoError(t, err)
		defer locks.Close()

		items := makeItems(12)
		_, err = QueryAndOwn(locks, "owner", Options{WorkCount: 2}, func(limit int) ([]*testItem, error) {
			return items, nil
		})
		require.NoError(t, err)

		// Sampling must not reorder the slice the fetch returned.
		for i, item := range items {
			assert.Equal(t, fmt.Sprintf("item-%d", i), item.id)
		}
	})

	t.Run("concurrent owners claim disjoint work", func(t *testing.T) {
		locks, err := NewLocks(100)
		require.NoError(t, err)
		defer locks.Close()

		items := makeItems(8)
		fetch := func(limit int) ([]*testItem, error) {
			return append([]*testItem{}, items...), nil
		}

		first, err := QueryAndOwn(locks, "owner-1", Options{WorkCount: 4}, fetch)
		require.NoError(t, err)
		second, err := QueryAndOwn(locks, "owner-2", Options{WorkCount: 4}, fetch)
		require.NoError(t, err)

		seen := map[string]bool{}
		for _, item := range append(first, second...) {
			require.False(t, seen[item.id], "item %s claimed twice", item.id)
			seen[item.id] = true
		}
	})

	t.Run("fetch error propagates", func(t *testing.T) {
		locks, err := NewLocks(100)
		require.NoError(t, err)
		defer locks.Close()

		_, err = QueryAndOwn(locks, "owner", Options{WorkCount: 1}, func(limit int) ([]*testItem, error) {
			return nil, fmt.Errorf("boom")
		})
		require.Error(t, err)
	})

	t.Run("empty backlog", func(t *testing.T) {
		locks, err := NewLocks(100)
		require.NoError(t, err)
		defer locks.Close()

		owned, err := QueryAndOwn(locks, "owner", Options{WorkCount: 5}, func(limit int) ([]*testItem, error) {
			return nil, nil
		})
		require.NoError(t, err)
		require.Empty(t, owned)
	})
}
