// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package supervisor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushhub/pushhub/internal/store"
	"github.com/pushhub/pushhub/internal/testlib"
	"github.com/pushhub/pushhub/model"
)

func TestPollBootstrapSupervisor(t *testing.T) {
	logger := testlib.MakeLogger(t)
	sqlStore := store.MakeTestSQLStore(t, logger)

	topics := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		topic := fmt.Sprintf("http://example.com/feed/%d", i)
		topics = append(topics, topic)
		require.NoError(t, sqlStore.CreateKnownFeed(topic))
	}

	supervisor := NewPollBootstrapSupervisor(sqlStore, logger)
	supervisor.chunkSize = 2

	countQueued := func() int {
		feeds, err := sqlStore.GetFeedPullCandidates(model.GetMillis()+1, 10)
		require.NoError(t, err)
		return len(feeds)
	}

	// First step queues a chunk and records the cursor.
	require.NoError(t, supervisor.Do())
	assert.Equal(t, 2, countQueued())

	marker, err := sqlStore.GetPollingMarker(time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, marker.CurrentKey)
	assert.Greater(t, marker.NextStart, model.GetMillis())

	// Second step queues the remainder.
	require.NoError(t, supervisor.Do())
	assert.Equal(t, 3, countQueued())

	// Third step finds nothing and completes the cycle.
	require.NoError(t, supervisor.Do())

	marker, err = sqlStore.GetPollingMarker(time.Now())
	require.NoError(t, err)
	assert.Empty(t, marker.CurrentKey)

	// With the next cycle still in the future, nothing more happens.
	require.NoError(t, supervisor.Do())

	marker, err = sqlStore.GetPollingMarker(time.Now())
	require.NoError(t, err)
	assert.Empty(t, marker.CurrentKey)
}
