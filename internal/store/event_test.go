// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushhub/pushhub/internal/testlib"
	"github.com/pushhub/pushhub/model"
)

func TestEventsToDeliver(t *testing.T) {
	logger := testlib.MakeLogger(t)
	sqlStore := MakeTestSQLStore(t, logger)

	topic := "http://example.com/feed"
	event, err := model.NewEventForTopic(topic, model.FeedFormatAtom, "<feed></feed>", []string{"<entry/>"}, time.Now())
	require.NoError(t, err)

	require.NoError(t, sqlStore.CreateEventToDeliver(event))

	t.Run("get", func(t *testing.T) {
		saved, err := sqlStore.GetEventToDeliver(event.ID)
		require.NoError(t, err)
		require.NotNil(t, saved)
		assert.Equal(t, event.Payload, saved.Payload)
		assert.Equal(t, model.EventDeliveryModeNormal, saved.DeliveryMode)
		assert.Empty(t, saved.FailedCallbacks)
	})

	t.Run("unknown event", func(t *testing.T) {
		saved, err := sqlStore.GetEventToDeliver("unknown")
		require.NoError(t, err)
		require.Nil(t, saved)
	})

	t.Run("candidates are due events", func(t *testing.T) {
		events, err := sqlStore.GetEventPushCandidates(model.GetMillis()+1, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, event.ID, events[0].ID)
	})

	t.Run("update moves the event out of the work window", func(t *testing.T) {
		event.LastCallback = "http://example.com/callback"
		event.FailedCallbacks = model.StringList{"http://example.com/failed"}
		event.DeliveryAttemptDone(time.Now())
		require.NoError(t, sqlStore.UpdateEventToDeliver(event))

		events, err := sqlStore.GetEventPushCandidates(model.GetMillis()+1, 10)
		require.NoError(t, err)
		require.Empty(t, events)

		saved, err := sqlStore.GetEventToDeliver(event.ID)
		require.NoError(t, err)
		assert.Equal(t, model.EventDeliveryModeRetry, saved.DeliveryMode)
		assert.Equal(t, model.StringList{"http://example.com/failed"}, saved.FailedCallbacks)
		assert.Empty(t, saved.LastCallback)
	})

	t.Run("totally failed events are skipped", func(t *testing.T) {
		event.LastModified = model.GetMillis() - 1
		event.TotallyFailed = true
		require.NoError(t, sqlStore.UpdateEventToDeliver(event))

		events, err := sqlStore.GetEventPushCandidates(model.GetMillis()+1, 10)
		require.NoError(t, err)
		require.Empty(t, events)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, sqlStore.DeleteEventToDeliver(event.ID))

		saved, err := sqlStore.GetEventToDeliver(event.ID)
		require.NoError(t, err)
		require.Nil(t, saved)
	})
}
