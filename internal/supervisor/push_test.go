// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package supervisor

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushhub/pushhub/internal/lease"
	"github.com/pushhub/pushhub/internal/metrics"
	"github.com/pushhub/pushhub/internal/store"
	"github.com/pushhub/pushhub/internal/testlib"
	"github.com/pushhub/pushhub/model"
)

type recordingSubscriber struct {
	server *httptest.Server

	mutex       sync.Mutex
	requests    int
	contentType string
	payload     string
	status      int
}

func newRecordingSubscriber(t *testing.T, status int) *recordingSubscriber {
	subscriber := &recordingSubscriber{status: status}
	subscriber.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		subscriber.mutex.Lock()
		subscriber.requests++
		subscriber.contentType = r.Header.Get("Content-Type")
		subscriber.payload = string(body)
		status := subscriber.status
		subscriber.mutex.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(subscriber.server.Close)

	return subscriber
}

func (rs *recordingSubscriber) callback() string {
	return rs.server.URL
}

func (rs *recordingSubscriber) requestCount() int {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()
	return rs.requests
}

func makePushSupervisor(t *testing.T) (*PushEventSupervisor, *store.SQLStore) {
	logger := testlib.MakeLogger(t)
	sqlStore := store.MakeTestSQLStore(t, logger)

	locks, err := lease.NewLocks(1000)
	require.NoError(t, err)
	t.Cleanup(locks.Close)

	return NewPushEventSupervisor(sqlStore, locks, model.NewID(), 10, metrics.New(), logger), sqlStore
}

func makeEvent(t *testing.T, sqlStore *store.SQLStore, topic string) *model.EventToDeliver {
	event, err := model.NewEventForTopic(topic, model.FeedFormatAtom, "<feed></feed>", []string{"<entry><id>1</id></entry>"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, sqlStore.CreateEventToDeliver(event))
	return event
}

func TestPushEventSupervisor(t *testing.T) {
	const topic = "http://example.com/topic"

	t.Run("delivers to every subscriber and completes", func(t *testing.T) {
		supervisor, sqlStore := makePushSupervisor(t)

		first := newRecordingSubscriber(t, http.StatusOK)
		second := newRecordingSubscriber(t, http.StatusNoContent)
		for _, subscriber := range []*recordingSubscriber{first, second} {
			_, err := sqlStore.InsertSubscription(subscriber.callback(), topic)
			require.NoError(t, err)
		}

		event := makeEvent(t, sqlStore, topic)
		require.NoError(t, supervisor.Do())

		assert.Equal(t, 1, first.requestCount())
		assert.Equal(t, 1, second.requestCount())
		assert.Equal(t, "application/atom+xml", first.contentType)
		assert.Contains(t, first.payload, "<entry><id>1</id></entry>")

		saved, err := sqlStore.GetEventToDeliver(event.ID)
		require.NoError(t, err)
		require.Nil(t, saved, "completed event should be deleted")
	})

	t.Run("failed callback moves the event to retry mode", func(t *testing.T) {
		supervisor, sqlStore := makePushSupervisor(t)

		healthy := newRecordingSubscriber(t, http.StatusOK)
		broken := newRecordingSubscriber(t, http.StatusInternalServerError)
		for _, subscriber := range []*recordingSubscriber{healthy, broken} {
			_, err := sqlStore.InsertSubscription(subscriber.callback(), topic)
			require.NoError(t, err)
		}

		event := makeEvent(t, sqlStore, topic)
		require.NoError(t, supervisor.Do())

		saved, err := sqlStore.GetEventToDeliver(event.ID)
		require.NoError(t, err)
		require.NotNil(t, saved)
		assert.Equal(t, model.EventDeliveryModeRetry, saved.DeliveryMode)
		assert.EqualValues(t, 1, saved.RetryAttempts)
		assert.Greater(t, saved.LastModified, model.GetMillis())
		require.Len(t, saved.FailedCallbacks, 1)
		assert.Equal(t, model.SubscriptionKey(broken.callback(), topic), saved.FailedCallbacks[0])
	})

	t.Run("retry contacts only the failed callbacks", func(t *testing.T) {
		supervisor, sqlStore := makePushSupervisor(t)

		healthy := newRecordingSubscriber(t, http.StatusOK)
		flaky := newRecordingSubscriber(t, http.StatusInternalServerError)
		for _, subscriber := range []*recordingSubscriber{healthy, flaky} {
			_, err := sqlStore.InsertSubscription(subscriber.callback(), topic)
			require.NoError(t, err)
		}

		event := makeEvent(t, sqlStore, topic)
		require.NoError(t, supervisor.Do())
		require.Equal(t, 1, healthy.requestCount())
		require.Equal(t, 1, flaky.requestCount())

		// Heal the broken subscriber and make the event due again.
		flaky.mutex.Lock()
		flaky.status = http.StatusOK
		flaky.mutex.Unlock()

		saved, err := sqlStore.GetEventToDeliver(event.ID)
		require.NoError(t, err)
		saved.LastModified = model.GetMillis() - 1
		require.NoError(t, sqlStore.UpdateEventToDeliver(saved))

		require.NoError(t, supervisor.Do())

		assert.Equal(t, 1, healthy.requestCount(), "healthy subscriber should not be contacted again")
		assert.Equal(t, 2, flaky.requestCount())

		saved, err = sqlStore.GetEventToDeliver(event.ID)
		require.NoError(t, err)
		require.Nil(t, saved, "event should complete once retries succeed")
	})
}

func TestNextSubscribers(t *testing.T) {
	const topic = "http://example.com/topic"

	t.Run("normal mode pages in callback hash order", func(t *testing.T) {
		supervisor, sqlStore := makePushSupervisor(t)
		supervisor.chunkSize = 2

		callbacks := []string{
			"http://example.com/a",
			"http://example.com/b",
			"http://example.com/c",
		}
		for _, callback := range callbacks {
			_, err := sqlStore.InsertSubscription(callback, topic)
			require.NoError(t, err)
		}
		sort.Slice(callbacks, func(i, j int) bool {
			return model.SHA1Hash(callbacks[i]) < model.SHA1Hash(callbacks[j])
		})

		event, err := model.NewEventForTopic(topic, model.FeedFormatAtom, "<feed></feed>", nil, time.Now())
		require.NoError(t, err)

		more, chunk, err := supervisor.nextSubscribers(event)
		require.NoError(t, err)
		assert.True(t, more)
		require.Len(t, chunk, 2)
		assert.Equal(t, callbacks[0], chunk[0].Callback)
		assert.Equal(t, callbacks[1], chunk[1].Callback)
		// The paging cursor includes the peeked-ahead subscriber.
		assert.Equal(t, callbacks[2], event.LastCallback)

		// The next page resumes at the cursor.
		more, chunk, err = supervisor.nextSubscribers(event)
		require.NoError(t, err)
		assert.False(t, more)
		require.Len(t, chunk, 1)
		assert.Equal(t, callbacks[2], chunk[0].Callback)
	})

	t.Run("retry mode stops at the wrap sentinel", func(t *testing.T) {
		supervisor, sqlStore := makePushSupervisor(t)
		supervisor.chunkSize = 10

		callbackA := "http://example.com/a"
		callbackB := "http://example.com/b"
		for _, callback := range []string{callbackA, callbackB} {
			_, err := sqlStore.InsertSubscription(callback, topic)
			require.NoError(t, err)
		}

		event, err := model.NewEventForTopic(topic, model.FeedFormatAtom, "<feed></feed>", nil, time.Now())
		require.NoError(t, err)
		event.DeliveryMode = model.EventDeliveryModeRetry
		event.FailedCallbacks = model.StringList{
			model.SubscriptionKey(callbackA, topic),
			model.SubscriptionKey(callbackB, topic),
		}
		event.LastCallback = callbackB

		more, chunk, err := supervisor.nextSubscribers(event)
		require.NoError(t, err)
		assert.False(t, more, "wrapping back to the sentinel ends the attempt")
		require.Len(t, chunk, 1)
		assert.Equal(t, callbackA, chunk[0].Callback)

		// The sentinel callback stays queued for the next attempt.
		require.Len(t, event.FailedCallbacks, 1)
		assert.Equal(t, model.SubscriptionKey(callbackB, topic), event.FailedCallbacks[0])
	})

	t.Run("retry mode records the starting sentinel", func(t *testing.T) {
		supervisor, sqlStore := makePushSupervisor(t)

		callback := "http://example.com/a"
		_, err := sqlStore.InsertSubscription(callback, topic)
		require.NoError(t, err)

		event, err := model.NewEventForTopic(topic, model.FeedFormatAtom, "<feed></feed>", nil, time.Now())
		require.NoError(t, err)
		event.DeliveryMode = model.EventDeliveryModeRetry
		event.FailedCallbacks = model.StringList{model.SubscriptionKey(callback, topic)}

		more, chunk, err := supervisor.nextSubscribers(event)
		require.NoError(t, err)
		assert.False(t, more)
		require.Len(t, chunk, 1)
		assert.Equal(t, callback, event.LastCallback)
		assert.Empty(t, event.FailedCallbacks)
	})
}
