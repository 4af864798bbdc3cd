// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewEventForTopic(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("atom splice", func(t *testing.T) {
		headerFooter := `<feed xmlns="http://www.w3.org/2005/Atom"><title>demo</title></feed>`
		event, err := NewEventForTopic("http://example.com/feed", FeedFormatAtom, headerFooter, []string{"<entry><id>e1</id></entry>"}, now)
		require.NoError(t, err)

		require.Equal(t, "http://example.com/feed", event.Topic)
		require.Equal(t, SHA1Hash("http://example.com/feed"), event.TopicHash)
		require.Equal(t, EventDeliveryModeNormal, event.DeliveryMode)
		require.Equal(t, GetMillisAtTime(now), event.LastModified)

		require.True(t, strings.HasPrefix(event.Payload, `<?xml version="1.0" encoding="utf-8"?>`))
		require.True(t, strings.HasSuffix(event.Payload, "</feed>"))
		entryIndex := strings.Index(event.Payload, "<entry>")
		closeIndex := strings.LastIndex(event.Payload, "</feed>")
		require.True(t, entryIndex > 0)
		require.True(t, entryIndex < closeIndex)
	})

	t.Run("rss splice", func(t *testing.T) {
		headerFooter := `<rss version="2.0"><channel><title>demo</title></channel></rss>`
		event, err := NewEventForTopic("http://example.com/rss", FeedFormatRSS, headerFooter, []string{"<item><guid>i1</guid></item>"}, now)
		require.NoError(t, err)

		itemIndex := strings.Index(event.Payload, "<item>")
		closeIndex := strings.LastIndex(event.Payload, "</channel>")
		require.True(t, itemIndex > 0)
		require.True(t, itemIndex < closeIndex)
	})

	t.Run("missing close tag", func(t *testing.T) {
		_, err := NewEventForTopic("http://example.com/feed", FeedFormatAtom, "<feed>", nil, now)
		require.Error(t, err)
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := NewEventForTopic("http://example.com/feed", "opml", "<feed></feed>", nil, now)
		require.Error(t, err)
	})
}

func TestEventDeliveryAttemptDone(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	event := &EventToDeliver{
		ID:           NewID(),
		DeliveryMode: EventDeliveryModeNormal,
		LastCallback: "http://sub.example.com/cb",
	}

	event.DeliveryAttemptDone(now)
	require.Empty(t, event.LastCallback)
	require.Equal(t, EventDeliveryModeRetry, event.DeliveryMode)
	require.Equal(t, int64(1), event.RetryAttempts)
	require.Equal(t, GetMillisAtTime(now.Add(DeliveryRetryPeriod)), event.LastModified)
	require.False(t, event.TotallyFailed)

	// Successive attempts back off geometrically and stay in retry mode.
	event.DeliveryAttemptDone(now)
	require.Equal(t, EventDeliveryModeRetry, event.DeliveryMode)
	require.Equal(t, GetMillisAtTime(now.Add(2*DeliveryRetryPeriod)), event.LastModified)

	for i := 0; i < int(MaxDeliveryFailures); i++ {
		event.DeliveryAttemptDone(now)
	}
	require.True(t, event.TotallyFailed)
}

func TestBackoffMonotonic(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	sub := &Subscription{}
	var last int64
	for i := 0; i < MaxSubscriptionConfirmFailures; i++ {
		require.False(t, sub.ConfirmFailed(now), fmt.Sprintf("attempt %d", i))
		require.Greater(t, sub.ETA, last)
		last = sub.ETA
	}
	require.True(t, sub.ConfirmFailed(now))
}

func TestFeedToFetchFetchFailed(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	feed := &FeedToFetch{ID: FeedKey("http://example.com/feed"), Topic: "http://example.com/feed"}

	feed.FetchFailed(now)
	require.Equal(t, int64(1), feed.FetchingFailures)
	require.Equal(t, GetMillisAtTime(now.Add(FeedPullRetryPeriod)), feed.ETA)
	require.False(t, feed.TotallyFailed)

	var last int64
	for !feed.TotallyFailed {
		require.GreaterOrEqual(t, feed.ETA, last)
		last = feed.ETA
		feed.FetchFailed(now)
	}
	require.Equal(t, int64(MaxFeedPullFailures), feed.FetchingFailures)
}
