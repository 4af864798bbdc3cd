// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import "time"

const (
	// SubscriptionExpirationDelta is how long a subscription lasts before it
	// must be renewed by the subscriber.
	SubscriptionExpirationDelta = 90 * 24 * time.Hour

	// LeasePeriod is how long a lock is held after claiming work.
	LeasePeriod = 15 * time.Second

	// EventSubscriberChunkSize is how many subscribers to contact at a time
	// when delivering events.
	EventSubscriberChunkSize = 10

	// MaxSubscriptionConfirmFailures is the maximum number of times to attempt
	// a subscription confirmation retry.
	MaxSubscriptionConfirmFailures = 10

	// SubscriptionRetryPeriod is the base period for exponential backoff on
	// subscription confirm retries.
	SubscriptionRetryPeriod = 300 * time.Second

	// MaxFeedPullFailures is the maximum number of times to attempt to pull
	// a feed.
	MaxFeedPullFailures = 9

	// FeedPullRetryPeriod is the base period for exponential backoff on feed
	// pulling.
	FeedPullRetryPeriod = 60 * time.Second

	// MaxDeliveryFailures is the maximum number of times to attempt to deliver
	// a feed event.
	MaxDeliveryFailures = 8

	// DeliveryRetryPeriod is the base period for exponential backoff on feed
	// event delivery.
	DeliveryRetryPeriod = 60 * time.Second

	// BootstrapFeedChunkSize is the number of known feeds to scan per
	// bootstrap polling step.
	BootstrapFeedChunkSize = 200

	// PollingBootstrapPeriod is how often a full bootstrap polling cycle may
	// begin.
	PollingBootstrapPeriod = 3 * time.Hour
)

// backoffDelay computes the exponential backoff delay for the given retry
// attempt, base-2 on the retry period.
func backoffDelay(retryPeriod time.Duration, failures int64) time.Duration {
	return retryPeriod * time.Duration(int64(1)<<uint(failures))
}
