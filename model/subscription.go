// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import "time"

const (
	// SubscriptionStatePendingVerify marks a subscription awaiting an
	// asynchronous verification handshake.
	SubscriptionStatePendingVerify = "pending_verify"
	// SubscriptionStateVerified marks a confirmed, deliverable subscription.
	SubscriptionStateVerified = "verified"
	// SubscriptionStatePendingDelete marks a subscription awaiting an
	// asynchronous unsubscribe handshake. The callback and topic hashes are
	// retained so delivery queries continue to exclude it.
	SubscriptionStatePendingDelete = "pending_delete"
)

// Subscription is a single subscriber's lease on a topic URL. It doubles as
// the work item for a subscribe or unsubscribe awaiting confirmation.
type Subscription struct {
	ID              string
	Callback        string
	CallbackHash    string
	Topic           string
	TopicHash       string
	CreateAt        int64
	LastModified    int64
	ExpirationTime  int64
	ETA             int64
	ConfirmFailures int64
	VerifyToken     string
	State           string
}

// SubscriptionKey returns the deterministic key for a (callback, topic) pair.
func SubscriptionKey(callback, topic string) string {
	return HashKey(callback + "\n" + topic)
}

// LockKey returns the advisory lock cache key for this subscription.
func (s *Subscription) LockKey() string {
	return "Subscription/" + s.ID
}

// ConfirmFailed records that a confirmation handshake for this subscription
// failed, pushing the next attempt out with exponential backoff. It returns
// true when the failure budget is exhausted and the subscription should be
// deleted instead of retried.
func (s *Subscription) ConfirmFailed(now time.Time) bool {
	if s.ConfirmFailures >= MaxSubscriptionConfirmFailures {
		return true
	}

	delay := backoffDelay(SubscriptionRetryPeriod, s.ConfirmFailures)
	s.ETA = GetMillisAtTime(now.Add(delay))
	s.ConfirmFailures++
	s.LastModified = GetMillisAtTime(now)
	return false
}
