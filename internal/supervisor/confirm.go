// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package supervisor

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pushhub/pushhub/internal/lease"
	"github.com/pushhub/pushhub/model"
)

// confirmStore abstracts the database operations required to work through
// pending subscription confirmations.
type confirmStore interface {
	GetSubscriptionConfirmCandidates(now int64, limit int) ([]*model.Subscription, error)
	UpdateSubscription(subscription *model.Subscription) error
	DeleteSubscription(id string) error
}

// SubscriptionConfirmSupervisor works through subscriptions awaiting an
// asynchronous verification handshake.
type SubscriptionConfirmSupervisor struct {
	store      confirmStore
	verifier   *SubscriptionVerifier
	locks      *lease.Locks
	instanceID string
	workCount  int
	logger     log.FieldLogger
}

// NewSubscriptionConfirmSupervisor creates a new SubscriptionConfirmSupervisor.
func NewSubscriptionConfirmSupervisor(
	store confirmStore,
	verifier *SubscriptionVerifier,
	locks *lease.Locks,
	instanceID string,
	workCount int,
	logger log.FieldLogger,
) *SubscriptionConfirmSupervisor {
	return &SubscriptionConfirmSupervisor{
		store:      store,
		verifier:   verifier,
		locks:      locks,
		instanceID: instanceID,
		workCount:  workCount,
		logger:     logger.WithField("supervisor", "subscription-confirm"),
	}
}

// Shutdown performs graceful shutdown tasks for the supervisor.
func (s *SubscriptionConfirmSupervisor) Shutdown() {
	s.logger.Debug("Shutting down subscription confirm supervisor")
}

// Do claims a batch of pending confirmations and works through them.
func (s *SubscriptionConfirmSupervisor) Do() error {
	work, err := lease.QueryAndOwn(s.locks, s.instanceID, lease.Options{WorkCount: s.workCount},
		func(limit int) ([]*model.Subscription, error) {
			return s.store.GetSubscriptionConfirmCandidates(model.GetMillis(), limit)
		})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to query for subscriptions to confirm")
		return nil
	}
	if len(work) == 0 {
		s.logger.Debug("No subscriptions to confirm")
		return nil
	}

	for _, subscription := range work {
		s.supervise(subscription)
	}

	return nil
}

// supervise attempts the verification handshake for one pending subscription.
func (s *SubscriptionConfirmSupervisor) supervise(subscription *model.Subscription) {
	defer s.locks.Release(subscription.LockKey())

	logger := s.logger.WithFields(log.Fields{
		"subscription": subscription.ID,
		"state":        subscription.State,
	})

	mode := UnsubscribeMode
	if subscription.State == model.SubscriptionStatePendingVerify {
		mode = SubscribeMode
	}

	if s.verifier.ConfirmSubscription(mode, subscription.Topic, subscription.Callback, subscription.VerifyToken) {
		return
	}

	if subscription.ConfirmFailed(time.Now()) {
		logger.Warn("Subscription exhausted its confirmation attempts; deleting")
		err := s.store.DeleteSubscription(subscription.ID)
		if err != nil {
			logger.WithError(err).Error("Failed to delete unconfirmable subscription")
		}
		return
	}

	err := s.store.UpdateSubscription(subscription)
	if err != nil {
		logger.WithError(err).Error("Failed to reschedule subscription confirmation")
	}
}
