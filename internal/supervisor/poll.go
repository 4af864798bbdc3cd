// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package supervisor

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pushhub/pushhub/model"
)

// pollStore abstracts the database operations required to walk the known feed
// set for bootstrap polling.
type pollStore interface {
	GetPollingMarker(now time.Time) (*model.PollingMarker, error)
	SavePollingMarker(marker *model.PollingMarker) error
	GetKnownFeedsAfter(afterID string, limit int) ([]*model.KnownFeed, error)
	InsertFeedsToFetch(topics []string) error
}

// PollBootstrapSupervisor periodically walks every known feed and queues it
// for pulling, catching topics whose publishers never ping the hub.
type PollBootstrapSupervisor struct {
	store     pollStore
	chunkSize int
	logger    log.FieldLogger
}

// NewPollBootstrapSupervisor creates a new PollBootstrapSupervisor.
func NewPollBootstrapSupervisor(store pollStore, logger log.FieldLogger) *PollBootstrapSupervisor {
	return &PollBootstrapSupervisor{
		store:     store,
		chunkSize: model.BootstrapFeedChunkSize,
		logger:    logger.WithField("supervisor", "poll-bootstrap"),
	}
}

// Shutdown performs graceful shutdown tasks for the supervisor.
func (s *PollBootstrapSupervisor) Shutdown() {
	s.logger.Debug("Shutting down poll bootstrap supervisor")
}

// Do advances the bootstrap polling cycle by one chunk of known feeds.
func (s *PollBootstrapSupervisor) Do() error {
	now := time.Now()

	marker, err := s.store.GetPollingMarker(now)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to get polling marker")
		return nil
	}

	if !marker.ShouldProgress(now) {
		return nil
	}

	knownFeeds, err := s.store.GetKnownFeedsAfter(marker.CurrentKey, s.chunkSize)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to page known feeds")
		return nil
	}

	if len(knownFeeds) > 0 {
		marker.CurrentKey = knownFeeds[len(knownFeeds)-1].ID
		s.logger.Infof("Found %d more feeds to poll, ended at %s", len(knownFeeds), knownFeeds[len(knownFeeds)-1].Topic)
	} else {
		marker.CurrentKey = ""
		s.logger.Infof("Polling cycle complete; starting again at %s", model.TimeFromMillis(marker.NextStart))
	}

	topics := make([]string, 0, len(knownFeeds))
	for _, knownFeed := range knownFeeds {
		topics = append(topics, knownFeed.Topic)
	}

	err = s.store.InsertFeedsToFetch(topics)
	if err != nil {
		s.logger.WithError(err).Error("Failed to queue known feeds for fetching")
		return nil
	}

	err = s.store.SavePollingMarker(marker)
	if err != nil {
		s.logger.WithError(err).Error("Failed to save polling marker")
	}

	return nil
}
