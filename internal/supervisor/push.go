// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package supervisor

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pushhub/pushhub/internal/lease"
	"github.com/pushhub/pushhub/internal/metrics"
	"github.com/pushhub/pushhub/model"
)

// pushStore abstracts the database operations required to deliver events to
// subscribers.
type pushStore interface {
	GetEventPushCandidates(now int64, limit int) ([]*model.EventToDeliver, error)
	GetSubscribers(topic string, count int, startingAtCallback string) ([]*model.Subscription, error)
	GetSubscriptionsByIDs(ids []string) ([]*model.Subscription, error)
	UpdateEventToDeliver(event *model.EventToDeliver) error
	DeleteEventToDeliver(id string) error
}

// PushEventSupervisor delivers pending events to their subscribers, a chunk
// of callbacks at a time.
type PushEventSupervisor struct {
	store      pushStore
	locks      *lease.Locks
	client     *http.Client
	instanceID string
	workCount  int
	chunkSize  int
	metrics    *metrics.HubMetrics
	logger     log.FieldLogger
}

// NewPushEventSupervisor creates a new PushEventSupervisor.
func NewPushEventSupervisor(
	store pushStore,
	locks *lease.Locks,
	instanceID string,
	workCount int,
	hubMetrics *metrics.HubMetrics,
	logger log.FieldLogger,
) *PushEventSupervisor {
	return &PushEventSupervisor{
		store:      store,
		locks:      locks,
		client:     &http.Client{Timeout: 30 * time.Second},
		instanceID: instanceID,
		workCount:  workCount,
		chunkSize:  model.EventSubscriberChunkSize,
		metrics:    hubMetrics,
		logger:     logger.WithField("supervisor", "push-event"),
	}
}

// Shutdown performs graceful shutdown tasks for the supervisor.
func (s *PushEventSupervisor) Shutdown() {
	s.logger.Debug("Shutting down push event supervisor")
}

// Do claims a batch of due events and attempts a delivery pass for each.
func (s *PushEventSupervisor) Do() error {
	work, err := lease.QueryAndOwn(s.locks, s.instanceID, lease.Options{WorkCount: s.workCount},
		func(limit int) ([]*model.EventToDeliver, error) {
			return s.store.GetEventPushCandidates(model.GetMillis(), limit)
		})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to query for events to deliver")
		return nil
	}
	if len(work) == 0 {
		s.logger.Debug("No events to deliver")
		return nil
	}

	for _, event := range work {
		s.supervise(event)
	}

	return nil
}

// supervise attempts delivery of one event to its next chunk of subscribers.
func (s *PushEventSupervisor) supervise(event *model.EventToDeliver) {
	start := time.Now()
	defer func() {
		s.metrics.EventDeliveryDurationHist.Observe(time.Since(start).Seconds())
	}()

	logger := s.logger.WithFields(log.Fields{
		"topic":         event.Topic,
		"delivery_mode": event.DeliveryMode,
	})

	moreSubscribers, subscribers, err := s.nextSubscribers(event)
	if err != nil {
		logger.WithError(err).Error("Failed to determine next subscribers")
		s.locks.Release(event.LockKey())
		return
	}

	logger.Infof("%d subscribers to contact", len(subscribers))

	failed := s.deliver(event, subscribers, logger)
	s.updateEvent(event, moreSubscribers, failed, logger)
}

// nextSubscribers retrieves the next chunk of subscribers to attempt delivery
// for the event, advancing the event's paging state. It reports whether more
// subscribers remain after the returned chunk.
func (s *PushEventSupervisor) nextSubscribers(event *model.EventToDeliver) (bool, []*model.Subscription, error) {
	if event.DeliveryMode == model.EventDeliveryModeNormal {
		subscribers, err := s.store.GetSubscribers(event.Topic, s.chunkSize+1, event.LastCallback)
		if err != nil {
			return false, nil, err
		}

		if len(subscribers) > 0 {
			event.LastCallback = subscribers[len(subscribers)-1].Callback
		} else {
			event.LastCallback = ""
		}

		moreSubscribers := len(subscribers) > s.chunkSize
		if moreSubscribers {
			subscribers = subscribers[:s.chunkSize]
		}

		return moreSubscribers, subscribers, nil
	}

	nextChunk := event.FailedCallbacks
	if len(nextChunk) > s.chunkSize {
		nextChunk = nextChunk[:s.chunkSize]
	}
	moreSubscribers := len(event.FailedCallbacks) > len(nextChunk)

	if event.LastCallback != "" {
		// Seeing the sentinel subscription in the next chunk means the walk
		// has wrapped back around to where this attempt started, and another
		// round of exponential backoff is due.
		sentinel := model.SubscriptionKey(event.LastCallback, event.Topic)
		for i, id := range nextChunk {
			if id == sentinel {
				moreSubscribers = false
				nextChunk = nextChunk[:i]
				break
			}
		}
	}

	subscribers, err := s.store.GetSubscriptionsByIDs(nextChunk)
	if err != nil {
		return false, nil, err
	}

	if len(subscribers) > 0 && event.LastCallback == "" {
		// First pass of this attempt; remember where the walk started so a
		// full wrap can be detected later.
		event.LastCallback = subscribers[0].Callback
	}

	// Callbacks that fail again get appended back onto the end of the list.
	event.FailedCallbacks = event.FailedCallbacks[len(nextChunk):]

	return moreSubscribers, subscribers, nil
}

// deliver POSTs the event payload to each subscriber concurrently, returning
// the subscriptions that could not be reached. Interrupted deliveries count
// as failed so they remain pending.
func (s *PushEventSupervisor) deliver(event *model.EventToDeliver, subscribers []*model.Subscription, logger log.FieldLogger) []*model.Subscription {
	var mutex sync.Mutex
	var waitGroup sync.WaitGroup
	failed := make(map[string]bool, len(subscribers))

	for _, subscriber := range subscribers {
		waitGroup.Add(1)
		go func(subscriber *model.Subscription) {
			defer waitGroup.Done()

			if s.deliverOne(subscriber.Callback, event.Payload, logger) {
				return
			}

			mutex.Lock()
			failed[subscriber.ID] = true
			mutex.Unlock()
		}(subscriber)
	}
	waitGroup.Wait()

	var failedSubscribers []*model.Subscription
	for _, subscriber := range subscribers {
		if failed[subscriber.ID] {
			failedSubscribers = append(failedSubscribers, subscriber)
		}
	}

	return failedSubscribers
}

// deliverOne POSTs the payload to a single callback, reporting success.
func (s *PushEventSupervisor) deliverOne(callback, payload string, logger log.FieldLogger) bool {
	response, err := s.client.Post(callback, "application/atom+xml", strings.NewReader(payload))
	if err != nil {
		logger.WithError(err).Warnf("Could not deliver to target url %s", callback)
		s.metrics.EventDeliveriesTotal.WithLabelValues("failed").Inc()
		return false
	}
	defer drainBody(response.Body)

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusNoContent {
		logger.Warnf("Could not deliver to target url %s: status %d", callback, response.StatusCode)
		s.metrics.EventDeliveriesTotal.WithLabelValues("failed").Inc()
		return false
	}

	s.metrics.EventDeliveriesTotal.WithLabelValues("delivered").Inc()
	return true
}

// updateEvent records the outcome of a delivery pass, deleting the event once
// every subscriber has been contacted successfully. The event's lock is
// released so the next pass can be claimed immediately.
func (s *PushEventSupervisor) updateEvent(event *model.EventToDeliver, moreSubscribers bool, failed []*model.Subscription, logger log.FieldLogger) {
	defer s.locks.Release(event.LockKey())

	now := time.Now()
	event.LastModified = model.GetMillisAtTime(now)

	// Keep the failed callbacks in callback hash order, matching the order
	// the normal walk visits subscribers.
	sort.Slice(failed, func(i, j int) bool {
		return failed[i].CallbackHash < failed[j].CallbackHash
	})
	for _, subscriber := range failed {
		event.FailedCallbacks = append(event.FailedCallbacks, subscriber.ID)
	}

	if !moreSubscribers && len(event.FailedCallbacks) == 0 {
		logger.Info("Event delivery complete")
		err := s.store.DeleteEventToDeliver(event.ID)
		if err != nil {
			logger.WithError(err).Error("Failed to delete delivered event")
		}
		return
	}

	if !moreSubscribers {
		event.DeliveryAttemptDone(now)
		if event.TotallyFailed {
			logger.Warnf("Event delivery gave up with %d broken callbacks", len(event.FailedCallbacks))
		} else {
			logger.Infof("End of attempt %d; %d broken callbacks remain", event.RetryAttempts, len(event.FailedCallbacks))
		}
	}

	err := s.store.UpdateEventToDeliver(event)
	if err != nil {
		logger.WithError(err).Error("Failed to update event delivery progress")
	}
}
