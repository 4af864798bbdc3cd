// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package supervisor

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pushhub/pushhub/internal/feeddiff"
	"github.com/pushhub/pushhub/internal/lease"
	"github.com/pushhub/pushhub/internal/metrics"
	"github.com/pushhub/pushhub/model"
)

// maxFeedSize caps how much of a feed document is read per pull.
const maxFeedSize = 10 << 20

// pullStore abstracts the database operations required to pull feeds and
// record their diffs.
type pullStore interface {
	GetFeedPullCandidates(now int64, limit int) ([]*model.FeedToFetch, error)
	UpdateFeedToFetch(feed *model.FeedToFetch) error
	DeleteFeedToFetch(id string) error
	DeleteKnownFeed(topic string) error
	HasSubscribers(topic string) (bool, error)
	GetFeedRecord(topic string) (*model.FeedRecord, error)
	GetFeedEntryRecords(topic string, entryIDs []string) (map[string]*model.FeedEntryRecord, error)
	CommitFeedPull(record *model.FeedRecord, entries []*model.FeedEntryRecord, event *model.EventToDeliver, feedID string) error
}

// FeedPullSupervisor fetches feeds with pending publish notifications and
// turns their new or changed entries into events to deliver.
type FeedPullSupervisor struct {
	store      pullStore
	locks      *lease.Locks
	client     *http.Client
	instanceID string
	workCount  int
	metrics    *metrics.HubMetrics
	logger     log.FieldLogger
}

// NewFeedPullSupervisor creates a new FeedPullSupervisor.
func NewFeedPullSupervisor(
	store pullStore,
	locks *lease.Locks,
	instanceID string,
	workCount int,
	hubMetrics *metrics.HubMetrics,
	logger log.FieldLogger,
) *FeedPullSupervisor {
	return &FeedPullSupervisor{
		store: store,
		locks: locks,
		// Follow redirects here; many feeds are just redirects to the actual
		// feed contents or a distribution server.
		client:     &http.Client{Timeout: 30 * time.Second},
		instanceID: instanceID,
		workCount:  workCount,
		metrics:    hubMetrics,
		logger:     logger.WithField("supervisor", "feed-pull"),
	}
}

// Shutdown performs graceful shutdown tasks for the supervisor.
func (s *FeedPullSupervisor) Shutdown() {
	s.logger.Debug("Shutting down feed pull supervisor")
}

// Do claims a batch of feeds due for pulling and works through them.
func (s *FeedPullSupervisor) Do() error {
	work, err := lease.QueryAndOwn(s.locks, s.instanceID, lease.Options{WorkCount: s.workCount},
		func(limit int) ([]*model.FeedToFetch, error) {
			return s.store.GetFeedPullCandidates(model.GetMillis(), limit)
		})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to query for feeds to fetch")
		return nil
	}
	if len(work) == 0 {
		s.logger.Debug("No feeds to fetch")
		return nil
	}

	for _, feed := range work {
		s.supervise(feed)
	}

	return nil
}

// supervise pulls one feed and commits the resulting diff.
func (s *FeedPullSupervisor) supervise(feed *model.FeedToFetch) {
	defer s.locks.Release(feed.LockKey())

	start := time.Now()
	defer func() {
		s.metrics.FeedPullDurationHist.Observe(time.Since(start).Seconds())
	}()

	logger := s.logger.WithField("topic", feed.Topic)

	hasSubscribers, err := s.store.HasSubscribers(feed.Topic)
	if err != nil {
		logger.WithError(err).Error("Failed to check for subscribers")
		return
	}
	if !hasSubscribers {
		logger.Info("Ignoring feed with no subscribers")
		// Without subscribers the topic no longer belongs in the periodic
		// polling set either.
		if err = s.store.DeleteFeedToFetch(feed.ID); err != nil {
			logger.WithError(err).Error("Failed to delete feed to fetch")
		}
		if err = s.store.DeleteKnownFeed(feed.Topic); err != nil {
			logger.WithError(err).Error("Failed to delete known feed")
		}
		return
	}

	logger.Info("Fetching topic")
	record, err := s.store.GetFeedRecord(feed.Topic)
	if err != nil {
		logger.WithError(err).Error("Failed to get feed record")
		return
	}

	status, headers, content, err := s.fetch(feed.Topic, record)
	if err != nil {
		logger.WithError(err).Warn("Failed to fetch feed")
		s.fetchFailed(feed, logger)
		return
	}

	if status == http.StatusNotModified {
		logger.Info("Feed publisher returned 304 response (cache hit)")
		s.metrics.FeedPullsTotal.WithLabelValues("not_modified").Inc()
		if err = s.store.DeleteFeedToFetch(feed.ID); err != nil {
			logger.WithError(err).Error("Failed to delete feed to fetch")
		}
		return
	}
	if status != http.StatusOK {
		logger.Warnf("Received bad status %d fetching feed", status)
		s.fetchFailed(feed, logger)
		return
	}

	// The content-type header is too unreliable to pick the parser outright;
	// use it only to order the attempts, biased towards Atom.
	order := []string{model.FeedFormatAtom, model.FeedFormatRSS}
	if strings.Contains(record.ContentType, "rss") {
		order = []string{model.FeedFormatRSS, model.FeedFormatAtom}
	}

	var headerFooter string
	var entries []*model.FeedEntryRecord
	var payloads []string
	var format string
	parsed := false
	for _, format = range order {
		headerFooter, entries, payloads, err = s.findFeedUpdates(feed.Topic, format, content)
		if err == nil {
			parsed = true
			break
		}
		logger.WithError(err).Warnf("Could not get entries for content of %d bytes in format %q", len(content), format)
	}
	if !parsed {
		s.fetchFailed(feed, logger)
		return
	}

	var event *model.EventToDeliver
	if len(entries) == 0 {
		logger.Info("No new entries found")
	} else {
		logger.Infof("Saving %d new/updated entries", len(entries))
		event, err = model.NewEventForTopic(feed.Topic, format, headerFooter, payloads, time.Now())
		if err != nil {
			logger.WithError(err).Error("Failed to build event for feed")
			s.fetchFailed(feed, logger)
			return
		}
	}

	record.UpdateFromResponse(headers, headerFooter)

	// Committing everything together means a failure redoes the whole fetch
	// and finds the same entries again, so no event is dropped.
	err = s.store.CommitFeedPull(record, entries, event, feed.ID)
	if err != nil {
		logger.WithError(err).Error("Failed to commit feed pull")
		return
	}

	s.metrics.FeedPullsTotal.WithLabelValues("pulled").Inc()
}

// fetch issues the conditional GET for a topic and reads the body.
func (s *FeedPullSupervisor) fetch(topic string, record *model.FeedRecord) (int, http.Header, []byte, error) {
	request, err := http.NewRequest(http.MethodGet, topic, nil)
	if err != nil {
		return 0, nil, nil, errors.Wrap(err, "failed to build feed request")
	}
	for key, values := range record.RequestHeaders() {
		for _, value := range values {
			request.Header.Add(key, value)
		}
	}

	response, err := s.client.Do(request)
	if err != nil {
		return 0, nil, nil, errors.Wrap(err, "failed to fetch feed")
	}
	defer drainBody(response.Body)

	content, err := io.ReadAll(io.LimitReader(response.Body, maxFeedSize))
	if err != nil {
		return 0, nil, nil, errors.Wrap(err, "failed to read feed body")
	}

	return response.StatusCode, response.Header, content, nil
}

// findFeedUpdates diffs the fetched document against the entries already seen
// for the topic, returning the envelope along with the records and payloads
// of new or changed entries.
func (s *FeedPullSupervisor) findFeedUpdates(topic, format string, content []byte) (string, []*model.FeedEntryRecord, []string, error) {
	headerFooter, parsedEntries, err := feeddiff.Filter(format, content)
	if err != nil {
		return "", nil, nil, err
	}

	entryIDs := make([]string, 0, len(parsedEntries))
	for _, entry := range parsedEntries {
		entryIDs = append(entryIDs, entry.ID)
	}

	existing, err := s.store.GetFeedEntryRecords(topic, entryIDs)
	if err != nil {
		return "", nil, nil, errors.Wrap(err, "failed to look up existing entries")
	}

	s.logger.Infof("Retrieved %d feed entries, %d of which have been seen before", len(parsedEntries), len(existing))

	now := time.Now()
	var records []*model.FeedEntryRecord
	var payloads []string
	for _, entry := range parsedEntries {
		contentHash := model.SHA1Hash(entry.Content)
		if previous, ok := existing[entry.ID]; ok && previous.EntryContentHash == contentHash {
			continue
		}

		payloads = append(payloads, entry.Content)
		records = append(records, model.NewFeedEntryRecord(topic, entry.ID, contentHash, now))
	}

	return headerFooter, records, payloads, nil
}

func (s *FeedPullSupervisor) fetchFailed(feed *model.FeedToFetch, logger log.FieldLogger) {
	s.metrics.FeedPullsTotal.WithLabelValues("failed").Inc()

	feed.FetchFailed(time.Now())
	if feed.TotallyFailed {
		logger.Warn("Feed gave up after repeated fetch failures")
	}

	err := s.store.UpdateFeedToFetch(feed)
	if err != nil {
		logger.WithError(err).Error("Failed to reschedule feed to fetch")
	}
}
