// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/pushhub/pushhub/model"
)

var feedToFetchSelect = sq.
	Select("ID", "Topic", "ETA", "FetchingFailures", "TotallyFailed").
	From("FeedToFetch")

// InsertFeedsToFetch records that feeds need to be pulled. A topic already
// queued for fetching collapses onto the existing row, resetting its schedule
// and failure counters.
func (sqlStore *SQLStore) InsertFeedsToFetch(topics []string) error {
	if len(topics) == 0 {
		return nil
	}

	now := model.GetMillis()
	return sqlStore.inTransaction(func(tx *sqlx.Tx) error {
		for _, topic := range topics {
			_, err := sqlStore.execBuilder(tx, sq.
				Insert("FeedToFetch").
				Columns("ID", "Topic", "ETA", "FetchingFailures", "TotallyFailed").
				Values(model.FeedKey(topic), topic, now, 0, false).
				Suffix("ON CONFLICT (ID) DO UPDATE SET ETA = ?, FetchingFailures = 0, TotallyFailed = ?", now, false),
			)
			if err != nil {
				return errors.Wrapf(err, "failed to insert feed to fetch for topic %s", topic)
			}
		}

		return nil
	})
}

// GetFeedToFetch fetches the given feed-to-fetch work item by id.
func (sqlStore *SQLStore) GetFeedToFetch(id string) (*model.FeedToFetch, error) {
	var feed model.FeedToFetch
	err := sqlStore.getBuilder(sqlStore.db, &feed,
		feedToFetchSelect.Where("ID = ?", id),
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get feed to fetch by id")
	}

	return &feed, nil
}

// GetFeedPullCandidates fetches feeds that are due to be pulled, most overdue
// first. Feeds that have exhausted their failure budget are skipped.
func (sqlStore *SQLStore) GetFeedPullCandidates(now int64, limit int) ([]*model.FeedToFetch, error) {
	var feeds []*model.FeedToFetch
	err := sqlStore.selectBuilder(sqlStore.db, &feeds,
		feedToFetchSelect.
			Where("ETA <= ?", now).
			Where("TotallyFailed = ?", false).
			OrderBy("ETA ASC").
			Limit(uint64(limit)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query for feed pull work")
	}

	return feeds, nil
}

// UpdateFeedToFetch updates the schedule and failure state of the given feed.
func (sqlStore *SQLStore) UpdateFeedToFetch(feed *model.FeedToFetch) error {
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Update("FeedToFetch").
		SetMap(map[string]interface{}{
			"ETA":              feed.ETA,
			"FetchingFailures": feed.FetchingFailures,
			"TotallyFailed":    feed.TotallyFailed,
		}).
		Where("ID = ?", feed.ID),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update feed to fetch")
	}

	return nil
}

// DeleteFeedToFetch removes the given feed-to-fetch work item.
func (sqlStore *SQLStore) DeleteFeedToFetch(id string) error {
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Delete("FeedToFetch").
		Where("ID = ?", id),
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete feed to fetch")
	}

	return nil
}

// CreateKnownFeed marks a topic as having had at least one successful
// subscription. Creating an already known feed is a no-op.
func (sqlStore *SQLStore) CreateKnownFeed(topic string) error {
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Insert("KnownFeed").
		Columns("ID", "Topic").
		Values(model.FeedKey(topic), topic).
		Suffix("ON CONFLICT (ID) DO NOTHING"),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create known feed")
	}

	return nil
}

// DeleteKnownFeed removes a topic from the known feed set.
func (sqlStore *SQLStore) DeleteKnownFeed(topic string) error {
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Delete("KnownFeed").
		Where("ID = ?", model.FeedKey(topic)),
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete known feed")
	}

	return nil
}

// CheckKnownFeeds filters the given topics down to those currently in the
// known feed set, preserving the input order.
func (sqlStore *SQLStore) CheckKnownFeeds(topics []string) ([]string, error) {
	if len(topics) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(topics))
	for _, topic := range topics {
		ids = append(ids, model.FeedKey(topic))
	}

	var knownIDs []string
	err := sqlStore.selectBuilder(sqlStore.db, &knownIDs, sq.
		Select("ID").
		From("KnownFeed").
		Where(sq.Eq{"ID": ids}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query known feeds")
	}

	known := make(map[string]bool, len(knownIDs))
	for _, id := range knownIDs {
		known[id] = true
	}

	var result []string
	for _, topic := range topics {
		if known[model.FeedKey(topic)] {
			result = append(result, topic)
		}
	}

	return result, nil
}

// GetKnownFeedsAfter pages through the known feed set in id order, starting
// strictly after the given id. An empty afterID starts from the beginning.
func (sqlStore *SQLStore) GetKnownFeedsAfter(afterID string, limit int) ([]*model.KnownFeed, error) {
	builder := sq.
		Select("ID", "Topic").
		From("KnownFeed").
		OrderBy("ID ASC").
		Limit(uint64(limit))

	if afterID != "" {
		builder = builder.Where("ID > ?", afterID)
	}

	var feeds []*model.KnownFeed
	err := sqlStore.selectBuilder(sqlStore.db, &feeds, builder)
	if err != nil {
		return nil, errors.Wrap(err, "failed to page known feeds")
	}

	return feeds, nil
}

// GetFeedRecord fetches the polling record for a topic, or a fresh in-memory
// record if the topic has never been pulled.
func (sqlStore *SQLStore) GetFeedRecord(topic string) (*model.FeedRecord, error) {
	var record model.FeedRecord
	err := sqlStore.getBuilder(sqlStore.db, &record, sq.
		Select("ID", "Topic", "HeaderFooter", "LastUpdated", "ContentType", "LastModified", "ETag").
		From("FeedRecord").
		Where("ID = ?", model.FeedKey(topic)),
	)
	if err == sql.ErrNoRows {
		return &model.FeedRecord{
			ID:    model.FeedKey(topic),
			Topic: topic,
		}, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get feed record")
	}

	return &record, nil
}

// GetFeedEntryRecords fetches the existing entry records for the given entry
// ids of a topic, keyed by entry id.
func (sqlStore *SQLStore) GetFeedEntryRecords(topic string, entryIDs []string) (map[string]*model.FeedEntryRecord, error) {
	if len(entryIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(entryIDs))
	for _, entryID := range entryIDs {
		ids = append(ids, model.HashKey(entryID))
	}

	var records []*model.FeedEntryRecord
	err := sqlStore.selectBuilder(sqlStore.db, &records, sq.
		Select("ID", "TopicID", "EntryID", "EntryIDHash", "EntryContentHash", "UpdateTime").
		From("FeedEntryRecord").
		Where("TopicID = ?", model.FeedKey(topic)).
		Where(sq.Eq{"ID": ids}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query feed entry records")
	}

	byEntryID := make(map[string]*model.FeedEntryRecord, len(records))
	for _, record := range records {
		byEntryID[record.EntryID] = record
	}

	return byEntryID, nil
}

// CommitFeedPull atomically saves the outcome of a successful feed pull: the
// refreshed polling record, the entry records observed, the delivery event for
// any new or changed entries, and removal of the completed work item.
func (sqlStore *SQLStore) CommitFeedPull(
	record *model.FeedRecord,
	entries []*model.FeedEntryRecord,
	event *model.EventToDeliver,
	feedID string,
) error {
	return sqlStore.inTransaction(func(tx *sqlx.Tx) error {
		record.LastUpdated = model.GetMillis()

		_, err := sqlStore.execBuilder(tx, sq.
			Insert("FeedRecord").
			Columns("ID", "Topic", "HeaderFooter", "LastUpdated", "ContentType", "LastModified", "ETag").
			Values(record.ID, record.Topic, record.HeaderFooter, record.LastUpdated, record.ContentType, record.LastModified, record.ETag).
			Suffix(
				"ON CONFLICT (ID) DO UPDATE SET HeaderFooter = ?, LastUpdated = ?, ContentType = ?, LastModified = ?, ETag = ?",
				record.HeaderFooter, record.LastUpdated, record.ContentType, record.LastModified, record.ETag,
			),
		)
		if err != nil {
			return errors.Wrap(err, "failed to upsert feed record")
		}

		for _, entry := range entries {
			_, err = sqlStore.execBuilder(tx, sq.
				Insert("FeedEntryRecord").
				Columns("ID", "TopicID", "EntryID", "EntryIDHash", "EntryContentHash", "UpdateTime").
				Values(entry.ID, entry.TopicID, entry.EntryID, entry.EntryIDHash, entry.EntryContentHash, entry.UpdateTime).
				Suffix(
					"ON CONFLICT (TopicID, ID) DO UPDATE SET EntryContentHash = ?, UpdateTime = ?",
					entry.EntryContentHash, entry.UpdateTime,
				),
			)
			if err != nil {
				return errors.Wrap(err, "failed to upsert feed entry record")
			}
		}

		if event != nil {
			err = sqlStore.createEventToDeliver(tx, event)
			if err != nil {
				return err
			}
		}

		_, err = sqlStore.execBuilder(tx, sq.
			Delete("FeedToFetch").
			Where("ID = ?", feedID),
		)
		if err != nil {
			return errors.Wrap(err, "failed to delete completed feed to fetch")
		}

		return nil
	})
}
