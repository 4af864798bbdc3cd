// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/pushhub/pushhub/model"
)

var eventToDeliverSelect = sq.
	Select(
		"ID", "Topic", "TopicHash", "Payload", "LastCallback", "FailedCallbacks",
		"DeliveryMode", "RetryAttempts", "LastModified", "TotallyFailed",
	).
	From("EventToDeliver")

// CreateEventToDeliver records a new event that needs delivering.
func (sqlStore *SQLStore) CreateEventToDeliver(event *model.EventToDeliver) error {
	return sqlStore.createEventToDeliver(sqlStore.db, event)
}

func (sqlStore *SQLStore) createEventToDeliver(e execer, event *model.EventToDeliver) error {
	_, err := sqlStore.execBuilder(e, sq.
		Insert("EventToDeliver").
		SetMap(map[string]interface{}{
			"ID":              event.ID,
			"Topic":           event.Topic,
			"TopicHash":       event.TopicHash,
			"Payload":         event.Payload,
			"LastCallback":    event.LastCallback,
			"FailedCallbacks": event.FailedCallbacks,
			"DeliveryMode":    event.DeliveryMode,
			"RetryAttempts":   event.RetryAttempts,
			"LastModified":    event.LastModified,
			"TotallyFailed":   event.TotallyFailed,
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create event to deliver")
	}

	return nil
}

// GetEventToDeliver fetches the given event by id.
func (sqlStore *SQLStore) GetEventToDeliver(id string) (*model.EventToDeliver, error) {
	var event model.EventToDeliver
	err := sqlStore.getBuilder(sqlStore.db, &event,
		eventToDeliverSelect.Where("ID = ?", id),
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get event by id")
	}

	return &event, nil
}

// GetEventPushCandidates fetches events due for a delivery attempt, oldest
// first. Events that have exhausted their retry budget are skipped.
func (sqlStore *SQLStore) GetEventPushCandidates(now int64, limit int) ([]*model.EventToDeliver, error) {
	var events []*model.EventToDeliver
	err := sqlStore.selectBuilder(sqlStore.db, &events,
		eventToDeliverSelect.
			Where("LastModified <= ?", now).
			Where("TotallyFailed = ?", false).
			OrderBy("LastModified ASC").
			Limit(uint64(limit)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query for event push work")
	}

	return events, nil
}

// UpdateEventToDeliver updates the delivery progress of the given event.
func (sqlStore *SQLStore) UpdateEventToDeliver(event *model.EventToDeliver) error {
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Update("EventToDeliver").
		SetMap(map[string]interface{}{
			"LastCallback":    event.LastCallback,
			"FailedCallbacks": event.FailedCallbacks,
			"DeliveryMode":    event.DeliveryMode,
			"RetryAttempts":   event.RetryAttempts,
			"LastModified":    event.LastModified,
			"TotallyFailed":   event.TotallyFailed,
		}).
		Where("ID = ?", event.ID),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update event to deliver")
	}

	return nil
}

// DeleteEventToDeliver removes an event whose delivery has completed.
func (sqlStore *SQLStore) DeleteEventToDeliver(id string) error {
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Delete("EventToDeliver").
		Where("ID = ?", id),
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete event to deliver")
	}

	return nil
}
