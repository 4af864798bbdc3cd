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

var subscriptionSelect sq.SelectBuilder

func init() {
	subscriptionSelect = sq.
		Select(
			"ID", "Callback", "CallbackHash", "Topic", "TopicHash", "CreateAt",
			"LastModified", "ExpirationTime", "ETA", "ConfirmFailures",
			"VerifyToken", "State",
		).
		From("Subscription")
}

// GetSubscription fetches the given subscription by id.
func (sqlStore *SQLStore) GetSubscription(id string) (*model.Subscription, error) {
	return sqlStore.getSubscription(sqlStore.db, id)
}

func (sqlStore *SQLStore) getSubscription(q sqlx.Queryer, id string) (*model.Subscription, error) {
	var subscription model.Subscription
	err := sqlStore.getBuilder(q, &subscription,
		subscriptionSelect.Where("ID = ?", id),
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get subscription by id")
	}

	return &subscription, nil
}

// InsertSubscription marks a callback URL as being subscribed to a topic,
// creating the subscription if none exists and forcing any pending request
// to the verified state.
func (sqlStore *SQLStore) InsertSubscription(callback, topic string) (bool, error) {
	id := model.SubscriptionKey(callback, topic)
	now := model.GetMillis()

	var isNew bool
	err := sqlStore.inTransaction(func(tx *sqlx.Tx) error {
		subscription, err := sqlStore.getSubscription(tx, id)
		if err != nil {
			return err
		}

		if subscription == nil {
			isNew = true
			return sqlStore.createSubscription(tx, &model.Subscription{
				ID:             id,
				Callback:       callback,
				CallbackHash:   model.SHA1Hash(callback),
				Topic:          topic,
				TopicHash:      model.SHA1Hash(topic),
				CreateAt:       now,
				LastModified:   now,
				ExpirationTime: now + model.SubscriptionExpirationDelta.Milliseconds(),
				ETA:            now,
				State:          model.SubscriptionStateVerified,
			})
		}

		_, err = sqlStore.execBuilder(tx, sq.
			Update("Subscription").
			SetMap(map[string]interface{}{
				"State":        model.SubscriptionStateVerified,
				"LastModified": now,
			}).
			Where("ID = ?", id),
		)
		return errors.Wrap(err, "failed to mark subscription verified")
	})
	if err != nil {
		return false, err
	}

	return isNew, nil
}

// RequestInsertSubscription records that a callback URL needs verification
// before being subscribed. Existing subscriptions are left untouched; in
// particular a verified subscription does not regress.
func (sqlStore *SQLStore) RequestInsertSubscription(callback, topic, verifyToken string) (bool, error) {
	id := model.SubscriptionKey(callback, topic)
	now := model.GetMillis()

	var isNew bool
	err := sqlStore.inTransaction(func(tx *sqlx.Tx) error {
		subscription, err := sqlStore.getSubscription(tx, id)
		if err != nil {
			return err
		}
		if subscription != nil {
			return nil
		}

		isNew = true
		return sqlStore.createSubscription(tx, &model.Subscription{
			ID:             id,
			Callback:       callback,
			CallbackHash:   model.SHA1Hash(callback),
			Topic:          topic,
			TopicHash:      model.SHA1Hash(topic),
			CreateAt:       now,
			LastModified:   now,
			ExpirationTime: now + model.SubscriptionExpirationDelta.Milliseconds(),
			ETA:            now,
			VerifyToken:    verifyToken,
			State:          model.SubscriptionStatePendingVerify,
		})
	})
	if err != nil {
		return false, err
	}

	return isNew, nil
}

// RemoveSubscription causes a callback URL to no longer be subscribed to a
// topic. Removing a subscription that does not exist is a no-op.
func (sqlStore *SQLStore) RemoveSubscription(callback, topic string) (bool, error) {
	id := model.SubscriptionKey(callback, topic)

	var existed bool
	err := sqlStore.inTransaction(func(tx *sqlx.Tx) error {
		result, err := sqlStore.execBuilder(tx, sq.
			Delete("Subscription").
			Where("ID = ?", id),
		)
		if err != nil {
			return errors.Wrap(err, "failed to delete subscription")
		}

		count, err := result.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to count rows affected")
		}
		existed = count > 0
		return nil
	})
	if err != nil {
		return false, err
	}

	return existed, nil
}

// RequestRemoveSubscription records that a callback URL needs to be
// unsubscribed, moving any non-pending-delete subscription to the
// pending_delete state with a fresh verify token.
func (sqlStore *SQLStore) RequestRemoveSubscription(callback, topic, verifyToken string) (bool, error) {
	id := model.SubscriptionKey(callback, topic)
	now := model.GetMillis()

	var requested bool
	err := sqlStore.inTransaction(func(tx *sqlx.Tx) error {
		subscription, err := sqlStore.getSubscription(tx, id)
		if err != nil {
			return err
		}
		if subscription == nil || subscription.State == model.SubscriptionStatePendingDelete {
			return nil
		}

		_, err = sqlStore.execBuilder(tx, sq.
			Update("Subscription").
			SetMap(map[string]interface{}{
				"State":        model.SubscriptionStatePendingDelete,
				"VerifyToken":  verifyToken,
				"LastModified": now,
				"ETA":          now,
			}).
			Where("ID = ?", id),
		)
		if err != nil {
			return errors.Wrap(err, "failed to mark subscription pending delete")
		}

		requested = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return requested, nil
}

// UpdateSubscription updates the mutable fields of the given subscription.
func (sqlStore *SQLStore) UpdateSubscription(subscription *model.Subscription) error {
	subscription.LastModified = model.GetMillis()

	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Update("Subscription").
		SetMap(map[string]interface{}{
			"LastModified":    subscription.LastModified,
			"ExpirationTime":  subscription.ExpirationTime,
			"ETA":             subscription.ETA,
			"ConfirmFailures": subscription.ConfirmFailures,
			"VerifyToken":     subscription.VerifyToken,
			"State":           subscription.State,
		}).
		Where("ID = ?", subscription.ID),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update subscription")
	}

	return nil
}

// DeleteSubscription removes the given subscription entirely.
func (sqlStore *SQLStore) DeleteSubscription(id string) error {
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Delete("Subscription").
		Where("ID = ?", id),
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete subscription")
	}

	return nil
}

// HasSubscribers checks if a topic URL has any verified subscribers.
func (sqlStore *SQLStore) HasSubscribers(topic string) (bool, error) {
	var id string
	err := sqlStore.getBuilder(sqlStore.db, &id, sq.
		Select("ID").
		From("Subscription").
		Where("TopicHash = ?", model.SHA1Hash(topic)).
		Where("State = ?", model.SubscriptionStateVerified).
		Limit(1),
	)
	if err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "failed to check for subscribers")
	}

	return true, nil
}

// GetSubscribers fetches verified subscribers of the topic in callback hash
// order. When startingAtCallback is given, the page begins at that callback's
// hash inclusively.
func (sqlStore *SQLStore) GetSubscribers(topic string, count int, startingAtCallback string) ([]*model.Subscription, error) {
	builder := subscriptionSelect.
		Where("TopicHash = ?", model.SHA1Hash(topic)).
		Where("State = ?", model.SubscriptionStateVerified).
		OrderBy("CallbackHash ASC").
		Limit(uint64(count))

	if startingAtCallback != "" {
		builder = builder.Where("CallbackHash >= ?", model.SHA1Hash(startingAtCallback))
	}

	var subscriptions []*model.Subscription
	err := sqlStore.selectBuilder(sqlStore.db, &subscriptions, builder)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query for subscribers")
	}

	return subscriptions, nil
}

// GetSubscriptionsByIDs dereferences subscription keys in bulk, preserving
// the requested order and dropping any that no longer exist.
func (sqlStore *SQLStore) GetSubscriptionsByIDs(ids []string) ([]*model.Subscription, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var subscriptions []*model.Subscription
	err := sqlStore.selectBuilder(sqlStore.db, &subscriptions,
		subscriptionSelect.Where(sq.Eq{"ID": ids}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query subscriptions by id")
	}

	byID := make(map[string]*model.Subscription, len(subscriptions))
	for _, subscription := range subscriptions {
		byID[subscription.ID] = subscription
	}

	ordered := make([]*model.Subscription, 0, len(subscriptions))
	for _, id := range ids {
		if subscription, ok := byID[id]; ok {
			ordered = append(ordered, subscription)
		}
	}

	return ordered, nil
}

// GetSubscriptionConfirmCandidates fetches subscriptions awaiting an
// asynchronous confirmation handshake, most overdue first.
func (sqlStore *SQLStore) GetSubscriptionConfirmCandidates(now int64, limit int) ([]*model.Subscription, error) {
	var subscriptions []*model.Subscription
	err := sqlStore.selectBuilder(sqlStore.db, &subscriptions,
		subscriptionSelect.
			Where("ETA <= ?", now).
			Where(sq.Eq{"State": []string{
				model.SubscriptionStatePendingVerify,
				model.SubscriptionStatePendingDelete,
			}}).
			OrderBy("ETA ASC").
			Limit(uint64(limit)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query for confirm work")
	}

	return subscriptions, nil
}

func (sqlStore *SQLStore) createSubscription(e execer, subscription *model.Subscription) error {
	_, err := sqlStore.execBuilder(e, sq.
		Insert("Subscription").
		SetMap(map[string]interface{}{
			"ID":              subscription.ID,
			"Callback":        subscription.Callback,
			"CallbackHash":    subscription.CallbackHash,
			"Topic":           subscription.Topic,
			"TopicHash":       subscription.TopicHash,
			"CreateAt":        subscription.CreateAt,
			"LastModified":    subscription.LastModified,
			"ExpirationTime":  subscription.ExpirationTime,
			"ETA":             subscription.ETA,
			"ConfirmFailures": subscription.ConfirmFailures,
			"VerifyToken":     subscription.VerifyToken,
			"State":           subscription.State,
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create subscription")
	}

	return nil
}
