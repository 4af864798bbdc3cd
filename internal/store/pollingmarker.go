// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/pushhub/pushhub/model"
)

// GetPollingMarker fetches the singleton bootstrap polling marker, creating a
// fresh in-memory one if none has been saved yet.
func (sqlStore *SQLStore) GetPollingMarker(now time.Time) (*model.PollingMarker, error) {
	var marker model.PollingMarker
	err := sqlStore.getBuilder(sqlStore.db, &marker, sq.
		Select("ID", "NextStart", "CurrentKey").
		From("PollingMarker").
		Where("ID = ?", model.PollingMarkerID),
	)
	if err == sql.ErrNoRows {
		return model.NewPollingMarker(now), nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get polling marker")
	}

	return &marker, nil
}

// SavePollingMarker persists the bootstrap polling marker.
func (sqlStore *SQLStore) SavePollingMarker(marker *model.PollingMarker) error {
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Insert("PollingMarker").
		Columns("ID", "NextStart", "CurrentKey").
		Values(marker.ID, marker.NextStart, marker.CurrentKey).
		Suffix(
			"ON CONFLICT (ID) DO UPDATE SET NextStart = ?, CurrentKey = ?",
			marker.NextStart, marker.CurrentKey,
		),
	)
	if err != nil {
		return errors.Wrap(err, "failed to save polling marker")
	}

	return nil
}
