// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"github.com/blang/semver"
)

type migration struct {
	fromVersion   semver.Version
	toVersion     semver.Version
	migrationFunc func(execer) error
}

// migrations defines the set of migrations necessary to advance the database to the latest
// expected version.
//
// Note that the canonical schema is currently obtained by applying all migrations to an empty
// database.
var migrations = []migration{
	{semver.MustParse("0.0.0"), semver.MustParse("0.1.0"), func(e execer) error {
		_, err := e.Exec(`
			CREATE TABLE System (
				Key VARCHAR(64) PRIMARY KEY,
				Value VARCHAR(1024) NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE Subscription (
				ID VARCHAR(64) PRIMARY KEY,
				Callback TEXT NOT NULL,
				CallbackHash CHAR(40) NOT NULL,
				Topic TEXT NOT NULL,
				TopicHash CHAR(40) NOT NULL,
				CreateAt BIGINT NOT NULL,
				LastModified BIGINT NOT NULL,
				ExpirationTime BIGINT NOT NULL,
				ETA BIGINT NOT NULL,
				ConfirmFailures BIGINT NOT NULL,
				VerifyToken TEXT NULL,
				State VARCHAR(32) NOT NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`CREATE INDEX Subscription_TopicHash_State ON Subscription (TopicHash, State);`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`CREATE INDEX Subscription_ETA ON Subscription (ETA);`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE FeedToFetch (
				ID VARCHAR(64) PRIMARY KEY,
				Topic TEXT NOT NULL,
				ETA BIGINT NOT NULL,
				FetchingFailures BIGINT NOT NULL,
				TotallyFailed BOOLEAN NOT NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`CREATE INDEX FeedToFetch_ETA ON FeedToFetch (ETA);`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE KnownFeed (
				ID VARCHAR(64) PRIMARY KEY,
				Topic TEXT NOT NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE FeedRecord (
				ID VARCHAR(64) PRIMARY KEY,
				Topic TEXT NOT NULL,
				HeaderFooter TEXT NULL,
				LastUpdated BIGINT NOT NULL,
				ContentType TEXT NULL,
				LastModified TEXT NULL,
				ETag TEXT NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE FeedEntryRecord (
				ID VARCHAR(64) NOT NULL,
				TopicID VARCHAR(64) NOT NULL,
				EntryID TEXT NOT NULL,
				EntryIDHash CHAR(40) NOT NULL,
				EntryContentHash CHAR(40) NULL,
				UpdateTime BIGINT NOT NULL,
				PRIMARY KEY (TopicID, ID)
			);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE EventToDeliver (
				ID CHAR(26) PRIMARY KEY,
				Topic TEXT NOT NULL,
				TopicHash CHAR(40) NOT NULL,
				Payload TEXT NOT NULL,
				LastCallback TEXT NOT NULL,
				FailedCallbacks TEXT NOT NULL,
				DeliveryMode VARCHAR(16) NOT NULL,
				RetryAttempts BIGINT NOT NULL,
				LastModified BIGINT NOT NULL,
				TotallyFailed BOOLEAN NOT NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`CREATE INDEX EventToDeliver_LastModified ON EventToDeliver (LastModified);`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE PollingMarker (
				ID VARCHAR(32) PRIMARY KEY,
				NextStart BIGINT NOT NULL,
				CurrentKey TEXT NOT NULL
			);
		`)
		if err != nil {
			return err
		}

		return nil
	}},
}
