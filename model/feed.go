// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"net/http"
	"strings"
	"time"
)

// FeedKey returns the deterministic key for a topic URL, shared by
// FeedToFetch, KnownFeed and FeedRecord.
func FeedKey(topic string) string {
	return HashKey(topic)
}

// FeedToFetch is a feed with new data that needs to be pulled. Re-insertion
// for the same topic collapses onto the existing row, resetting its schedule.
type FeedToFetch struct {
	ID               string
	Topic            string
	ETA              int64
	FetchingFailures int64
	TotallyFailed    bool
}

// LockKey returns the advisory lock cache key for this work item.
func (f *FeedToFetch) LockKey() string {
	return "FeedToFetch/" + f.ID
}

// FetchFailed records that fetching this feed failed, pushing the next
// attempt out with exponential backoff. Once the failure budget is exhausted
// the feed is marked totally failed and will not be retried until the next
// publish re-inserts it.
func (f *FeedToFetch) FetchFailed(now time.Time) {
	if f.FetchingFailures >= MaxFeedPullFailures {
		f.TotallyFailed = true
		return
	}

	delay := backoffDelay(FeedPullRetryPeriod, f.FetchingFailures)
	f.ETA = GetMillisAtTime(now.Add(delay))
	f.FetchingFailures++
}

// KnownFeed marks a topic that has ever had a successful subscription. It is
// a materialized set used for existence checks and the bootstrap-poll scan;
// it may lag after unsubscription, which is harmless.
type KnownFeed struct {
	ID    string
	Topic string
}

// FeedRecord is the per-topic polling record: the feed document with all
// entry bodies stripped, plus the response headers that drive conditional
// fetching.
type FeedRecord struct {
	ID           string
	Topic        string
	HeaderFooter string
	LastUpdated  int64
	ContentType  string
	LastModified string
	ETag         string
}

// UpdateFromResponse refreshes the polling record from feed response headers
// and the newly parsed envelope. An empty headerFooter leaves the old value
// in place.
func (r *FeedRecord) UpdateFromResponse(headers http.Header, headerFooter string) {
	r.ContentType = strings.ToLower(headers.Get("Content-Type"))
	r.LastModified = headers.Get("Last-Modified")
	r.ETag = headers.Get("ETag")
	if headerFooter != "" {
		r.HeaderFooter = headerFooter
	}
}

// RequestHeaders returns the conditional request headers to use when pulling
// this feed.
func (r *FeedRecord) RequestHeaders() http.Header {
	headers := http.Header{}
	if r.LastModified != "" {
		headers.Set("If-Modified-Since", r.LastModified)
	}
	if r.ETag != "" {
		headers.Set("If-None-Match", r.ETag)
	}
	return headers
}

// FeedEntryRecord is the record of a single entry observed in a single feed.
type FeedEntryRecord struct {
	ID               string
	TopicID          string
	EntryID          string
	EntryIDHash      string
	EntryContentHash string
	UpdateTime       int64
}

// NewFeedEntryRecord builds the entry record for a topic and entry id. The
// row key hashes the entry id so a re-observed entry collapses onto the same
// record.
func NewFeedEntryRecord(topic, entryID, contentHash string, now time.Time) *FeedEntryRecord {
	return &FeedEntryRecord{
		ID:               HashKey(entryID),
		TopicID:          FeedKey(topic),
		EntryID:          entryID,
		EntryIDHash:      SHA1Hash(entryID),
		EntryContentHash: contentHash,
		UpdateTime:       GetMillisAtTime(now),
	}
}
