// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import "time"

// PollingMarkerID is the row key of the singleton bootstrap polling cursor.
const PollingMarkerID = "the_mark"

// PollingMarker keeps track of the current position in the bootstrap polling
// process. CurrentKey is the cursor within the KnownFeed scan, empty between
// cycles.
type PollingMarker struct {
	ID         string
	NextStart  int64
	CurrentKey string
}

// NewPollingMarker returns a fresh marker whose first cycle is immediately
// eligible.
func NewPollingMarker(now time.Time) *PollingMarker {
	return &PollingMarker{
		ID:        PollingMarkerID,
		NextStart: GetMillisAtTime(now.Add(-time.Minute)),
	}
}

// LockKey returns the advisory lock cache key for the polling marker.
func (m *PollingMarker) LockKey() string {
	return "PollingMarker/" + m.ID
}

// ShouldProgress reports whether bootstrap polling should take a step. When a
// new cycle is due it schedules the following one and clears the cursor.
func (m *PollingMarker) ShouldProgress(now time.Time) bool {
	if m.NextStart < GetMillisAtTime(now) {
		m.NextStart = GetMillisAtTime(now.Add(PollingBootstrapPeriod))
		m.CurrentKey = ""
		return true
	}

	return m.CurrentKey != ""
}
