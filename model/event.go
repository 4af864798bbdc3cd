// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// EventDeliveryModeNormal walks verified subscribers in callback hash
	// order.
	EventDeliveryModeNormal = "normal"
	// EventDeliveryModeRetry walks the accumulated failed callbacks.
	EventDeliveryModeRetry = "retry"
)

const (
	// FeedFormatAtom identifies an Atom feed document.
	FeedFormatAtom = "atom"
	// FeedFormatRSS identifies an RSS feed document.
	FeedFormatRSS = "rss"
)

const xmlDeclaration = `<?xml version="1.0" encoding="utf-8"?>`

// EventToDeliver is a deliverable payload for one diff of one topic. It
// tracks the current position in the subscriber walk and the callbacks that
// failed delivery, so retries resume where the last attempt left off.
type EventToDeliver struct {
	ID              string
	Topic           string
	TopicHash       string
	Payload         string
	LastCallback    string
	FailedCallbacks StringList
	DeliveryMode    string
	RetryAttempts   int64
	LastModified    int64
	TotallyFailed   bool
}

// LockKey returns the advisory lock cache key for this event.
func (e *EventToDeliver) LockKey() string {
	return "EventToDeliver/" + e.ID
}

// NewEventForTopic creates an event for a topic and set of published entries.
// The payload is the feed envelope with the new entry payloads spliced in
// just before the closing tag, prefixed by an XML declaration.
func NewEventForTopic(topic, format, headerFooter string, entryPayloads []string, now time.Time) (*EventToDeliver, error) {
	var closeTag string
	switch format {
	case FeedFormatAtom:
		closeTag = "</feed>"
	case FeedFormatRSS:
		closeTag = "</channel>"
	default:
		return nil, errors.Errorf("invalid feed format %q", format)
	}

	closeIndex := strings.LastIndex(headerFooter, closeTag)
	if closeIndex == -1 {
		return nil, errors.Errorf("could not find %s in feed envelope", closeTag)
	}

	parts := make([]string, 0, len(entryPayloads)+3)
	parts = append(parts, xmlDeclaration, headerFooter[:closeIndex])
	parts = append(parts, entryPayloads...)
	parts = append(parts, headerFooter[closeIndex:])

	return &EventToDeliver{
		ID:              NewID(),
		Topic:           topic,
		TopicHash:       SHA1Hash(topic),
		Payload:         strings.Join(parts, "\n"),
		DeliveryMode:    EventDeliveryModeNormal,
		FailedCallbacks: StringList{},
		LastModified:    GetMillisAtTime(now),
	}, nil
}

// DeliveryAttemptDone records the end of a full pass over the remaining
// subscribers: the paging cursor resets, the event moves (or stays) in retry
// mode, and the next attempt is pushed out with exponential backoff. Once the
// retry budget is exhausted the event is marked totally failed and kept for
// diagnostics.
func (e *EventToDeliver) DeliveryAttemptDone(now time.Time) {
	e.LastCallback = ""

	delay := backoffDelay(DeliveryRetryPeriod, e.RetryAttempts)
	e.LastModified = GetMillisAtTime(now.Add(delay))
	e.RetryAttempts++
	if e.RetryAttempts > MaxDeliveryFailures {
		e.TotallyFailed = true
	}

	if e.DeliveryMode == EventDeliveryModeNormal {
		e.DeliveryMode = EventDeliveryModeRetry
	}
}
