// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package supervisor

import (
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pushhub/pushhub/internal/metrics"
)

// SubscribeMode and UnsubscribeMode are the hub.mode values used during the
// verification handshake.
const (
	SubscribeMode   = "subscribe"
	UnsubscribeMode = "unsubscribe"
)

// verifierStore abstracts the database operations invoked on a successful
// verification handshake.
type verifierStore interface {
	InsertSubscription(callback, topic string) (bool, error)
	RemoveSubscription(callback, topic string) (bool, error)
	CreateKnownFeed(topic string) error
}

// SubscriptionVerifier performs the verification handshake against subscriber
// callbacks and applies the outcome to the subscription state.
type SubscriptionVerifier struct {
	store   verifierStore
	client  *http.Client
	metrics *metrics.HubMetrics
	logger  log.FieldLogger
}

// NewSubscriptionVerifier creates a verifier backed by the given store.
func NewSubscriptionVerifier(store verifierStore, hubMetrics *metrics.HubMetrics, logger log.FieldLogger) *SubscriptionVerifier {
	return &SubscriptionVerifier{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
			// Redirects do not count as confirmation.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		metrics: hubMetrics,
		logger:  logger,
	}
}

// ConfirmSubscription runs the verification handshake for a subscribe or
// unsubscribe request and, when confirmed, marks the subscription verified or
// removes it. It reports whether the handshake succeeded.
func (v *SubscriptionVerifier) ConfirmSubscription(mode, topic, callback, verifyToken string) bool {
	logger := v.logger.WithFields(log.Fields{
		"mode":     mode,
		"topic":    topic,
		"callback": callback,
	})
	logger.Info("Attempting to confirm subscription")

	confirmed := v.handshake(mode, topic, callback, verifyToken, logger)
	if !confirmed {
		v.metrics.SubscriptionConfirmsTotal.WithLabelValues(mode, "failed").Inc()
		return false
	}

	if mode == SubscribeMode {
		_, err := v.store.InsertSubscription(callback, topic)
		if err != nil {
			logger.WithError(err).Error("Failed to mark subscription verified")
			return false
		}

		// Record the topic so publish notifications and the bootstrap poll
		// recognize it.
		err = v.store.CreateKnownFeed(topic)
		if err != nil {
			logger.WithError(err).Error("Failed to record known feed")
			return false
		}
	} else {
		_, err := v.store.RemoveSubscription(callback, topic)
		if err != nil {
			logger.WithError(err).Error("Failed to remove subscription")
			return false
		}
	}

	v.metrics.SubscriptionConfirmsTotal.WithLabelValues(mode, "confirmed").Inc()
	logger.Info("Subscription action verified")
	return true
}

// handshake issues the verification GET against the callback, preserving any
// query parameters the subscriber already encoded into it.
func (v *SubscriptionVerifier) handshake(mode, topic, callback, verifyToken string, logger log.FieldLogger) bool {
	parsed, err := url.Parse(callback)
	if err != nil {
		logger.WithError(err).Warn("Failed to parse callback url")
		return false
	}

	query := parsed.Query()
	query.Set("hub.mode", mode)
	query.Set("hub.topic", topic)
	query.Set("hub.verify_token", verifyToken)
	parsed.RawQuery = query.Encode()

	response, err := v.client.Get(parsed.String())
	if err != nil {
		logger.WithError(err).Warn("Error encountered while confirming subscription")
		return false
	}
	defer drainBody(response.Body)

	if response.StatusCode != http.StatusNoContent {
		logger.Warnf("Could not confirm subscription; encountered status %d", response.StatusCode)
		return false
	}

	return true
}

// drainBody reads the remainder of a response body and closes it, allowing
// the underlying connection to be reused.
func drainBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
