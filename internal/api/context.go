package api

import (
	"github.com/sirupsen/logrus"

	"github.com/pushhub/pushhub/internal/metrics"
	"github.com/pushhub/pushhub/model"
)

// Supervisor describes the interface to notify the background jobs of an actionable change.
type Supervisor interface {
	Do() error
}

// Store describes the interface required to persist changes made via API requests.
type Store interface {
	GetSubscription(id string) (*model.Subscription, error)
	RequestInsertSubscription(callback, topic, verifyToken string) (bool, error)
	RequestRemoveSubscription(callback, topic, verifyToken string) (bool, error)

	CheckKnownFeeds(topics []string) ([]string, error)
	InsertFeedsToFetch(topics []string) error
}

// Verifier describes the interface required to synchronously confirm a
// subscription request.
type Verifier interface {
	ConfirmSubscription(mode, topic, callback, verifyToken string) bool
}

// Workers collects the background jobs that API requests may need to notify
// or that the work endpoints trigger directly.
type Workers struct {
	SubscriptionConfirm Supervisor
	FeedPull            Supervisor
	PushEvent           Supervisor
	PollBootstrap       Supervisor
}

// Context provides the API with all necessary data and interfaces for responding to requests.
//
// It is cloned before each request, allowing per-request changes such as logger annotations.
type Context struct {
	Store    Store
	Verifier Verifier
	Workers  *Workers
	Metrics  *metrics.HubMetrics

	// DevMode relaxes URL validation and opens the work endpoints for local
	// development.
	DevMode bool
	// WorkerToken, when set, grants bearer-token access to the work
	// endpoints.
	WorkerToken string

	Logger logrus.FieldLogger
}

// Clone creates a shallow copy of context, allowing clones to apply per-request changes.
func (c *Context) Clone() *Context {
	return &Context{
		Store:       c.Store,
		Verifier:    c.Verifier,
		Workers:     c.Workers,
		Metrics:     c.Metrics,
		DevMode:     c.DevMode,
		WorkerToken: c.WorkerToken,
		Logger:      c.Logger,
	}
}
