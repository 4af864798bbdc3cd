// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	hubNamespace    = "pushhub"
	hubSubsystemApp = "app"
)

// HubMetrics holds all of the metrics needed to properly instrument the hub.
type HubMetrics struct {
	registry *prometheus.Registry

	SubscriptionRequestsTotal *prometheus.CounterVec
	PublishRequestsTotal      prometheus.Counter

	SubscriptionConfirmsTotal *prometheus.CounterVec
	FeedPullsTotal            *prometheus.CounterVec
	EventDeliveriesTotal      *prometheus.CounterVec
	FeedPullDurationHist      prometheus.Histogram
	EventDeliveryDurationHist prometheus.Histogram
}

// New creates a new Prometheus-based HubMetrics object to be used throughout
// the hub in order to record various performance metrics. Metrics live in
// their own registry so the standard process collectors never collide.
func New() *HubMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &HubMetrics{
		registry: registry,

		SubscriptionRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: hubNamespace,
				Subsystem: hubSubsystemApp,
				Name:      "subscription_requests_total",
				Help:      "The number of subscribe and unsubscribe requests received",
			},
			[]string{"mode"},
		),

		PublishRequestsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: hubNamespace,
				Subsystem: hubSubsystemApp,
				Name:      "publish_requests_total",
				Help:      "The number of publish notifications received",
			},
		),

		SubscriptionConfirmsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: hubNamespace,
				Subsystem: hubSubsystemApp,
				Name:      "subscription_confirms_total",
				Help:      "The number of subscription confirmation handshakes attempted",
			},
			[]string{"mode", "outcome"},
		),

		FeedPullsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: hubNamespace,
				Subsystem: hubSubsystemApp,
				Name:      "feed_pulls_total",
				Help:      "The number of feed pull attempts",
			},
			[]string{"outcome"},
		),

		EventDeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: hubNamespace,
				Subsystem: hubSubsystemApp,
				Name:      "event_deliveries_total",
				Help:      "The number of event delivery attempts to subscriber callbacks",
			},
			[]string{"outcome"},
		),

		FeedPullDurationHist: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: hubNamespace,
				Subsystem: hubSubsystemApp,
				Name:      "feed_pull_duration_seconds",
				Help:      "The duration of feed pull tasks",
				Buckets:   standardDurationBuckets(),
			},
		),

		EventDeliveryDurationHist: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: hubNamespace,
				Subsystem: hubSubsystemApp,
				Name:      "event_delivery_duration_seconds",
				Help:      "The duration of event delivery passes",
				Buckets:   standardDurationBuckets(),
			},
		),
	}
}

// Handler exposes the metrics registry over HTTP in the Prometheus text
// format.
func (m *HubMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// standardDurationBuckets provides a standardized set of histogram buckets
// for task durations.
func standardDurationBuckets() []float64 {
	return prometheus.ExponentialBuckets(0.05, 2, 14)
}
