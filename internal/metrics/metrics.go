// Package metrics holds the prometheus collectors for the discovery core.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "eventradar_"

	ResultSuccess = "success"
	ResultError   = "error"

	AlertTriggered = "triggered"
	AlertDropped   = "dropped"
	AlertRestarted = "restarted"
	AlertQueued    = "queued"
	AlertExpired   = "expired"
)

var (
	registerOnce sync.Once
	registerErr  error

	snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "snapshots_total",
			Help: "Live snapshots received by result",
		},
		[]string{"result"},
	)
	snapshotLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "snapshot_processing_seconds",
			Help:    "Time spent refining, filtering, ranking and diffing one snapshot",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
	recordsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "records_dropped_total",
			Help: "Malformed store records dropped while parsing",
		},
	)
	arrivalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "arrivals_total",
			Help: "Events detected as newly arrived",
		},
	)
	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "alerts_total",
			Help: "Alert coordinator transitions by outcome",
		},
		[]string{"outcome"},
	)
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "notification_dispatch_total",
			Help: "Notification dispatch requests by result",
		},
		[]string{"result"},
	)
	resubscribeTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "resubscribe_total",
			Help: "Subscription attempts after a store error",
		},
	)
	oneShotTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "one_shot_total",
			Help: "One-shot store operations by operation and result",
		},
		[]string{"op", "result"},
	)
	activeSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: metricPrefix + "active_subscriptions",
			Help: "Nearby subscriptions currently delivering",
		},
	)
)

// Register registers all collectors once; later calls return the first result
func Register(reg prometheus.Registerer) error {
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			snapshotsTotal,
			snapshotLatency,
			recordsDropped,
			arrivalsTotal,
			alertsTotal,
			dispatchTotal,
			resubscribeTotal,
			oneShotTotal,
			activeSubscriptions,
		} {
			if err := reg.Register(c); err != nil {
				registerErr = err
				return
			}
		}
	})
	return registerErr
}

// ObserveSnapshot records one processed snapshot
func ObserveSnapshot(result string, d time.Duration) {
	snapshotsTotal.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		snapshotLatency.Observe(d.Seconds())
	}
}

// RecordsDropped counts malformed records
func RecordsDropped(n int) {
	if n > 0 {
		recordsDropped.Add(float64(n))
	}
}

// Arrivals counts newly arrived events
func Arrivals(n int) {
	if n > 0 {
		arrivalsTotal.Add(float64(n))
	}
}

// AlertOutcome counts an alert coordinator transition
func AlertOutcome(outcome string) {
	alertsTotal.WithLabelValues(outcome).Inc()
}

// Dispatch counts a notification dispatch result
func Dispatch(result string) {
	dispatchTotal.WithLabelValues(result).Inc()
}

// Resubscribe counts a resubscribe attempt
func Resubscribe() {
	resubscribeTotal.Inc()
}

// OneShot counts a one-shot store operation
func OneShot(op, result string) {
	oneShotTotal.WithLabelValues(op, result).Inc()
}

// SubscriptionStarted increments the active subscription gauge
func SubscriptionStarted() {
	activeSubscriptions.Inc()
}

// SubscriptionStopped decrements the active subscription gauge
func SubscriptionStopped() {
	activeSubscriptions.Dec()
}
