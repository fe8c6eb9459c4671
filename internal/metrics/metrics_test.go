package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("second Register: %v", err)
	}
}

func TestHelpersRecord(t *testing.T) {
	before := testutil.ToFloat64(snapshotsTotal.WithLabelValues(ResultSuccess))
	ObserveSnapshot(ResultSuccess, time.Millisecond)
	if got := testutil.ToFloat64(snapshotsTotal.WithLabelValues(ResultSuccess)); got != before+1 {
		t.Errorf("snapshots_total = %v, want %v", got, before+1)
	}

	dropped := testutil.ToFloat64(recordsDropped)
	RecordsDropped(0)
	RecordsDropped(3)
	if got := testutil.ToFloat64(recordsDropped); got != dropped+3 {
		t.Errorf("records_dropped_total = %v, want %v", got, dropped+3)
	}

	alerts := testutil.ToFloat64(alertsTotal.WithLabelValues(AlertTriggered))
	AlertOutcome(AlertTriggered)
	if got := testutil.ToFloat64(alertsTotal.WithLabelValues(AlertTriggered)); got != alerts+1 {
		t.Errorf("alerts_total = %v, want %v", got, alerts+1)
	}

	active := testutil.ToFloat64(activeSubscriptions)
	SubscriptionStarted()
	SubscriptionStopped()
	if got := testutil.ToFloat64(activeSubscriptions); got != active {
		t.Errorf("active_subscriptions = %v, want %v", got, active)
	}
}
