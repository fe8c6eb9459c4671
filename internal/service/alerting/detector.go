// internal/service/alerting/detector.go

package alerting

import (
	"time"

	"eventradar/internal/domain/event"
)

// ChangeDetector diffs successive snapshots by event id.
//
// The first snapshot after construction or Reset only records a baseline, so a
// fresh subscription, a reconnect or a viewport move never reports the whole
// result set as new. It is not safe for concurrent use; one delivery goroutine
// owns each instance.
type ChangeDetector struct {
	lastKnownIDs map[string]struct{}
	primed       bool
}

// NewChangeDetector creates a detector with an empty id set
func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{lastKnownIDs: make(map[string]struct{})}
}

// Observe records snapshot and returns the events absent from the previous one.
// The known id set is replaced wholesale, never merged.
func (d *ChangeDetector) Observe(snapshot []event.Event, now time.Time) (event.ArrivalBatch, bool) {
	next := make(map[string]struct{}, len(snapshot))
	var arrived []event.Event

	for _, e := range snapshot {
		if _, seen := next[e.ID]; seen {
			continue
		}
		next[e.ID] = struct{}{}

		if _, known := d.lastKnownIDs[e.ID]; !known {
			arrived = append(arrived, e)
		}
	}

	d.lastKnownIDs = next

	if !d.primed {
		d.primed = true
		return event.ArrivalBatch{}, false
	}

	if len(arrived) == 0 {
		return event.ArrivalBatch{}, false
	}

	return event.ArrivalBatch{Events: arrived, DetectedAt: now}, true
}

// Reset forgets all known ids; the next snapshot becomes the new baseline
func (d *ChangeDetector) Reset() {
	d.lastKnownIDs = make(map[string]struct{})
	d.primed = false
}
