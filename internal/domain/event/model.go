// internal/domain/event/model.go

package event

import (
	"errors"
	"fmt"
	"time"

	"eventradar/internal/domain/geo"
)

// ErrInvalidQuery is returned for precondition violations on a query
var ErrInvalidQuery = errors.New("invalid query")

// Event is a user-generated, geo-tagged event. The core only reads events.
type Event struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Category        string       `json:"category,omitempty"`
	City            string       `json:"city,omitempty"`
	CreatedBy       string       `json:"created_by"`
	Timestamp       int64        `json:"timestamp"` // epoch milliseconds
	Location        geo.GeoPoint `json:"location"`
	InterestedCount int          `json:"interested_count"`
	PromotionFlag   bool         `json:"promoted"`
	PromotionExpiry *int64       `json:"promotion_expiry,omitempty"` // epoch milliseconds
}

// IsHighlighted reports whether the event is promoted and the promotion has
// not expired at now
func (e Event) IsHighlighted(now time.Time) bool {
	if !e.PromotionFlag {
		return false
	}
	if e.PromotionExpiry == nil {
		return true
	}
	return *e.PromotionExpiry > now.UnixMilli()
}

// Filters are the optional attribute filters applied after geo refinement
type Filters struct {
	Category        string `json:"category,omitempty"`
	City            string `json:"city,omitempty"`
	Keyword         string `json:"keyword,omitempty"`
	HighlightedOnly bool   `json:"highlighted_only,omitempty"`
}

// IsEmpty reports whether no filter is set
func (f Filters) IsEmpty() bool {
	return f.Category == "" && f.City == "" && f.Keyword == "" && !f.HighlightedOnly
}

// Query is a transient nearby search around a viewport center
type Query struct {
	Center   geo.GeoPoint
	RadiusKm float64
	Filters  Filters
}

// Validate fails fast on programmer errors; values are never clamped
func (q Query) Validate() error {
	if err := q.Center.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if !(q.RadiusKm > 0) {
		return fmt.Errorf("%w: radius must be positive, got %f", ErrInvalidQuery, q.RadiusKm)
	}
	return nil
}

// Cluster is an aggregated map marker for a dense group of events
type Cluster struct {
	Position        geo.GeoPoint `json:"position"`
	Members         []Event      `json:"members"`
	InterestedCount int          `json:"interested_count"`
}

// Total returns the number of member events
func (c Cluster) Total() int {
	return len(c.Members)
}

// Marker is a single event rendered on its own
type Marker struct {
	Event       Event `json:"event"`
	Highlighted bool  `json:"highlighted"`
	Interested  bool  `json:"interested"`
}

// Layer is the full clustering output for one viewport
type Layer struct {
	Clusters []Cluster `json:"clusters"`
	Markers  []Marker  `json:"markers"`
}

// ArrivalBatch carries the events that appeared in one snapshot
type ArrivalBatch struct {
	Events     []Event
	DetectedAt time.Time
}

// First returns the triggering event of the batch
func (b ArrivalBatch) First() Event {
	if len(b.Events) == 0 {
		return Event{}
	}
	return b.Events[0]
}

// AlertState is the visual alert pulse exposed to the presentation layer
type AlertState struct {
	Active      bool      `json:"active"`
	TriggeredAt time.Time `json:"triggered_at,omitempty"`
	Trigger     *Event    `json:"trigger,omitempty"`
}

// NotificationRequest is handed to an external delivery collaborator
type NotificationRequest struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	TargetID string `json:"target_id"`
}

// IDSet is a set of event ids
type IDSet map[string]struct{}

// NewIDSet builds a set from ids
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set. A nil set is empty.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}
