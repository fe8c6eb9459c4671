// internal/service/discovery/filter.go

package discovery

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"eventradar/internal/domain/event"
)

// FilterPipeline applies the attribute filters left to right.
// Every stage is the identity when its parameter is blank.
type FilterPipeline struct {
	now func() time.Time
}

// NewFilterPipeline creates a pipeline; now decides promotion expiry
func NewFilterPipeline(now func() time.Time) *FilterPipeline {
	if now == nil {
		now = time.Now
	}
	return &FilterPipeline{now: now}
}

// Apply runs category, city, keyword and highlighted-only in that order.
// Cheap equality checks run before substring search.
func (p *FilterPipeline) Apply(events []event.Event, f event.Filters) []event.Event {
	out := ByCategory(events, f.Category)
	out = ByCity(out, f.City)
	out = ByKeyword(out, f.Keyword)
	out = ByHighlighted(out, f.HighlightedOnly, p.now())
	return out
}

// ByCategory keeps events whose category equals category
func ByCategory(events []event.Event, category string) []event.Event {
	if strings.TrimSpace(category) == "" {
		return events
	}
	return keep(events, func(e event.Event) bool {
		return e.Category == category
	})
}

// ByCity keeps events in city, ignoring case
func ByCity(events []event.Event, city string) []event.Event {
	city = strings.TrimSpace(city)
	if city == "" {
		return events
	}
	fold := cases.Fold()
	want := fold.String(city)
	return keep(events, func(e event.Event) bool {
		return fold.String(strings.TrimSpace(e.City)) == want
	})
}

// ByKeyword keeps events whose title or description contains keyword, ignoring case
func ByKeyword(events []event.Event, keyword string) []event.Event {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return events
	}
	fold := cases.Fold()
	want := fold.String(keyword)
	return keep(events, func(e event.Event) bool {
		return strings.Contains(fold.String(e.Title), want) ||
			strings.Contains(fold.String(e.Description), want)
	})
}

// ByHighlighted keeps only highlighted events when enabled
func ByHighlighted(events []event.Event, enabled bool, now time.Time) []event.Event {
	if !enabled {
		return events
	}
	return keep(events, func(e event.Event) bool {
		return e.IsHighlighted(now)
	})
}

func keep(events []event.Event, pred func(event.Event) bool) []event.Event {
	out := make([]event.Event, 0, len(events))
	for _, e := range events {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}
