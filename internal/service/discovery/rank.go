// internal/service/discovery/rank.go

package discovery

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"eventradar/internal/domain/event"
	"eventradar/internal/domain/geo"
	geoService "eventradar/internal/service/geo"
)

// SortMode identifies the active ordering of a result set
type SortMode string

const (
	SortDistance   SortMode = "distance"
	SortName       SortMode = "name"
	SortDateDesc   SortMode = "date_desc"
	SortDateAsc    SortMode = "date_asc"
	SortPopularity SortMode = "popularity"
)

// ParseSortMode validates a sort mode coming from a transport
func ParseSortMode(s string) (SortMode, error) {
	switch mode := SortMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case SortDistance, SortName, SortDateDesc, SortDateAsc, SortPopularity:
		return mode, nil
	case "":
		return SortDistance, nil
	default:
		return "", fmt.Errorf("unknown sort mode %q", s)
	}
}

// Rank returns a sorted copy of events. The sort is stable so equal keys keep
// their input order. Distance mode without a reference point keeps input order.
func Rank(events []event.Event, mode SortMode, ref *geo.GeoPoint) []event.Event {
	ranked := make([]event.Event, len(events))
	copy(ranked, events)

	switch mode {
	case SortDistance:
		if ref == nil {
			return ranked
		}
		keys := make([]float64, len(ranked))
		for i, e := range ranked {
			keys[i] = geoService.DistanceKm(*ref, e.Location)
		}
		sortStableBy(ranked, keys, func(a, b float64) bool { return a < b })

	case SortName:
		fold := cases.Fold()
		keys := make([]string, len(ranked))
		for i, e := range ranked {
			keys[i] = fold.String(e.Title)
		}
		sortStableBy(ranked, keys, func(a, b string) bool { return a < b })

	case SortDateDesc:
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Timestamp > ranked[j].Timestamp
		})

	case SortDateAsc:
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Timestamp < ranked[j].Timestamp
		})

	case SortPopularity:
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].InterestedCount > ranked[j].InterestedCount
		})
	}

	return ranked
}

// sortStableBy sorts events by precomputed keys, keeping the keys aligned
func sortStableBy[K any](events []event.Event, keys []K, less func(a, b K) bool) {
	idx := make([]int, len(events))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return less(keys[idx[i]], keys[idx[j]])
	})

	sorted := make([]event.Event, len(events))
	for i, k := range idx {
		sorted[i] = events[k]
	}
	copy(events, sorted)
}
