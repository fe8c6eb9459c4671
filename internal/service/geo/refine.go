// internal/service/geo/refine.go

package geo

import (
	"eventradar/internal/domain/event"
	"eventradar/internal/domain/geo"
)

// Refine keeps the candidates inside both the box and the query circle.
// Input order is preserved.
func Refine(candidates []event.Event, box geo.BoundingBox, q event.Query) []event.Event {
	refined, _ := RefineWithDistance(candidates, box, q)
	return refined
}

// RefineWithDistance is Refine that also returns the distance from the query
// center for each kept event, keyed by event id
func RefineWithDistance(candidates []event.Event, box geo.BoundingBox, q event.Query) ([]event.Event, map[string]float64) {
	refined := make([]event.Event, 0, len(candidates))
	distances := make(map[string]float64, len(candidates))

	for _, e := range candidates {
		// The rectangle is a cheap reject; its corners lie outside the circle
		if !box.Contains(e.Location) {
			continue
		}

		d := DistanceKm(q.Center, e.Location)
		if d > q.RadiusKm {
			continue
		}

		refined = append(refined, e)
		distances[e.ID] = d
	}

	return refined, distances
}
