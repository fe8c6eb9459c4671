// internal/service/geo/bounds.go

package geo

import (
	"fmt"
	"math"

	"eventradar/internal/domain/event"
	"eventradar/internal/domain/geo"
)

// DefaultPageSize caps how many candidates one pre-filtered query may fetch
const DefaultPageSize = 200

// BoundingBoxFor returns a box guaranteed to contain every point within
// radiusKm of center.
//
// Latitude bounds are clamped to the poles. When the circle reaches a pole the
// longitude range becomes the full [-180, 180]. Otherwise the longitude
// extent is asin(sin(d)/cos(lat)), wrapped across the antimeridian when needed.
func BoundingBoxFor(center geo.GeoPoint, radiusKm float64) (geo.BoundingBox, error) {
	if err := center.Validate(); err != nil {
		return geo.BoundingBox{}, fmt.Errorf("%w: %v", event.ErrInvalidQuery, err)
	}
	if !(radiusKm > 0) {
		return geo.BoundingBox{}, fmt.Errorf("%w: radius must be positive, got %f", event.ErrInvalidQuery, radiusKm)
	}

	d := radiusKm / EarthRadiusKm
	latDelta := toDegrees(d)

	minLat := center.Latitude - latDelta
	maxLat := center.Latitude + latDelta

	fullLongitude := false
	if minLat <= -90 {
		minLat = -90
		fullLongitude = true
	}
	if maxLat >= 90 {
		maxLat = 90
		fullLongitude = true
	}

	minLng, maxLng := -180.0, 180.0
	if !fullLongitude {
		ratio := math.Sin(d) / math.Cos(toRadians(center.Latitude))
		if ratio < 1 {
			lngDelta := toDegrees(math.Asin(ratio))
			if lngDelta < 180 {
				minLng = normalizeLongitude(center.Longitude - lngDelta)
				maxLng = normalizeLongitude(center.Longitude + lngDelta)
			}
		}
	}

	return geo.BoundingBox{
		SouthWest: geo.GeoPoint{Latitude: minLat, Longitude: minLng},
		NorthEast: geo.GeoPoint{Latitude: maxLat, Longitude: maxLng},
	}, nil
}

// PreFilter is the store-side predicate plus the box kept for in-memory refinement
type PreFilter struct {
	Predicate geo.RangePredicate
	Box       geo.BoundingBox
}

// BuildPreFilter turns a query into a latitude range predicate.
// The store can range-filter one field only, so longitude is refined later.
func BuildPreFilter(q event.Query, pageSize int) (PreFilter, error) {
	if err := q.Validate(); err != nil {
		return PreFilter{}, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	box, err := BoundingBoxFor(q.Center, q.RadiusKm)
	if err != nil {
		return PreFilter{}, err
	}

	return PreFilter{
		Predicate: geo.RangePredicate{
			Field: event.FieldLatitude,
			Low:   box.SouthWest.Latitude,
			High:  box.NorthEast.Latitude,
			Limit: pageSize,
		},
		Box: box,
	}, nil
}
