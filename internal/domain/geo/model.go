// internal/domain/geo/model.go

package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidPoint is returned when a coordinate is outside the valid range
var ErrInvalidPoint = errors.New("invalid geo point")

// GeoPoint is an immutable latitude/longitude pair in degrees
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Validate checks that the point is a real coordinate
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return fmt.Errorf("%w: NaN coordinate", ErrInvalidPoint)
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidPoint, p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidPoint, p.Longitude)
	}
	return nil
}

// BoundingBox is an axis-aligned lat/lon rectangle.
// When the box crosses the antimeridian SouthWest.Longitude is greater than
// NorthEast.Longitude.
type BoundingBox struct {
	SouthWest GeoPoint `json:"south_west"`
	NorthEast GeoPoint `json:"north_east"`
}

// CrossesAntimeridian reports whether the longitude range wraps past ±180
func (b BoundingBox) CrossesAntimeridian() bool {
	return b.SouthWest.Longitude > b.NorthEast.Longitude
}

// ContainsLatitude reports whether lat lies within the box's latitude band
func (b BoundingBox) ContainsLatitude(lat float64) bool {
	return lat >= b.SouthWest.Latitude && lat <= b.NorthEast.Latitude
}

// ContainsLongitude reports whether lng lies within the box's longitude range
func (b BoundingBox) ContainsLongitude(lng float64) bool {
	if b.CrossesAntimeridian() {
		return lng >= b.SouthWest.Longitude || lng <= b.NorthEast.Longitude
	}
	return lng >= b.SouthWest.Longitude && lng <= b.NorthEast.Longitude
}

// Contains reports whether p lies inside the box
func (b BoundingBox) Contains(p GeoPoint) bool {
	return b.ContainsLatitude(p.Latitude) && b.ContainsLongitude(p.Longitude)
}

// RangePredicate is a single-field inequality the backing store can evaluate.
// A nil bound is unbounded on that side.
type RangePredicate struct {
	Field string
	Low   interface{}
	High  interface{}
	Limit int
}

// Equals builds a predicate matching a single value of field
func Equals(field string, value interface{}, limit int) RangePredicate {
	return RangePredicate{Field: field, Low: value, High: value, Limit: limit}
}
