// internal/service/geo/geomath.go

package geo

import (
	"math"

	"eventradar/internal/domain/geo"
)

// EarthRadiusKm is the mean earth radius used by all distance math
const EarthRadiusKm = 6371.0

func toRadians(deg float64) float64 { return deg * math.Pi / 180.0 }
func toDegrees(rad float64) float64 { return rad * 180.0 / math.Pi }

// DistanceKm calculates the great-circle distance between two points in kilometers
func DistanceKm(a, b geo.GeoPoint) float64 {
	// Convert latitude and longitude from degrees to radians
	lat1 := toRadians(a.Latitude)
	lon1 := toRadians(a.Longitude)
	lat2 := toRadians(b.Latitude)
	lon2 := toRadians(b.Longitude)

	// Haversine formula
	dLat := lat2 - lat1
	dLon := lon2 - lon1

	hSin := math.Sin(dLat / 2)
	hSin *= hSin

	vSin := math.Sin(dLon / 2)
	vSin *= vSin

	h := hSin + math.Cos(lat1)*math.Cos(lat2)*vSin

	// Rounding can push h slightly outside [0,1] for near-antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Destination returns the point reached by travelling distanceKm from start
// along the initial bearing (degrees clockwise from north)
func Destination(start geo.GeoPoint, bearingDeg, distanceKm float64) geo.GeoPoint {
	d := distanceKm / EarthRadiusKm
	theta := toRadians(bearingDeg)
	lat1 := toRadians(start.Latitude)
	lon1 := toRadians(start.Longitude)

	sinLat2 := math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(theta)
	lat2 := math.Asin(math.Min(1, math.Max(-1, sinLat2)))
	lon2 := lon1 + math.Atan2(
		math.Sin(theta)*math.Sin(d)*math.Cos(lat1),
		math.Cos(d)-math.Sin(lat1)*math.Sin(lat2),
	)

	return geo.GeoPoint{
		Latitude:  toDegrees(lat2),
		Longitude: normalizeLongitude(toDegrees(lon2)),
	}
}

// Centroid returns the arithmetic mean of the points. It is not projected
// back onto the sphere.
func Centroid(points []geo.GeoPoint) geo.GeoPoint {
	if len(points) == 0 {
		return geo.GeoPoint{}
	}

	var sumLat, sumLng float64
	for _, p := range points {
		sumLat += p.Latitude
		sumLng += p.Longitude
	}

	n := float64(len(points))
	return geo.GeoPoint{Latitude: sumLat / n, Longitude: sumLng / n}
}

// normalizeLongitude wraps lng into [-180, 180]
func normalizeLongitude(lng float64) float64 {
	if lng >= -180 && lng <= 180 {
		return lng
	}
	lng = math.Mod(lng+180, 360)
	if lng < 0 {
		lng += 360
	}
	return lng - 180
}
