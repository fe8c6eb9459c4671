// internal/service/geo/cluster.go

package geo

import (
	"math"
	"sort"
	"time"

	"eventradar/internal/domain/event"
	"eventradar/internal/domain/geo"
)

const (
	// DefaultClusterRadiusPx is the screen-space grouping distance
	DefaultClusterRadiusPx = 60.0

	// DefaultMinClusterSize is the smallest group rendered as a cluster
	DefaultMinClusterSize = 3

	// MaxZoom is the deepest zoom level a map client requests
	MaxZoom = 24.0

	tileSize = 256.0

	// Web Mercator is undefined at the poles
	maxMercatorLatitude = 85.05112878
)

// ClusterConfig contains configuration for the cluster engine
type ClusterConfig struct {
	RadiusPx       float64
	MinClusterSize int
}

// ClusterEngine groups events into map clusters. It holds no state between
// calls: every call recomputes the layer from scratch.
type ClusterEngine struct {
	config ClusterConfig
}

// NewClusterEngine creates a cluster engine, filling zero config values with defaults
func NewClusterEngine(config ClusterConfig) *ClusterEngine {
	if config.RadiusPx <= 0 {
		config.RadiusPx = DefaultClusterRadiusPx
	}
	if config.MinClusterSize <= 0 {
		config.MinClusterSize = DefaultMinClusterSize
	}
	return &ClusterEngine{config: config}
}

// ValidZoom reports whether zoom is a finite level in [0, MaxZoom]
func ValidZoom(zoom float64) bool {
	return !math.IsNaN(zoom) && zoom >= 0 && zoom <= MaxZoom
}

type point struct {
	x, y float64
}

type cell struct {
	x, y int
}

// Cluster partitions events for the given zoom. Groups below the minimum size
// are returned as individual markers.
func (c *ClusterEngine) Cluster(
	events []event.Event,
	zoom float64,
	interested event.IDSet,
	now time.Time,
) event.Layer {
	layer := event.Layer{
		Clusters: []event.Cluster{},
		Markers:  []event.Marker{},
	}
	if len(events) == 0 {
		return layer
	}

	scale := tileSize * math.Pow(2, zoom)
	radius := c.config.RadiusPx

	// Project once and bucket into a grid of radius-sized cells
	points := make([]point, len(events))
	grid := make(map[cell][]int)
	for i, e := range events {
		p := project(e.Location, scale)
		points[i] = p
		k := cellOf(p, radius)
		grid[k] = append(grid[k], i)
	}

	claimed := make([]bool, len(events))

	for i := range events {
		if claimed[i] {
			continue
		}

		// Start a new group seeded with this event
		claimed[i] = true
		group := []int{i}

		for _, j := range neighbours(grid, cellOf(points[i], radius)) {
			if claimed[j] {
				continue
			}
			if pixelDistance(points[i], points[j]) <= radius {
				claimed[j] = true
				group = append(group, j)
			}
		}

		if len(group) < c.config.MinClusterSize {
			for _, idx := range group {
				e := events[idx]
				layer.Markers = append(layer.Markers, event.Marker{
					Event:       e,
					Highlighted: e.IsHighlighted(now),
					Interested:  interested.Has(e.ID),
				})
			}
			continue
		}

		layer.Clusters = append(layer.Clusters, buildCluster(events, group, interested))
	}

	return layer
}

func buildCluster(events []event.Event, group []int, interested event.IDSet) event.Cluster {
	members := make([]event.Event, 0, len(group))
	locations := make([]geo.GeoPoint, 0, len(group))
	interestedCount := 0

	for _, idx := range group {
		e := events[idx]
		members = append(members, e)
		locations = append(locations, e.Location)
		if interested.Has(e.ID) {
			interestedCount++
		}
	}

	return event.Cluster{
		Position:        Centroid(locations),
		Members:         members,
		InterestedCount: interestedCount,
	}
}

// neighbours returns the indexes in the 3x3 block around k in ascending order
// so grouping is deterministic for a given input order
func neighbours(grid map[cell][]int, k cell) []int {
	var out []int
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			out = append(out, grid[cell{x: k.x + dx, y: k.y + dy}]...)
		}
	}
	sort.Ints(out)
	return out
}

func cellOf(p point, size float64) cell {
	return cell{x: int(math.Floor(p.x / size)), y: int(math.Floor(p.y / size))}
}

// project maps a point to Web Mercator world pixels at the given scale
func project(p geo.GeoPoint, scale float64) point {
	lat := math.Max(-maxMercatorLatitude, math.Min(maxMercatorLatitude, p.Latitude))
	sinLat := math.Sin(toRadians(lat))

	x := (p.Longitude + 180.0) / 360.0
	y := 0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)

	return point{x: x * scale, y: y * scale}
}

func pixelDistance(a, b point) float64 {
	return math.Hypot(a.x-b.x, a.y-b.y)
}
