package geo

import (
	"fmt"
	"math"
	"testing"
	"time"

	"eventradar/internal/domain/event"
	"eventradar/internal/domain/geo"
)

var clusterNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func nearbyEvents(n int, center geo.GeoPoint, spacingKm float64) []event.Event {
	events := make([]event.Event, n)
	for i := range events {
		events[i] = event.Event{
			ID:       fmt.Sprintf("ev-%d", i),
			Location: Destination(center, float64(i)*360/float64(n), spacingKm),
		}
	}
	return events
}

func TestClusterThreshold(t *testing.T) {
	engine := NewClusterEngine(ClusterConfig{})
	center := geo.GeoPoint{Latitude: 40, Longitude: -73}

	tests := []struct {
		name         string
		count        int
		wantClusters int
		wantMarkers  int
	}{
		{name: "below threshold renders individually", count: DefaultMinClusterSize - 1, wantClusters: 0, wantMarkers: DefaultMinClusterSize - 1},
		{name: "at threshold merges", count: DefaultMinClusterSize, wantClusters: 1, wantMarkers: 0},
		{name: "above threshold merges", count: 12, wantClusters: 1, wantMarkers: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layer := engine.Cluster(nearbyEvents(tt.count, center, 0.2), 12, nil, clusterNow)

			if len(layer.Clusters) != tt.wantClusters {
				t.Fatalf("clusters = %d, want %d", len(layer.Clusters), tt.wantClusters)
			}
			if len(layer.Markers) != tt.wantMarkers {
				t.Fatalf("markers = %d, want %d", len(layer.Markers), tt.wantMarkers)
			}
			if tt.wantClusters == 1 && layer.Clusters[0].Total() != tt.count {
				t.Errorf("cluster total = %d, want %d", layer.Clusters[0].Total(), tt.count)
			}
		})
	}
}

func TestClusterInterestedSubsetAndCentroid(t *testing.T) {
	engine := NewClusterEngine(ClusterConfig{})
	center := geo.GeoPoint{Latitude: 40, Longitude: -73}
	events := nearbyEvents(4, center, 0.1)

	layer := engine.Cluster(events, 12, event.NewIDSet("ev-1", "ev-3", "unknown"), clusterNow)
	if len(layer.Clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(layer.Clusters))
	}

	c := layer.Clusters[0]
	if c.InterestedCount != 2 {
		t.Errorf("InterestedCount = %d, want 2", c.InterestedCount)
	}

	locs := make([]geo.GeoPoint, len(events))
	for i, e := range events {
		locs[i] = e.Location
	}
	want := Centroid(locs)
	if math.Abs(c.Position.Latitude-want.Latitude) > 1e-12 || math.Abs(c.Position.Longitude-want.Longitude) > 1e-12 {
		t.Errorf("Position = %v, want %v", c.Position, want)
	}
}

func TestClusterDependsOnZoom(t *testing.T) {
	engine := NewClusterEngine(ClusterConfig{})
	center := geo.GeoPoint{Latitude: 40, Longitude: -73}
	events := nearbyEvents(5, center, 2)

	zoomedOut := engine.Cluster(events, 8, nil, clusterNow)
	if len(zoomedOut.Clusters) != 1 || zoomedOut.Clusters[0].Total() != 5 {
		t.Errorf("zoom 8: got %d clusters, %d markers; want one cluster of 5",
			len(zoomedOut.Clusters), len(zoomedOut.Markers))
	}

	zoomedIn := engine.Cluster(events, 16, nil, clusterNow)
	if len(zoomedIn.Clusters) != 0 || len(zoomedIn.Markers) != 5 {
		t.Errorf("zoom 16: got %d clusters, %d markers; want five markers",
			len(zoomedIn.Clusters), len(zoomedIn.Markers))
	}
}

func TestClusterSeparateGroups(t *testing.T) {
	engine := NewClusterEngine(ClusterConfig{MinClusterSize: 3})

	a := nearbyEvents(3, geo.GeoPoint{Latitude: 40, Longitude: -73}, 0.1)
	b := nearbyEvents(4, geo.GeoPoint{Latitude: 41, Longitude: -74}, 0.1)
	for i := range b {
		b[i].ID = "b-" + b[i].ID
	}
	lone := event.Event{
		ID:            "lone",
		Location:      geo.GeoPoint{Latitude: 39, Longitude: -72},
		PromotionFlag: true,
	}

	events := append(append(append([]event.Event{}, a...), b...), lone)
	layer := engine.Cluster(events, 12, event.NewIDSet("lone"), clusterNow)

	if len(layer.Clusters) != 2 {
		t.Fatalf("clusters = %d, want 2", len(layer.Clusters))
	}
	if layer.Clusters[0].Total() != 3 || layer.Clusters[1].Total() != 4 {
		t.Errorf("cluster totals = %d, %d; want 3, 4", layer.Clusters[0].Total(), layer.Clusters[1].Total())
	}
	if len(layer.Markers) != 1 {
		t.Fatalf("markers = %d, want 1", len(layer.Markers))
	}
	m := layer.Markers[0]
	if m.Event.ID != "lone" || !m.Highlighted || !m.Interested {
		t.Errorf("marker = %+v, want highlighted and interested lone event", m)
	}
}

func TestClusterIsRecomputedFromScratch(t *testing.T) {
	engine := NewClusterEngine(ClusterConfig{})
	center := geo.GeoPoint{Latitude: 40, Longitude: -73}
	events := nearbyEvents(3, center, 0.1)

	first := engine.Cluster(events, 12, nil, clusterNow)
	second := engine.Cluster(events[:2], 12, nil, clusterNow)
	third := engine.Cluster(events, 12, nil, clusterNow)

	if len(first.Clusters) != 1 || len(second.Clusters) != 0 || len(third.Clusters) != 1 {
		t.Errorf("cluster counts = %d, %d, %d; want 1, 0, 1",
			len(first.Clusters), len(second.Clusters), len(third.Clusters))
	}
}

func TestClusterEmptyInput(t *testing.T) {
	layer := NewClusterEngine(ClusterConfig{}).Cluster(nil, 10, nil, clusterNow)
	if layer.Clusters == nil || layer.Markers == nil {
		t.Errorf("expected non-nil empty slices, got %+v", layer)
	}
}

func TestValidZoom(t *testing.T) {
	tests := []struct {
		zoom float64
		want bool
	}{
		{0, true},
		{13.5, true},
		{MaxZoom, true},
		{-0.5, false},
		{MaxZoom + 1, false},
		{math.NaN(), false},
		{math.Inf(1), false},
		{math.Inf(-1), false},
	}

	for _, tt := range tests {
		if got := ValidZoom(tt.zoom); got != tt.want {
			t.Errorf("ValidZoom(%v) = %v, want %v", tt.zoom, got, tt.want)
		}
	}
}
