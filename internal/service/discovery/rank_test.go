package discovery

import (
	"reflect"
	"testing"

	"eventradar/internal/domain/event"
	"eventradar/internal/domain/geo"
	geoService "eventradar/internal/service/geo"
)

func TestRankModes(t *testing.T) {
	center := geo.GeoPoint{Latitude: 40, Longitude: -73}
	at := func(km float64) geo.GeoPoint { return geoService.Destination(center, 90, km) }

	events := []event.Event{
		{ID: "a", Title: "beta", Timestamp: 300, InterestedCount: 2, Location: at(3)},
		{ID: "b", Title: "Alpha", Timestamp: 100, InterestedCount: 9, Location: at(1)},
		{ID: "c", Title: "gamma", Timestamp: 200, InterestedCount: 2, Location: at(2)},
	}

	tests := []struct {
		mode SortMode
		ref  *geo.GeoPoint
		want []string
	}{
		{SortDistance, &center, []string{"b", "c", "a"}},
		{SortDistance, nil, []string{"a", "b", "c"}},
		{SortName, nil, []string{"b", "a", "c"}},
		{SortDateDesc, nil, []string{"a", "c", "b"}},
		{SortDateAsc, nil, []string{"b", "c", "a"}},
		{SortPopularity, nil, []string{"b", "a", "c"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			got := ids(Rank(events, tt.mode, tt.ref))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Rank(%s) = %v, want %v", tt.mode, got, tt.want)
			}
		})
	}

	if got := ids(events); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Rank mutated its input: %v", got)
	}
}

func TestRankIsStable(t *testing.T) {
	events := []event.Event{
		{ID: "x", InterestedCount: 1},
		{ID: "y", InterestedCount: 1},
		{ID: "z", InterestedCount: 1},
	}
	got := ids(Rank(events, SortPopularity, nil))
	if !reflect.DeepEqual(got, []string{"x", "y", "z"}) {
		t.Errorf("ties reordered: %v", got)
	}
}

func TestParseSortMode(t *testing.T) {
	tests := []struct {
		in      string
		want    SortMode
		wantErr bool
	}{
		{"", SortDistance, false},
		{"Name", SortName, false},
		{" date_desc ", SortDateDesc, false},
		{"popularity", SortPopularity, false},
		{"random", "", true},
	}

	for _, tt := range tests {
		got, err := ParseSortMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSortMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSortMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
