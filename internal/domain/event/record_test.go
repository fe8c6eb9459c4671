package event

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"eventradar/internal/domain/geo"
)

func TestParse(t *testing.T) {
	created := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rec  RawRecord
		want func(t *testing.T, e Event)
	}{
		{
			name: "flat coordinates and native types",
			rec: RawRecord{
				FieldID: "ev-1", FieldTitle: "Jazz Night", FieldCategory: "music",
				FieldLatitude: 40.7, FieldLongitude: -73.9,
				FieldTimestamp: created, FieldInterestedCount: int32(4),
				FieldPromoted: true, FieldPromotionExpiry: int64(1_800_000_000_000),
			},
			want: func(t *testing.T, e Event) {
				if e.Location != (geo.GeoPoint{Latitude: 40.7, Longitude: -73.9}) {
					t.Errorf("Location = %+v", e.Location)
				}
				if e.Timestamp != created.UnixMilli() || e.InterestedCount != 4 {
					t.Errorf("Timestamp = %d, InterestedCount = %d", e.Timestamp, e.InterestedCount)
				}
				if !e.PromotionFlag || e.PromotionExpiry == nil || *e.PromotionExpiry != 1_800_000_000_000 {
					t.Errorf("promotion = %v %v", e.PromotionFlag, e.PromotionExpiry)
				}
			},
		},
		{
			name: "nested location map",
			rec: RawRecord{
				FieldID:       "ev-2",
				FieldLocation: map[string]interface{}{"lat": json.Number("51.5"), "lng": -0.12},
			},
			want: func(t *testing.T, e Event) {
				if e.Location.Latitude != 51.5 || e.Location.Longitude != -0.12 {
					t.Errorf("Location = %+v", e.Location)
				}
			},
		},
		{
			name: "geo point value",
			rec:  RawRecord{FieldID: "ev-3", FieldLocation: geo.GeoPoint{Latitude: 1, Longitude: 2}},
			want: func(t *testing.T, e Event) {
				if e.Location.Longitude != 2 {
					t.Errorf("Location = %+v", e.Location)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.rec)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tt.want(t, e)
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		rec  RawRecord
	}{
		{"missing id", RawRecord{FieldLatitude: 1.0, FieldLongitude: 1.0}},
		{"missing location", RawRecord{FieldID: "x"}},
		{"latitude out of range", RawRecord{FieldID: "x", FieldLatitude: 91.0, FieldLongitude: 0.0}},
		{"string latitude", RawRecord{FieldID: "x", FieldLatitude: "40", FieldLongitude: 0.0}},
		{"negative interest", RawRecord{FieldID: "x", FieldLatitude: 1.0, FieldLongitude: 1.0, FieldInterestedCount: -1}},
		{"non-bool promoted", RawRecord{FieldID: "x", FieldLatitude: 1.0, FieldLongitude: 1.0, FieldPromoted: "yes"}},
		{"numeric title", RawRecord{FieldID: "x", FieldTitle: 7, FieldLatitude: 1.0, FieldLongitude: 1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.rec); !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("error = %v, want ErrMalformedRecord", err)
			}
		})
	}
}

func TestParseAllDropsMalformed(t *testing.T) {
	events, dropped := ParseAll([]RawRecord{
		{FieldID: "a", FieldLatitude: 1.0, FieldLongitude: 1.0},
		{FieldTitle: "no id"},
		{FieldID: "b", FieldLatitude: 2.0, FieldLongitude: 2.0},
	})
	if dropped != 1 || len(events) != 2 || events[0].ID != "a" || events[1].ID != "b" {
		t.Errorf("ParseAll = %+v, dropped %d", events, dropped)
	}
}

func TestIsHighlighted(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute).UnixMilli()
	future := now.Add(time.Minute).UnixMilli()

	tests := []struct {
		name string
		e    Event
		want bool
	}{
		{"not promoted", Event{}, false},
		{"promoted forever", Event{PromotionFlag: true}, true},
		{"promotion expired", Event{PromotionFlag: true, PromotionExpiry: &past}, false},
		{"promotion running", Event{PromotionFlag: true, PromotionExpiry: &future}, true},
	}

	for _, tt := range tests {
		if got := tt.e.IsHighlighted(now); got != tt.want {
			t.Errorf("%s: IsHighlighted = %v, want %v", tt.name, got, tt.want)
		}
	}
}
