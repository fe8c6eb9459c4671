// internal/domain/event/record.go

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"eventradar/internal/domain/geo"
)

// ErrMalformedRecord is returned when a raw record cannot become an Event
var ErrMalformedRecord = errors.New("malformed record")

// Store field names shared by the parser, the store adapters and the range
// predicates built by the discovery engine
const (
	FieldID              = "id"
	FieldTitle           = "title"
	FieldDescription     = "description"
	FieldCategory        = "category"
	FieldCity            = "city"
	FieldCreatedBy       = "created_by"
	FieldTimestamp       = "timestamp"
	FieldLatitude        = "latitude"
	FieldLongitude       = "longitude"
	FieldLocation        = "location"
	FieldInterestedCount = "interested_count"
	FieldPromoted        = "promoted"
	FieldPromotionExpiry = "promotion_expiry"
)

// RawRecord is a schemaless document as delivered by the backing store
type RawRecord map[string]interface{}

// Parse converts a raw record into an Event
func Parse(rec RawRecord) (Event, error) {
	var e Event
	var err error

	if e.ID, err = requiredString(rec, FieldID); err != nil {
		return Event{}, err
	}
	if e.Title, err = optionalString(rec, FieldTitle); err != nil {
		return Event{}, err
	}
	if e.Description, err = optionalString(rec, FieldDescription); err != nil {
		return Event{}, err
	}
	if e.Category, err = optionalString(rec, FieldCategory); err != nil {
		return Event{}, err
	}
	if e.City, err = optionalString(rec, FieldCity); err != nil {
		return Event{}, err
	}
	if e.CreatedBy, err = optionalString(rec, FieldCreatedBy); err != nil {
		return Event{}, err
	}

	if v, ok := rec[FieldTimestamp]; ok && v != nil {
		if e.Timestamp, err = toMillis(v); err != nil {
			return Event{}, fieldErr(FieldTimestamp, err)
		}
	}

	if e.Location, err = parseLocation(rec); err != nil {
		return Event{}, err
	}

	if v, ok := rec[FieldInterestedCount]; ok && v != nil {
		n, err := toFloat(v)
		if err != nil {
			return Event{}, fieldErr(FieldInterestedCount, err)
		}
		if n < 0 {
			return Event{}, fieldErr(FieldInterestedCount, fmt.Errorf("negative count %v", n))
		}
		e.InterestedCount = int(n)
	}

	if v, ok := rec[FieldPromoted]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return Event{}, fieldErr(FieldPromoted, fmt.Errorf("unexpected type %T", v))
		}
		e.PromotionFlag = b
	}

	if v, ok := rec[FieldPromotionExpiry]; ok && v != nil {
		ms, err := toMillis(v)
		if err != nil {
			return Event{}, fieldErr(FieldPromotionExpiry, err)
		}
		e.PromotionExpiry = &ms
	}

	return e, nil
}

// ParseAll converts records, dropping malformed ones. It returns the number
// of dropped records alongside the parsed events.
func ParseAll(recs []RawRecord) ([]Event, int) {
	events := make([]Event, 0, len(recs))
	dropped := 0
	for _, rec := range recs {
		e, err := Parse(rec)
		if err != nil {
			dropped++
			continue
		}
		events = append(events, e)
	}
	return events, dropped
}

func parseLocation(rec RawRecord) (geo.GeoPoint, error) {
	var p geo.GeoPoint

	switch loc := rec[FieldLocation].(type) {
	case geo.GeoPoint:
		p = loc
	case *geo.GeoPoint:
		if loc == nil {
			return p, fieldErr(FieldLocation, errors.New("nil point"))
		}
		p = *loc
	case map[string]interface{}:
		lat, err := toFloat(firstOf(loc, "latitude", "lat"))
		if err != nil {
			return p, fieldErr(FieldLocation, err)
		}
		lng, err := toFloat(firstOf(loc, "longitude", "lng"))
		if err != nil {
			return p, fieldErr(FieldLocation, err)
		}
		p = geo.GeoPoint{Latitude: lat, Longitude: lng}
	case nil:
		lat, err := toFloat(rec[FieldLatitude])
		if err != nil {
			return p, fieldErr(FieldLatitude, err)
		}
		lng, err := toFloat(rec[FieldLongitude])
		if err != nil {
			return p, fieldErr(FieldLongitude, err)
		}
		p = geo.GeoPoint{Latitude: lat, Longitude: lng}
	default:
		return p, fieldErr(FieldLocation, fmt.Errorf("unexpected type %T", loc))
	}

	if err := p.Validate(); err != nil {
		return geo.GeoPoint{}, fieldErr(FieldLocation, err)
	}
	return p, nil
}

func firstOf(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func requiredString(rec RawRecord, key string) (string, error) {
	s, err := optionalString(rec, key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fieldErr(key, errors.New("missing"))
	}
	return s, nil
}

func optionalString(rec RawRecord, key string) (string, error) {
	v, ok := rec[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fieldErr(key, fmt.Errorf("unexpected type %T", v))
	}
	return s, nil
}

func toFloat(v interface{}) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return f, nil
}

func toMillis(v interface{}) (int64, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli(), nil
	case *time.Time:
		if t == nil {
			return 0, errors.New("nil time")
		}
		return t.UnixMilli(), nil
	case int64:
		return t, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func fieldErr(field string, err error) error {
	return fmt.Errorf("%w: field %q: %v", ErrMalformedRecord, field, err)
}
