// internal/domain/event/store.go

package event

import (
	"context"
	"errors"

	"eventradar/internal/domain/geo"
)

// ErrNotFound is returned by Store.GetByID when no record has the id
var ErrNotFound = errors.New("event not found")

// Snapshot is one full result list delivered by a live subscription.
// A snapshot with Err set is the last value on its stream.
type Snapshot struct {
	Records []RawRecord
	Err     error
}

// Store is the abstract document store the discovery core reads from
type Store interface {
	// RangeQuery returns at most pred.Limit records matching a single-field range
	RangeQuery(ctx context.Context, pred geo.RangePredicate) ([]RawRecord, error)

	// Subscribe streams a full snapshot for pred on every backing change.
	// The channel is closed after an error snapshot or when ctx is done.
	Subscribe(ctx context.Context, pred geo.RangePredicate) (<-chan Snapshot, error)

	// GetByID returns one record or ErrNotFound
	GetByID(ctx context.Context, id string) (RawRecord, error)
}

// Notifier hands notification requests to an external delivery collaborator
type Notifier interface {
	Dispatch(ctx context.Context, req NotificationRequest) error
}
