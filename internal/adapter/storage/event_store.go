// internal/adapter/storage/event_store.go

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"eventradar/internal/domain/event"
	"eventradar/internal/domain/geo"
)

// ChangeChannel is the LISTEN/NOTIFY channel raised on every write to events
const ChangeChannel = "event_changes"

// fieldColumns maps store field names onto the columns a range predicate may use
var fieldColumns = map[string]string{
	event.FieldID:              "id",
	event.FieldCategory:        "category",
	event.FieldCity:            "city",
	event.FieldCreatedBy:       "created_by",
	event.FieldTimestamp:       "timestamp_ms",
	event.FieldLatitude:        "latitude",
	event.FieldLongitude:       "longitude",
	event.FieldInterestedCount: "interested_count",
}

// columnFields maps selected columns back onto record field names
var columnFields = map[string]string{
	"id":               event.FieldID,
	"title":            event.FieldTitle,
	"description":      event.FieldDescription,
	"category":         event.FieldCategory,
	"city":             event.FieldCity,
	"created_by":       event.FieldCreatedBy,
	"timestamp_ms":     event.FieldTimestamp,
	"latitude":         event.FieldLatitude,
	"longitude":        event.FieldLongitude,
	"interested_count": event.FieldInterestedCount,
	"promoted":         event.FieldPromoted,
	"promotion_expiry": event.FieldPromotionExpiry,
}

const selectColumns = `
	id, title, description, category, city, created_by, timestamp_ms,
	latitude, longitude, interested_count, promoted, promotion_expiry
`

// EventStore implements event.Store on PostgreSQL
type EventStore struct {
	db     *pgxpool.Pool
	feed   *changeFeed
	logger *slog.Logger
}

// NewEventStore creates a new event store
func NewEventStore(db *pgxpool.Pool, logger *slog.Logger) *EventStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &EventStore{
		db:     db,
		logger: logger,
	}
	s.feed = newChangeFeed(s.listen, logger)
	return s
}

// EnsureSchema creates the events table, its range indexes and the change
// notification trigger
func (s *EventStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id               TEXT PRIMARY KEY,
			title            TEXT NOT NULL DEFAULT '',
			description      TEXT NOT NULL DEFAULT '',
			category         TEXT,
			city             TEXT,
			created_by       TEXT NOT NULL DEFAULT '',
			timestamp_ms     BIGINT NOT NULL DEFAULT 0,
			latitude         DOUBLE PRECISION NOT NULL,
			longitude        DOUBLE PRECISION NOT NULL,
			interested_count INTEGER NOT NULL DEFAULT 0,
			promoted         BOOLEAN NOT NULL DEFAULT FALSE,
			promotion_expiry BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS events_latitude_idx ON events (latitude)`,
		`CREATE INDEX IF NOT EXISTS events_category_idx ON events (category)`,
		`CREATE INDEX IF NOT EXISTS events_timestamp_idx ON events (timestamp_ms DESC)`,
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION notify_event_change() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('%s', '');
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`, ChangeChannel),
		`DROP TRIGGER IF EXISTS events_notify ON events`,
		`CREATE TRIGGER events_notify
			AFTER INSERT OR UPDATE OR DELETE ON events
			FOR EACH STATEMENT EXECUTE FUNCTION notify_event_change()`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("error ensuring schema: %w", err)
		}
	}
	return nil
}

// RangeQuery returns at most pred.Limit records matching the predicate
func (s *EventStore) RangeQuery(ctx context.Context, pred geo.RangePredicate) ([]event.RawRecord, error) {
	query, args, err := buildRangeQuery(pred)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetByID returns one record or event.ErrNotFound
func (s *EventStore) GetByID(ctx context.Context, id string) (event.RawRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM events WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("error querying event: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, event.ErrNotFound
	}
	return records[0], nil
}

// Subscribe delivers an initial snapshot for pred and a fresh one after every
// change notification. All subscriptions share one listening connection and
// run their snapshot queries on short-lived pooled connections.
func (s *EventStore) Subscribe(ctx context.Context, pred geo.RangePredicate) (<-chan event.Snapshot, error) {
	if _, _, err := buildRangeQuery(pred); err != nil {
		return nil, err
	}

	sub, err := s.feed.join(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan event.Snapshot, 1)
	go func() {
		defer s.feed.leave(sub)
		streamSnapshots(ctx, s.RangeQuery, sub, pred, out, s.logger)
	}()
	return out, nil
}

// Close stops the shared change listener. Open subscriptions receive an
// error snapshot.
func (s *EventStore) Close() {
	s.feed.close()
}

// listen acquires the connection that holds the LISTEN for the change feed
func (s *EventStore) listen(ctx context.Context) (notificationWaiter, error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("error acquiring listener connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChangeChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("error listening for changes: %w", err)
	}
	return &pgListener{conn: conn}, nil
}

// pgListener waits for notifications on a pooled connection
type pgListener struct {
	conn *pgxpool.Conn
}

func (l *pgListener) WaitForNotification(ctx context.Context) error {
	_, err := l.conn.Conn().WaitForNotification(ctx)
	return err
}

func (l *pgListener) Close() {
	// The connection goes back to the pool; drop the LISTEN first
	if _, err := l.conn.Exec(context.Background(), "UNLISTEN *"); err != nil {
		l.conn.Conn().Close(context.Background())
	}
	l.conn.Release()
}

type rangeQueryFunc func(ctx context.Context, pred geo.RangePredicate) ([]event.RawRecord, error)

// streamSnapshots queries pred, delivers the snapshot and waits for the next
// change signal. It closes out after delivering the first error.
func streamSnapshots(
	ctx context.Context,
	query rangeQueryFunc,
	sub *feedSubscriber,
	pred geo.RangePredicate,
	out chan<- event.Snapshot,
	logger *slog.Logger,
) {
	defer close(out)

	for {
		records, err := query(ctx, pred)
		if ctx.Err() != nil {
			return
		}

		select {
		case out <- event.Snapshot{Records: records, Err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-sub.signal:
		case err := <-sub.failed:
			logger.Warn("Change feed ended", "error", err)
			select {
			case out <- event.Snapshot{Err: fmt.Errorf("error waiting for notification: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
	}
}

func buildRangeQuery(pred geo.RangePredicate) (string, []interface{}, error) {
	column, ok := fieldColumns[pred.Field]
	if !ok {
		return "", nil, fmt.Errorf("unsupported range field %q", pred.Field)
	}

	var where []string
	var args []interface{}

	if pred.Low != nil && pred.High != nil && pred.Low == pred.High {
		args = append(args, pred.Low)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	} else {
		if pred.Low != nil {
			args = append(args, pred.Low)
			where = append(where, fmt.Sprintf("%s >= $%d", column, len(args)))
		}
		if pred.High != nil {
			args = append(args, pred.High)
			where = append(where, fmt.Sprintf("%s <= $%d", column, len(args)))
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectColumns)
	b.WriteString(" FROM events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	// Timestamp ranges serve "latest first" listings
	if pred.Field == event.FieldTimestamp {
		fmt.Fprintf(&b, " ORDER BY %s DESC", column)
	} else {
		fmt.Fprintf(&b, " ORDER BY %s", column)
	}

	if pred.Limit > 0 {
		args = append(args, pred.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	return b.String(), args, nil
}

func scanRecords(rows pgx.Rows) ([]event.RawRecord, error) {
	fields := rows.FieldDescriptions()
	records := []event.RawRecord{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("error scanning event: %w", err)
		}

		rec := make(event.RawRecord, len(values))
		for i, v := range values {
			if v == nil {
				continue
			}
			name := string(fields[i].Name)
			if f, ok := columnFields[name]; ok {
				name = f
			}
			rec[name] = v
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return records, nil
}
