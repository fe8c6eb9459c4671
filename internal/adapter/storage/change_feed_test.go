package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eventradar/internal/domain/event"
	"eventradar/internal/domain/geo"
)

type fakeWaiter struct {
	notify chan error
	closed chan struct{}
	once   sync.Once
}

func (w *fakeWaiter) WaitForNotification(ctx context.Context) error {
	select {
	case err := <-w.notify:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *fakeWaiter) Close() {
	w.once.Do(func() { close(w.closed) })
}

// fakeListener hands out one waiter per listen call
type fakeListener struct {
	mu      sync.Mutex
	waiters []*fakeWaiter
}

func (l *fakeListener) listen(ctx context.Context) (notificationWaiter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := &fakeWaiter{notify: make(chan error), closed: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	return w, nil
}

func (l *fakeListener) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

func (l *fakeListener) waiter(i int) *fakeWaiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters[i]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testPred = geo.RangePredicate{Field: event.FieldLatitude, Low: 39.9, High: 40.1, Limit: 10}

// countingQuery returns a snapshot whose single record carries the call count
func countingQuery() rangeQueryFunc {
	var n atomic.Int64
	return func(ctx context.Context, pred geo.RangePredicate) ([]event.RawRecord, error) {
		return []event.RawRecord{{event.FieldID: n.Add(1)}}, nil
	}
}

// openStream mirrors EventStore.Subscribe on top of a feed
func openStream(t *testing.T, feed *changeFeed, query rangeQueryFunc) (<-chan event.Snapshot, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := feed.join(ctx)
	if err != nil {
		cancel()
		t.Fatalf("join: %v", err)
	}
	out := make(chan event.Snapshot, 1)
	go func() {
		defer feed.leave(sub)
		streamSnapshots(ctx, query, sub, testPred, out, discardLogger())
	}()
	return out, cancel
}

func nextSnapshot(t *testing.T, ch <-chan event.Snapshot) event.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("snapshot channel closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return event.Snapshot{}
}

func waitClosed(t *testing.T, ch <-chan event.Snapshot) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("snapshot channel not closed")
		}
	}
}

func sendNotification(t *testing.T, w *fakeWaiter, err error) {
	t.Helper()
	select {
	case w.notify <- err:
	case <-time.After(2 * time.Second):
		t.Fatal("listener is not waiting")
	}
}

func TestChangeFeedSharesOneListener(t *testing.T) {
	l := &fakeListener{}
	feed := newChangeFeed(l.listen, discardLogger())

	var streams []<-chan event.Snapshot
	var cancels []context.CancelFunc
	for i := 0; i < 5; i++ {
		out, cancel := openStream(t, feed, countingQuery())
		streams = append(streams, out)
		cancels = append(cancels, cancel)
	}

	if got := l.calls(); got != 1 {
		t.Fatalf("listen called %d times for 5 subscriptions, want 1", got)
	}

	for i, out := range streams {
		if snap := nextSnapshot(t, out); snap.Err != nil || snap.Records[0][event.FieldID] != int64(1) {
			t.Errorf("stream %d initial snapshot = %+v", i, snap)
		}
	}

	sendNotification(t, l.waiter(0), nil)
	for i, out := range streams {
		if snap := nextSnapshot(t, out); snap.Err != nil || snap.Records[0][event.FieldID] != int64(2) {
			t.Errorf("stream %d snapshot after change = %+v", i, snap)
		}
	}

	for i, cancel := range cancels {
		cancel()
		waitClosed(t, streams[i])
	}

	select {
	case <-l.waiter(0).closed:
	case <-time.After(2 * time.Second):
		t.Fatal("listener still held after the last subscription left")
	}
}

func TestChangeFeedFailureEndsStreams(t *testing.T) {
	l := &fakeListener{}
	feed := newChangeFeed(l.listen, discardLogger())

	first, cancelFirst := openStream(t, feed, countingQuery())
	defer cancelFirst()
	second, cancelSecond := openStream(t, feed, countingQuery())
	defer cancelSecond()
	nextSnapshot(t, first)
	nextSnapshot(t, second)

	boom := errors.New("connection reset")
	sendNotification(t, l.waiter(0), boom)

	for _, out := range []<-chan event.Snapshot{first, second} {
		snap := nextSnapshot(t, out)
		if !errors.Is(snap.Err, boom) {
			t.Errorf("snapshot error = %v, want %v", snap.Err, boom)
		}
		waitClosed(t, out)
	}

	// The next subscription starts a fresh listener
	third, cancelThird := openStream(t, feed, countingQuery())
	defer cancelThird()
	nextSnapshot(t, third)
	if got := l.calls(); got != 2 {
		t.Errorf("listen called %d times, want 2", got)
	}
}

func TestChangeFeedCoalescesSignals(t *testing.T) {
	l := &fakeListener{}
	feed := newChangeFeed(l.listen, discardLogger())

	sub, err := feed.join(context.Background())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer feed.leave(sub)

	w := l.waiter(0)
	sendNotification(t, w, nil)
	sendNotification(t, w, nil)
	// The third send only completes once the second broadcast has run
	sendNotification(t, w, nil)

	if got := len(sub.signal); got != 1 {
		t.Errorf("pending signals = %d, want 1", got)
	}
}

func TestStreamSnapshotsStopsOnQueryError(t *testing.T) {
	l := &fakeListener{}
	feed := newChangeFeed(l.listen, discardLogger())

	boom := errors.New("permission denied")
	out, cancel := openStream(t, feed, func(ctx context.Context, pred geo.RangePredicate) ([]event.RawRecord, error) {
		return nil, boom
	})
	defer cancel()

	if snap := nextSnapshot(t, out); !errors.Is(snap.Err, boom) {
		t.Errorf("snapshot error = %v, want %v", snap.Err, boom)
	}
	waitClosed(t, out)
}

func TestChangeFeedClose(t *testing.T) {
	l := &fakeListener{}
	feed := newChangeFeed(l.listen, discardLogger())

	out, cancel := openStream(t, feed, countingQuery())
	defer cancel()
	nextSnapshot(t, out)

	feed.close()

	if snap := nextSnapshot(t, out); !errors.Is(snap.Err, errFeedClosed) {
		t.Errorf("snapshot error = %v, want %v", snap.Err, errFeedClosed)
	}
	waitClosed(t, out)
}
