// internal/adapter/storage/change_feed.go

package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var errFeedClosed = errors.New("change feed closed")

// notificationWaiter blocks until the next change notification arrives
type notificationWaiter interface {
	WaitForNotification(ctx context.Context) error
	Close()
}

// listenFunc opens a connection that is already listening for changes
type listenFunc func(ctx context.Context) (notificationWaiter, error)

// feedSubscriber receives coalesced change signals. failed carries the error
// that ended the shared listener; the subscriber is removed when it fires.
type feedSubscriber struct {
	id     uint64
	signal chan struct{}
	failed chan error
}

// changeFeed fans one listening connection out to every live subscription.
// The listener starts with the first subscriber and stops with the last one,
// so the number of held connections never grows with the number of clients.
type changeFeed struct {
	listen listenFunc
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*feedSubscriber
	nextID uint64
	gen    uint64
	cancel context.CancelFunc
}

func newChangeFeed(listen listenFunc, logger *slog.Logger) *changeFeed {
	return &changeFeed{
		listen: listen,
		logger: logger,
		subs:   make(map[uint64]*feedSubscriber),
	}
}

// join registers a subscriber, starting the listener if none is running.
// Any change committed after join returns is signalled.
func (f *changeFeed) join(ctx context.Context) (*feedSubscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel == nil {
		w, err := f.listen(ctx)
		if err != nil {
			return nil, err
		}
		listenCtx, cancel := context.WithCancel(context.Background())
		f.gen++
		f.cancel = cancel
		go f.run(listenCtx, w, f.gen)
		f.logger.Debug("Change listener started")
	}

	f.nextID++
	sub := &feedSubscriber{
		id:     f.nextID,
		signal: make(chan struct{}, 1),
		failed: make(chan error, 1),
	}
	f.subs[sub.id] = sub
	return sub, nil
}

// leave removes a subscriber and stops the listener once nobody is left
func (f *changeFeed) leave(sub *feedSubscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.subs, sub.id)
	if len(f.subs) == 0 && f.cancel != nil {
		f.cancel()
		f.cancel = nil
		f.logger.Debug("Change listener stopped")
	}
}

// close stops the listener and fails every remaining subscriber
func (f *changeFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.failAllLocked(errFeedClosed)
}

func (f *changeFeed) run(ctx context.Context, w notificationWaiter, gen uint64) {
	defer w.Close()

	for {
		if err := w.WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("Change listener failed", "error", err)
			f.fail(gen, err)
			return
		}
		f.broadcast()
	}
}

func (f *changeFeed) broadcast() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		select {
		case sub.signal <- struct{}{}:
		default:
			// A signal is already pending; one re-query covers both changes
		}
	}
}

func (f *changeFeed) fail(gen uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// A newer listener may already serve the current subscribers
	if gen != f.gen || f.cancel == nil {
		return
	}
	f.cancel()
	f.cancel = nil
	f.failAllLocked(err)
}

func (f *changeFeed) failAllLocked(err error) {
	for id, sub := range f.subs {
		sub.failed <- err
		delete(f.subs, id)
	}
}
