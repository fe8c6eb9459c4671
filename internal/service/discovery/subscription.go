// internal/service/discovery/subscription.go

package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"eventradar/internal/domain/event"
	"eventradar/internal/metrics"
	"eventradar/internal/service/alerting"
	geoService "eventradar/internal/service/geo"
)

var errStreamClosed = errors.New("snapshot stream closed")

// Update is one delivery on a nearby subscription. When Err is set Results is
// empty and the engine is already resubscribing.
type Update struct {
	SubscriptionID string
	Results        []event.Event
	Err            error
}

// Subscription is a cancelable live nearby stream owned by one engine
type Subscription struct {
	id      string
	query   event.Query
	updates chan Update
	cancel  context.CancelFunc
	done    chan struct{}
}

// ID returns the subscription id
func (s *Subscription) ID() string {
	return s.id
}

// Updates returns the delivery channel. It is closed when the subscription stops.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// Done is closed once no further snapshot will be processed
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Cancel stops delivery and waits for the delivery goroutine to exit
func (s *Subscription) Cancel() {
	s.cancel()
	<-s.done
}

// run owns the detector for this subscription and resubscribes with backoff
// after store errors
func (e *Engine) run(ctx context.Context, sub *Subscription, pf geoService.PreFilter) {
	defer close(sub.done)
	defer close(sub.updates)

	metrics.SubscriptionStarted()
	defer metrics.SubscriptionStopped()

	detector := alerting.NewChangeDetector()
	logger := e.logger.With("subscription_id", sub.id)

	logger.Info("Nearby subscription started",
		"lat", sub.query.Center.Latitude,
		"lng", sub.query.Center.Longitude,
		"radius_km", sub.query.RadiusKm)

	for {
		err := retry.Do(
			func() error {
				delivered, err := e.session(ctx, sub, pf, detector)
				if ctx.Err() != nil {
					return retry.Unrecoverable(ctx.Err())
				}

				// The stream is gone: surface it and start over from a fresh baseline
				detector.Reset()
				e.clearCandidates(sub.id)
				metrics.ObserveSnapshot(metrics.ResultError, 0)
				logger.Warn("Nearby subscription failed", "error", err, "delivered", delivered)
				e.send(ctx, sub, Update{SubscriptionID: sub.id, Results: []event.Event{}, Err: err})

				if delivered {
					// A healthy stream resets the backoff budget
					return nil
				}
				return err
			},
			retry.Attempts(e.config.ResubscribeAttempts),
			retry.Delay(e.config.ResubscribeDelay),
			retry.MaxDelay(e.config.ResubscribeMaxDelay),
			retry.MaxJitter(e.config.ResubscribeDelay),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, err error) {
				metrics.Resubscribe()
				logger.Info("Resubscribing after error", "attempt", n, "error", err)
			}),
		)

		if ctx.Err() != nil {
			logger.Info("Nearby subscription cancelled")
			return
		}

		if err != nil {
			logger.Error("Nearby subscription abandoned", "error", err)
			e.send(ctx, sub, Update{
				SubscriptionID: sub.id,
				Results:        []event.Event{},
				Err:            fmt.Errorf("subscription abandoned after retries: %w", err),
			})
			return
		}

		if !sleepCtx(ctx, e.config.ResubscribeDelay) {
			return
		}
		metrics.Resubscribe()
	}
}

// session consumes one store stream until it ends. It reports whether any
// snapshot was processed.
func (e *Engine) session(ctx context.Context, sub *Subscription, pf geoService.PreFilter, detector *alerting.ChangeDetector) (bool, error) {
	snapshots, err := e.store.Subscribe(ctx, pf.Predicate)
	if err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()

		case snap, ok := <-snapshots:
			if !ok {
				if ctx.Err() != nil {
					return delivered, ctx.Err()
				}
				return delivered, errStreamClosed
			}
			if snap.Err != nil {
				return delivered, fmt.Errorf("snapshot stream: %w", snap.Err)
			}

			e.process(ctx, sub, pf, detector, snap.Records)
			delivered = true
		}
	}
}

// process runs the synchronous per-snapshot pipeline:
// parse, refine, filter, rank, then diff for arrivals
func (e *Engine) process(
	ctx context.Context,
	sub *Subscription,
	pf geoService.PreFilter,
	detector *alerting.ChangeDetector,
	records []event.RawRecord,
) {
	start := time.Now()

	events, dropped := event.ParseAll(records)
	if dropped > 0 {
		metrics.RecordsDropped(dropped)
		e.logger.Debug("Dropped malformed records", "subscription_id", sub.id, "dropped", dropped)
	}

	refined := geoService.Refine(events, pf.Box, sub.query)
	results := e.replaceCandidates(sub.id, refined)

	if batch, ok := detector.Observe(refined, e.now()); ok {
		metrics.Arrivals(len(batch.Events))
		e.logger.Info("New events arrived",
			"subscription_id", sub.id,
			"count", len(batch.Events),
			"first_id", batch.First().ID)
		e.coordinator.Trigger(batch)
	}

	metrics.ObserveSnapshot(metrics.ResultSuccess, time.Since(start))
	e.send(ctx, sub, Update{SubscriptionID: sub.id, Results: results})
}

// send blocks until the consumer takes the update or the subscription is cancelled
func (e *Engine) send(ctx context.Context, sub *Subscription, u Update) {
	select {
	case sub.updates <- u:
	case <-ctx.Done():
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
