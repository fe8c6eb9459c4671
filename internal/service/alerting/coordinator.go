// internal/service/alerting/coordinator.go

package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"eventradar/internal/domain/event"
	"eventradar/internal/metrics"
)

// DefaultWindow is how long a visual alert pulse stays active
const DefaultWindow = 4 * time.Second

// OverlapPolicy decides what an arrival does while an alert is already active
type OverlapPolicy string

const (
	// OverlapDrop ignores arrivals during an active window
	OverlapDrop OverlapPolicy = "drop"

	// OverlapRestart restarts the auto-clear timer without a new dispatch
	OverlapRestart OverlapPolicy = "restart"

	// OverlapQueue holds the latest overlapping batch and pulses it once the
	// current window clears
	OverlapQueue OverlapPolicy = "queue"
)

// ParseOverlapPolicy validates a configured policy name
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch p := OverlapPolicy(s); p {
	case OverlapDrop, OverlapRestart, OverlapQueue:
		return p, nil
	case "":
		return OverlapDrop, nil
	default:
		return "", fmt.Errorf("unknown overlap policy %q", s)
	}
}

// CoordinatorConfig contains configuration for the alert coordinator
type CoordinatorConfig struct {
	Window          time.Duration
	Policy          OverlapPolicy
	DispatchTimeout time.Duration
}

// Coordinator turns arrival batches into a time-boxed alert state and at most
// one notification dispatch per Idle to Active transition
type Coordinator struct {
	notifier event.Notifier
	config   CoordinatorConfig
	logger   *slog.Logger
	now      func() time.Time
	onChange func(event.AlertState)

	mu         sync.Mutex
	state      event.AlertState
	timer      *time.Timer
	generation uint64
	pending    *event.ArrivalBatch
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// CoordinatorOption customizes a coordinator
type CoordinatorOption func(*Coordinator)

// WithClock sets the clock used for TriggeredAt
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithStateListener registers a callback for every state change. It runs with
// the coordinator's lock held and must not block or call back into it.
func WithStateListener(fn func(event.AlertState)) CoordinatorOption {
	return func(c *Coordinator) { c.onChange = fn }
}

// NewCoordinator creates an idle coordinator
func NewCoordinator(notifier event.Notifier, config CoordinatorConfig, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.Policy == "" {
		config.Policy = OverlapDrop
	}
	if config.DispatchTimeout <= 0 {
		config.DispatchTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		notifier: notifier,
		config:   config,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger feeds an arrival batch. It reports whether the batch started a new
// alert window (and therefore a dispatch).
func (c *Coordinator) Trigger(batch event.ArrivalBatch) bool {
	if len(batch.Events) == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	if !c.state.Active {
		c.activate(batch)
		return true
	}

	// The same trigger while active is never dispatched twice
	if c.state.Trigger != nil && c.state.Trigger.ID == batch.First().ID {
		return false
	}

	switch c.config.Policy {
	case OverlapRestart:
		c.startTimer()
		metrics.AlertOutcome(metrics.AlertRestarted)
		c.logger.Debug("Alert window restarted", "event_id", batch.First().ID)

	case OverlapQueue:
		if c.pending == nil || c.pending.First().ID != batch.First().ID {
			queued := batch
			c.pending = &queued
		}
		metrics.AlertOutcome(metrics.AlertQueued)
		c.logger.Debug("Alert queued behind active window", "event_id", batch.First().ID)

	default:
		metrics.AlertOutcome(metrics.AlertDropped)
		c.logger.Debug("Alert dropped during active window", "event_id", batch.First().ID)
	}

	return false
}

// State returns the current alert state
func (c *Coordinator) State() event.AlertState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close cancels the auto-clear timer and waits for in-flight dispatches.
// No callback fires after Close returns.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// activate must be called with c.mu held
func (c *Coordinator) activate(batch event.ArrivalBatch) {
	trigger := batch.First()
	c.state = event.AlertState{
		Active:      true,
		TriggeredAt: c.now(),
		Trigger:     &trigger,
	}
	c.startTimer()
	c.dispatch(batch)

	metrics.AlertOutcome(metrics.AlertTriggered)
	c.logger.Info("Alert triggered",
		"event_id", trigger.ID,
		"title", trigger.Title,
		"batch_size", len(batch.Events),
		"window", c.config.Window.String())

	c.emit()
}

// startTimer must be called with c.mu held
func (c *Coordinator) startTimer() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.generation++
	gen := c.generation
	c.timer = time.AfterFunc(c.config.Window, func() {
		c.expire(gen)
	})
}

func (c *Coordinator) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A restarted or closed window owns a newer generation
	if c.closed || gen != c.generation {
		return
	}

	c.timer = nil
	c.state = event.AlertState{}
	metrics.AlertOutcome(metrics.AlertExpired)
	c.logger.Debug("Alert cleared")
	c.emit()

	if c.pending != nil {
		next := *c.pending
		c.pending = nil
		c.activate(next)
	}
}

// emit must be called with c.mu held
func (c *Coordinator) emit() {
	if c.onChange != nil {
		c.onChange(c.state)
	}
}

// dispatch must be called with c.mu held; delivery runs off the lock
func (c *Coordinator) dispatch(batch event.ArrivalBatch) {
	if c.notifier == nil {
		return
	}

	req := NotificationFor(batch)
	req.ID = uuid.NewString()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(c.ctx, c.config.DispatchTimeout)
		defer cancel()

		if err := c.notifier.Dispatch(ctx, req); err != nil {
			metrics.Dispatch(metrics.ResultError)
			c.logger.Warn("Notification dispatch failed",
				"request_id", req.ID,
				"target_id", req.TargetID,
				"error", err)
			return
		}
		metrics.Dispatch(metrics.ResultSuccess)
		c.logger.Info("Notification dispatched", "request_id", req.ID, "target_id", req.TargetID)
	}()
}

// NotificationFor builds the notification request for a batch.
// The ID is left for the caller to assign.
func NotificationFor(batch event.ArrivalBatch) event.NotificationRequest {
	first := batch.First()

	body := first.Title
	if body == "" {
		body = "Someone just posted an event near you"
	}
	if extra := len(batch.Events) - 1; extra > 0 {
		body = fmt.Sprintf("%s and %d more", body, extra)
	}

	return event.NotificationRequest{
		Title:    "New event nearby",
		Body:     body,
		TargetID: first.ID,
	}
}
