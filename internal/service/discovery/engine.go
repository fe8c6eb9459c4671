// internal/service/discovery/engine.go

package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"eventradar/internal/domain/event"
	"eventradar/internal/domain/geo"
	"eventradar/internal/metrics"
	"eventradar/internal/service/alerting"
	geoService "eventradar/internal/service/geo"
)

// ErrClosed is returned when subscribing on a closed engine
var ErrClosed = errors.New("discovery engine closed")

// Config contains configuration for the discovery engine
type Config struct {
	PageSize            int
	SearchLimit         int
	DefaultSort         SortMode
	Cluster             geoService.ClusterConfig
	Alert               alerting.CoordinatorConfig
	ResubscribeAttempts uint
	ResubscribeDelay    time.Duration
	ResubscribeMaxDelay time.Duration
	UpdateBuffer        int
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		PageSize:            geoService.DefaultPageSize,
		SearchLimit:         geoService.DefaultPageSize,
		DefaultSort:         SortDistance,
		Alert:               alerting.CoordinatorConfig{Window: alerting.DefaultWindow, Policy: alerting.OverlapDrop},
		ResubscribeAttempts: 10,
		ResubscribeDelay:    time.Second,
		ResubscribeMaxDelay: 2 * time.Minute,
		UpdateBuffer:        4,
	}
}

// viewState is the consumer-facing state derived from the latest snapshot
type viewState struct {
	subID      string
	query      *event.Query
	filters    event.Filters
	sort       SortMode
	interested event.IDSet
	candidates []event.Event
	resolved   []event.Event
	results    []event.Event
}

// Engine orchestrates one consumer's nearby discovery: live subscription,
// attribute filters, ranking, clustering and arrival alerts. Each consumer
// owns its own engine; nothing is shared between engines.
type Engine struct {
	store       event.Store
	config      Config
	logger      *slog.Logger
	now         func() time.Time
	filters     *FilterPipeline
	clusters    *geoService.ClusterEngine
	coordinator *alerting.Coordinator
	alerts      chan event.AlertState

	mu   sync.RWMutex
	view viewState

	subMu  sync.Mutex
	sub    *Subscription
	closed bool
}

// Option customizes an engine
type Option func(*Engine)

// WithClock sets the clock used for promotion expiry and alert timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a discovery engine for one consumer
func NewEngine(store event.Store, notifier event.Notifier, config Config, logger *slog.Logger, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.SearchLimit <= 0 {
		config.SearchLimit = defaults.SearchLimit
	}
	if config.DefaultSort == "" {
		config.DefaultSort = defaults.DefaultSort
	}
	if config.ResubscribeAttempts == 0 {
		config.ResubscribeAttempts = defaults.ResubscribeAttempts
	}
	if config.ResubscribeDelay <= 0 {
		config.ResubscribeDelay = defaults.ResubscribeDelay
	}
	if config.ResubscribeMaxDelay <= 0 {
		config.ResubscribeMaxDelay = defaults.ResubscribeMaxDelay
	}
	if config.UpdateBuffer < 0 {
		config.UpdateBuffer = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:    store,
		config:   config,
		logger:   logger,
		now:      time.Now,
		clusters: geoService.NewClusterEngine(config.Cluster),
		alerts:   make(chan event.AlertState, 8),
		view:     viewState{sort: config.DefaultSort},
	}
	for _, opt := range opts {
		opt(e)
	}

	e.filters = NewFilterPipeline(e.now)
	e.coordinator = alerting.NewCoordinator(notifier, config.Alert, logger,
		alerting.WithClock(e.now),
		alerting.WithStateListener(e.publishAlert),
	)

	return e
}

// SubscribeNearby starts the live nearby stream for a viewport. Any previous
// subscription is cancelled first and no arrival history carries over.
func (e *Engine) SubscribeNearby(ctx context.Context, center geo.GeoPoint, radiusKm float64) (*Subscription, error) {
	q := event.Query{Center: center, RadiusKm: radiusKm}
	pf, err := geoService.BuildPreFilter(q, e.config.PageSize)
	if err != nil {
		return nil, err
	}

	e.subMu.Lock()
	defer e.subMu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	if e.sub != nil {
		e.sub.Cancel()
		e.sub = nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		id:      uuid.NewString(),
		query:   q,
		updates: make(chan Update, e.config.UpdateBuffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	e.view.subID = sub.id
	e.view.query = &q
	e.view.candidates = nil
	e.view.results = e.recomputeLocked()
	e.mu.Unlock()

	e.sub = sub
	go e.run(subCtx, sub, pf)

	return sub, nil
}

// Search runs a one-shot attribute search with no geo bounds.
// Failures are logged and produce an empty result.
func (e *Engine) Search(ctx context.Context, filters event.Filters) []event.Event {
	pred := geo.RangePredicate{Field: event.FieldTimestamp, Limit: e.config.SearchLimit}
	if filters.Category != "" {
		pred = geo.Equals(event.FieldCategory, filters.Category, e.config.SearchLimit)
	}

	records, err := e.store.RangeQuery(ctx, pred)
	if err != nil {
		metrics.OneShot("search", metrics.ResultError)
		e.logger.Warn("Search failed", "field", pred.Field, "error", err)
		return []event.Event{}
	}
	metrics.OneShot("search", metrics.ResultSuccess)

	events, dropped := event.ParseAll(records)
	metrics.RecordsDropped(dropped)

	mode, ref := e.rankParams()
	return Rank(e.filters.Apply(events, filters), mode, ref)
}

// FindNearby runs a one-shot nearby query without touching the live
// subscription. Only precondition violations are returned as errors.
func (e *Engine) FindNearby(ctx context.Context, q event.Query) ([]event.Event, error) {
	pf, err := geoService.BuildPreFilter(q, e.config.PageSize)
	if err != nil {
		return nil, err
	}

	records, err := e.store.RangeQuery(ctx, pf.Predicate)
	if err != nil {
		metrics.OneShot("nearby", metrics.ResultError)
		e.logger.Warn("Nearby query failed", "error", err)
		return []event.Event{}, nil
	}
	metrics.OneShot("nearby", metrics.ResultSuccess)

	events, dropped := event.ParseAll(records)
	metrics.RecordsDropped(dropped)

	refined := geoService.Refine(events, pf.Box, q)
	mode, _ := e.rankParams()
	center := q.Center
	return Rank(e.filters.Apply(refined, q.Filters), mode, &center), nil
}

// ResolveByID returns the event with id, fetching it when it is not in the
// displayed set. A fetched event is merged into the displayed set but never
// reported as an arrival. Failures are logged and produce nil.
func (e *Engine) ResolveByID(ctx context.Context, id string) *event.Event {
	if id == "" {
		return nil
	}

	e.mu.RLock()
	for _, ev := range e.view.results {
		if ev.ID == id {
			found := ev
			e.mu.RUnlock()
			return &found
		}
	}
	e.mu.RUnlock()

	rec, err := e.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			metrics.OneShot("resolve", "not_found")
			e.logger.Debug("Resolve found no event", "event_id", id)
			return nil
		}
		metrics.OneShot("resolve", metrics.ResultError)
		e.logger.Warn("Resolve failed", "event_id", id, "error", err)
		return nil
	}

	ev, err := event.Parse(rec)
	if err != nil {
		metrics.RecordsDropped(1)
		e.logger.Warn("Resolved record is malformed", "event_id", id, "error", err)
		return nil
	}
	metrics.OneShot("resolve", metrics.ResultSuccess)

	e.mu.Lock()
	e.view.resolved = upsert(e.view.resolved, ev)
	e.view.results = e.recomputeLocked()
	e.mu.Unlock()

	return &ev
}

// ClearResolved drops events merged by ResolveByID
func (e *Engine) ClearResolved() []event.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view.resolved = nil
	e.view.results = e.recomputeLocked()
	return cloneEvents(e.view.results)
}

// SetFilters replaces the attribute filters and re-derives the results
// without re-querying the store
func (e *Engine) SetFilters(filters event.Filters) []event.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view.filters = filters
	e.view.results = e.recomputeLocked()
	return cloneEvents(e.view.results)
}

// Filters returns the active attribute filters
func (e *Engine) Filters() event.Filters {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view.filters
}

// SetSortMode switches the ordering and re-sorts the current results
func (e *Engine) SetSortMode(mode SortMode) []event.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view.sort = mode
	e.view.results = e.recomputeLocked()
	return cloneEvents(e.view.results)
}

// SortMode returns the active ordering
func (e *Engine) SortMode() SortMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view.sort
}

// SetInterested replaces the set of ids the consumer marked as interested
func (e *Engine) SetInterested(ids []string) {
	set := event.NewIDSet(ids...)
	e.mu.Lock()
	e.view.interested = set
	e.mu.Unlock()
}

// Results returns the current filtered and ranked result set
func (e *Engine) Results() []event.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneEvents(e.view.results)
}

// CurrentClusters clusters the current results for zoom
func (e *Engine) CurrentClusters(zoom float64) []event.Cluster {
	return e.CurrentLayer(zoom).Clusters
}

// CurrentLayer clusters the current results for zoom and also returns the
// events that render individually
func (e *Engine) CurrentLayer(zoom float64) event.Layer {
	e.mu.RLock()
	results := e.view.results
	interested := e.view.interested
	e.mu.RUnlock()

	// results and interested are replaced, never mutated, so reading them
	// outside the lock is safe
	return e.clusters.Cluster(results, zoom, interested, e.now())
}

// AlertState returns the current alert pulse
func (e *Engine) AlertState() event.AlertState {
	return e.coordinator.State()
}

// Alerts delivers alert state changes. It is closed by Close.
func (e *Engine) Alerts() <-chan event.AlertState {
	return e.alerts
}

// Close cancels the live subscription and the alert timer. The engine cannot
// be reused afterwards.
func (e *Engine) Close() {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	if e.closed {
		return
	}
	e.closed = true

	if e.sub != nil {
		e.sub.Cancel()
		e.sub = nil
	}

	e.coordinator.Close()
	close(e.alerts)
}

// publishAlert runs under the coordinator's lock and never blocks
func (e *Engine) publishAlert(s event.AlertState) {
	select {
	case e.alerts <- s:
	default:
		e.logger.Debug("Alert listener is behind, dropping state", "active", s.Active)
	}
}

func (e *Engine) replaceCandidates(subID string, refined []event.Event) []event.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.view.subID != subID {
		return []event.Event{}
	}
	e.view.candidates = refined
	e.view.results = e.recomputeLocked()
	return cloneEvents(e.view.results)
}

func (e *Engine) clearCandidates(subID string) {
	e.replaceCandidates(subID, nil)
}

func (e *Engine) rankParams() (SortMode, *geo.GeoPoint) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.view.query == nil {
		return e.view.sort, nil
	}
	center := e.view.query.Center
	return e.view.sort, &center
}

// recomputeLocked must be called with e.mu held for writing. Resolved events
// bypass the attribute filters and are ranked with the rest.
func (e *Engine) recomputeLocked() []event.Event {
	filtered := e.filters.Apply(e.view.candidates, e.view.filters)

	merged := make([]event.Event, 0, len(filtered)+len(e.view.resolved))
	merged = append(merged, filtered...)

	// A resolved event hidden by the filters is still shown; one that passes
	// them is already present as its subscribed copy
	present := make(map[string]struct{}, len(filtered))
	for _, ev := range filtered {
		present[ev.ID] = struct{}{}
	}
	for _, ev := range e.view.resolved {
		if _, ok := present[ev.ID]; !ok {
			merged = append(merged, ev)
		}
	}

	var ref *geo.GeoPoint
	if e.view.query != nil {
		center := e.view.query.Center
		ref = &center
	}
	return Rank(merged, e.view.sort, ref)
}

func upsert(events []event.Event, ev event.Event) []event.Event {
	for i := range events {
		if events[i].ID == ev.ID {
			out := cloneEvents(events)
			out[i] = ev
			return out
		}
	}
	out := make([]event.Event, 0, len(events)+1)
	out = append(out, events...)
	return append(out, ev)
}

func cloneEvents(events []event.Event) []event.Event {
	out := make([]event.Event, len(events))
	copy(out, events)
	return out
}
