// internal/server/handlers/events.go

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"eventradar/internal/domain/event"
	"eventradar/internal/domain/geo"
	"eventradar/internal/service/discovery"
	geoService "eventradar/internal/service/geo"
)

// EventFinder runs one-shot discovery queries
type EventFinder interface {
	Search(ctx context.Context, filters event.Filters) []event.Event
	FindNearby(ctx context.Context, q event.Query) ([]event.Event, error)
}

// EventHandlerConfig contains request defaults and limits
type EventHandlerConfig struct {
	DefaultRadiusKm float64
	MaxRadiusKm     float64
	DefaultZoom     float64
}

// EventHandler handles event-related HTTP requests
type EventHandler struct {
	finder   EventFinder
	store    event.Store
	clusters *geoService.ClusterEngine
	config   EventHandlerConfig
	logger   *slog.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(
	finder EventFinder,
	store event.Store,
	clusters *geoService.ClusterEngine,
	config EventHandlerConfig,
	logger *slog.Logger,
) *EventHandler {
	return &EventHandler{
		finder:   finder,
		store:    store,
		clusters: clusters,
		config:   config,
		logger:   logger,
	}
}

// SearchEvents returns events matching attribute filters, with no geo bounds
func (h *EventHandler) SearchEvents(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "Invalid highlighted flag", err)
		return
	}

	mode, err := discovery.ParseSortMode(r.URL.Query().Get("sort"))
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "Invalid sort mode", err)
		return
	}

	events := discovery.Rank(h.finder.Search(r.Context(), filters), mode, nil)

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// GetNearbyEvents returns events within a radius of a point, plus the map layer
func (h *EventHandler) GetNearbyEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	latStr := query.Get("lat")
	lngStr := query.Get("lng")
	if latStr == "" || lngStr == "" {
		respondWithError(w, h.logger, http.StatusBadRequest, "Missing location parameters", nil)
		return
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "Invalid latitude", err)
		return
	}

	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "Invalid longitude", err)
		return
	}

	radius := h.config.DefaultRadiusKm
	if radiusStr := query.Get("radius"); radiusStr != "" {
		radius, err = strconv.ParseFloat(radiusStr, 64)
		if err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, "Invalid radius", err)
			return
		}
	}
	if h.config.MaxRadiusKm > 0 && radius > h.config.MaxRadiusKm {
		respondWithError(w, h.logger, http.StatusBadRequest, "Radius too large", nil)
		return
	}

	zoom := h.config.DefaultZoom
	if zoomStr := query.Get("zoom"); zoomStr != "" {
		zoom, err = strconv.ParseFloat(zoomStr, 64)
		if err != nil || !geoService.ValidZoom(zoom) {
			respondWithError(w, h.logger, http.StatusBadRequest, "Invalid zoom", err)
			return
		}
	}

	mode, err := discovery.ParseSortMode(query.Get("sort"))
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "Invalid sort mode", err)
		return
	}

	filters, err := parseFilters(r)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "Invalid highlighted flag", err)
		return
	}

	center := geo.GeoPoint{Latitude: lat, Longitude: lng}
	events, err := h.finder.FindNearby(r.Context(), event.Query{
		Center:   center,
		RadiusKm: radius,
		Filters:  filters,
	})
	if err != nil {
		if errors.Is(err, event.ErrInvalidQuery) {
			respondWithError(w, h.logger, http.StatusBadRequest, "Invalid query", err)
			return
		}
		respondWithError(w, h.logger, http.StatusInternalServerError, "Failed to find nearby events", err)
		return
	}

	events = discovery.Rank(events, mode, &center)
	interested := event.NewIDSet(splitList(query.Get("interested"))...)
	layer := h.clusters.Cluster(events, zoom, interested, time.Now())

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"layer":  NewLayerView(layer, zoom),
	})
}

// GetEvent returns a specific event
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, h.logger, http.StatusBadRequest, "Missing event ID", nil)
		return
	}

	rec, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			respondWithError(w, h.logger, http.StatusNotFound, "Event not found", err)
			return
		}
		respondWithError(w, h.logger, http.StatusInternalServerError, "Failed to get event", err)
		return
	}

	ev, err := event.Parse(rec)
	if err != nil {
		respondWithError(w, h.logger, http.StatusInternalServerError, "Stored event is malformed", err)
		return
	}

	respondWithJSON(w, http.StatusOK, ev)
}

func parseFilters(r *http.Request) (event.Filters, error) {
	query := r.URL.Query()
	filters := event.Filters{
		Category: strings.TrimSpace(query.Get("category")),
		City:     strings.TrimSpace(query.Get("city")),
		Keyword:  strings.TrimSpace(query.Get("q")),
	}

	if s := query.Get("highlighted"); s != "" {
		highlighted, err := strconv.ParseBool(s)
		if err != nil {
			return event.Filters{}, err
		}
		filters.HighlightedOnly = highlighted
	}

	return filters, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
