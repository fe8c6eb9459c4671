// internal/server/handlers/respond.go

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"eventradar/internal/domain/event"
	geoService "eventradar/internal/service/geo"
)

// ClusterView is a cluster with its render payload
type ClusterView struct {
	event.Cluster
	Render geoService.ClusterPayload `json:"render"`
}

// MarkerView is a single marker with its render payload
type MarkerView struct {
	event.Marker
	Render geoService.MarkerPayload `json:"render"`
}

// LayerView is the map layer as sent to clients
type LayerView struct {
	Zoom     float64       `json:"zoom"`
	Clusters []ClusterView `json:"clusters"`
	Markers  []MarkerView  `json:"markers"`
}

// NewLayerView attaches render payloads to a clustering result
func NewLayerView(layer event.Layer, zoom float64) LayerView {
	view := LayerView{
		Zoom:     zoom,
		Clusters: make([]ClusterView, 0, len(layer.Clusters)),
		Markers:  make([]MarkerView, 0, len(layer.Markers)),
	}
	for _, c := range layer.Clusters {
		view.Clusters = append(view.Clusters, ClusterView{
			Cluster: c,
			Render:  geoService.ClusterPayloadFor(c.Total(), c.InterestedCount),
		})
	}
	for _, m := range layer.Markers {
		view.Markers = append(view.Markers, MarkerView{
			Marker: m,
			Render: geoService.MarkerPayloadFor(m.Highlighted, m.Interested),
		})
	}
	return view
}

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, logger *slog.Logger, code int, message string, err error) {
	response := map[string]string{"error": message}

	if err != nil && code >= 500 {
		logger.Error("HTTP error", "code", code, "message", message, "error", err)
	} else if err != nil {
		logger.Debug("HTTP client error", "code", code, "message", message, "error", err)
	}

	jsonResponse, _ := json.Marshal(response)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(jsonResponse)
}
