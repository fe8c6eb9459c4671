// internal/server/handlers/websocket.go

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"eventradar/internal/domain/event"
	"eventradar/internal/domain/geo"
	"eventradar/internal/service/discovery"
	geoService "eventradar/internal/service/geo"
)

// Client message types. A clusters request is answered with a clusters message.
const (
	MsgSubscribe  = "subscribe"
	MsgFilters    = "filters"
	MsgSort       = "sort"
	MsgInterested = "interested"
	MsgResolve    = "resolve"
	MsgClusters   = "clusters"
)

// Server message types
const (
	MsgWelcome  = "welcome"
	MsgResults  = "results"
	MsgAlert    = "alert"
	MsgResolved = "resolved"
	MsgError    = "error"
)

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64

	// Browser origins allowed to open a connection
	AllowedOrigins []string

	// Radius and zoom used when a subscribe message omits them
	DefaultRadiusKm float64
	MaxRadiusKm     float64
	DefaultZoom     float64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingPeriod:      (60 * time.Second * 9) / 10,
		MaxMessageSize:  64 * 1024,
		DefaultRadiusKm: 5,
		MaxRadiusKm:     100,
		DefaultZoom:     13,
	}
}

// originChecker accepts requests without an Origin header, same-origin
// requests and origins listed in allowed. "*" allows every origin.
// Browsers do not preflight upgrades, so CORS headers alone do not apply here.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// clientMessage is the envelope of every message a client sends
type clientMessage struct {
	Type        string   `json:"type"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
	Radius      float64  `json:"radius,omitempty"`
	Zoom        *float64 `json:"zoom,omitempty"`
	Category    string   `json:"category,omitempty"`
	City        string   `json:"city,omitempty"`
	Keyword     string   `json:"q,omitempty"`
	Highlighted bool     `json:"highlighted,omitempty"`
	Sort        string   `json:"sort,omitempty"`
	IDs         []string `json:"ids,omitempty"`
	ID          string   `json:"id,omitempty"`
}

// serverMessage is the envelope of every message sent to a client
type serverMessage struct {
	Type           string            `json:"type"`
	SessionID      string            `json:"session_id,omitempty"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Events         []event.Event     `json:"events,omitempty"`
	Count          *int              `json:"count,omitempty"`
	Sort           string            `json:"sort,omitempty"`
	Filters        *event.Filters    `json:"filters,omitempty"`
	Layer          *LayerView        `json:"layer,omitempty"`
	Alert          *event.AlertState `json:"alert,omitempty"`
	Event          *event.Event      `json:"event,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// EngineFactory creates the discovery engine owned by one connection
type EngineFactory func(logger *slog.Logger) *discovery.Engine

// NearbyClient is one connected presentation client with its own engine
type NearbyClient struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	engine    *discovery.Engine
	config    WebSocketConfig
	logger    *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu   sync.Mutex
	zoom float64
}

// NearbyWebSocketHandler streams live nearby results and alerts over a WebSocket
func NearbyWebSocketHandler(newEngine EngineFactory, config WebSocketConfig, logger *slog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(config.AllowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Failed to upgrade to WebSocket", "error", err)
			return
		}

		sessionID := uuid.NewString()
		clientLogger := logger.With("session_id", sessionID)

		ctx, cancel := context.WithCancel(context.Background())
		client := &NearbyClient{
			conn:      conn,
			send:      make(chan []byte, 256),
			sessionID: sessionID,
			engine:    newEngine(clientLogger),
			config:    config,
			logger:    clientLogger,
			ctx:       ctx,
			cancel:    cancel,
			zoom:      config.DefaultZoom,
		}

		go client.writePump()
		go client.forwardAlerts()
		go client.readPump()

		client.enqueue(serverMessage{Type: MsgWelcome, SessionID: sessionID})
		clientLogger.Info("New nearby WebSocket connection", "remote_addr", r.RemoteAddr)
	}
}

// readPump reads client messages until the connection fails
func (c *NearbyClient) readPump() {
	defer c.closeConnection()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket error", "error", err)
			}
			return
		}

		c.processIncomingMessage(message)
	}
}

// writePump writes queued messages and keeps the connection alive
func (c *NearbyClient) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// forwardAlerts relays alert state changes until the engine closes
func (c *NearbyClient) forwardAlerts() {
	for state := range c.engine.Alerts() {
		s := state
		c.enqueue(serverMessage{Type: MsgAlert, Alert: &s})
	}
}

// forwardUpdates relays one subscription's deliveries until it is replaced
func (c *NearbyClient) forwardUpdates(sub *discovery.Subscription) {
	for u := range sub.Updates() {
		if u.Err != nil {
			c.enqueue(serverMessage{Type: MsgError, SubscriptionID: u.SubscriptionID, Error: u.Err.Error()})
		}
		c.sendResults(u.SubscriptionID, u.Results)
	}
}

func (c *NearbyClient) processIncomingMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError("Invalid message")
		return
	}

	switch msg.Type {
	case MsgSubscribe:
		c.handleSubscribe(msg)

	case MsgFilters:
		results := c.engine.SetFilters(event.Filters{
			Category:        msg.Category,
			City:            msg.City,
			Keyword:         msg.Keyword,
			HighlightedOnly: msg.Highlighted,
		})
		c.sendResults("", results)

	case MsgSort:
		mode, err := discovery.ParseSortMode(msg.Sort)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.sendResults("", c.engine.SetSortMode(mode))

	case MsgInterested:
		c.engine.SetInterested(msg.IDs)
		c.sendResults("", c.engine.Results())

	case MsgResolve:
		ev := c.engine.ResolveByID(c.ctx, msg.ID)
		c.enqueue(serverMessage{Type: MsgResolved, Event: ev})
		if ev != nil {
			c.sendResults("", c.engine.Results())
		}

	case MsgClusters:
		if msg.Zoom == nil || !geoService.ValidZoom(*msg.Zoom) {
			c.sendError("Invalid zoom")
			return
		}
		c.setZoom(*msg.Zoom)
		layer := NewLayerView(c.engine.CurrentLayer(*msg.Zoom), *msg.Zoom)
		c.enqueue(serverMessage{Type: MsgClusters, Layer: &layer})

	default:
		c.logger.Debug("Unknown message type", "type", msg.Type)
		c.sendError("Unknown message type")
	}
}

func (c *NearbyClient) handleSubscribe(msg clientMessage) {
	if msg.Lat == nil || msg.Lng == nil {
		c.sendError("Missing location parameters")
		return
	}

	radius := msg.Radius
	if radius == 0 {
		radius = c.config.DefaultRadiusKm
	}
	if c.config.MaxRadiusKm > 0 && radius > c.config.MaxRadiusKm {
		c.sendError("Radius too large")
		return
	}
	if msg.Zoom != nil {
		if !geoService.ValidZoom(*msg.Zoom) {
			c.sendError("Invalid zoom")
			return
		}
		c.setZoom(*msg.Zoom)
	}

	center := geo.GeoPoint{Latitude: *msg.Lat, Longitude: *msg.Lng}
	sub, err := c.engine.SubscribeNearby(c.ctx, center, radius)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	go c.forwardUpdates(sub)
}

func (c *NearbyClient) sendResults(subscriptionID string, results []event.Event) {
	zoom := c.currentZoom()
	layer := NewLayerView(c.engine.CurrentLayer(zoom), zoom)
	count := len(results)
	if results == nil {
		results = []event.Event{}
	}

	filters := c.engine.Filters()

	c.enqueue(serverMessage{
		Type:           MsgResults,
		SubscriptionID: subscriptionID,
		Events:         results,
		Count:          &count,
		Sort:           string(c.engine.SortMode()),
		Filters:        &filters,
		Layer:          &layer,
	})
}

func (c *NearbyClient) sendError(message string) {
	c.enqueue(serverMessage{Type: MsgError, Error: message})
}

// enqueue never blocks; a client that falls behind loses messages
func (c *NearbyClient) enqueue(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal WebSocket message", "type", msg.Type, "error", err)
		return
	}

	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("WebSocket send buffer full, dropping message", "type", msg.Type)
	}
}

func (c *NearbyClient) setZoom(zoom float64) {
	c.mu.Lock()
	c.zoom = zoom
	c.mu.Unlock()
}

func (c *NearbyClient) currentZoom() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zoom
}

// closeConnection closes the WebSocket connection and cleans up resources
func (c *NearbyClient) closeConnection() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.engine.Close()
		c.conn.Close()
		c.logger.Info("Nearby WebSocket connection closed")
	})
}
