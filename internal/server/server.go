// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventradar/internal/config"
	"eventradar/internal/domain/event"
	"eventradar/internal/service/discovery"
	geoService "eventradar/internal/service/geo"
	"eventradar/internal/server/handlers"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
	finder *discovery.Engine
}

// NewServer creates a new HTTP server. Every WebSocket connection gets its own
// discovery engine; one-shot HTTP queries share a subscription-less engine.
func NewServer(
	cfg config.Config,
	store event.Store,
	notifier event.Notifier,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CorsOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	engineConfig := cfg.Engine()
	finder := discovery.NewEngine(store, nil, engineConfig, logger.With("component", "http_finder"))

	eventHandler := handlers.NewEventHandler(
		finder,
		store,
		geoService.NewClusterEngine(engineConfig.Cluster),
		handlers.EventHandlerConfig{
			DefaultRadiusKm: cfg.Discovery.DefaultRadiusKm,
			MaxRadiusKm:     cfg.Discovery.MaxRadiusKm,
			DefaultZoom:     cfg.Discovery.DefaultZoom,
		},
		logger,
	)

	wsConfig := handlers.DefaultWebSocketConfig()
	wsConfig.DefaultRadiusKm = cfg.Discovery.DefaultRadiusKm
	wsConfig.MaxRadiusKm = cfg.Discovery.MaxRadiusKm
	wsConfig.DefaultZoom = cfg.Discovery.DefaultZoom
	wsConfig.AllowedOrigins = cfg.Server.CorsOrigins

	newEngine := func(connLogger *slog.Logger) *discovery.Engine {
		return discovery.NewEngine(store, notifier, engineConfig, connLogger)
	}

	// Routes
	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			r.Route("/events", func(r chi.Router) {
				r.Get("/search", eventHandler.SearchEvents)
				r.Get("/nearby", eventHandler.GetNearbyEvents)
				r.Get("/{id}", eventHandler.GetEvent)
			})
		})
	})

	// WebSocket endpoint for the live nearby stream
	router.Get("/ws/nearby", handlers.NearbyWebSocketHandler(newEngine, wsConfig, logger))

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
		finder: finder,
	}
}

// Handler returns the router, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.finder.Close()
	return err
}
