package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"yandexweather/internal/platform"
	"yandexweather/internal/weather"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server provides HTTP API endpoints for the weather entities
type Server struct {
	platform *platform.Manager
	logger   *zap.Logger
	router   *mux.Router
	server   *http.Server
}

// NewServer creates a new API server
func NewServer(manager *platform.Manager, logger *zap.Logger, port int) *Server {
	s := &Server{
		platform: manager,
		logger:   logger.Named("api"),
		router:   mux.NewRouter(),
	}

	s.router.HandleFunc("/", s.handleSitemap).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/weather", s.handleListWeather).Methods(http.MethodGet)
	api.HandleFunc("/weather/{entity}", s.handleGetWeather).Methods(http.MethodGet)
	api.HandleFunc("/weather/{entity}/forecast", s.handleGetForecast).Methods(http.MethodGet)
	api.HandleFunc("/weather/{entity}/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/shadow", s.handleShadow).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// WeatherResponse is the JSON view of one weather entity
type WeatherResponse struct {
	EntityID          string                 `json:"entity_id"`
	Name              string                 `json:"name"`
	UniqueID          string                 `json:"unique_id"`
	DeviceID          string                 `json:"device_id"`
	State             string                 `json:"state"`
	Available         bool                   `json:"available"`
	Attributes        map[string]interface{} `json:"attributes"`
	LastUpdated       *time.Time             `json:"last_updated,omitempty"`
	LastUpdateSuccess bool                   `json:"last_update_success"`
	LastError         string                 `json:"last_error,omitempty"`
	UpdateInterval    string                 `json:"update_interval"`
}

// ForecastResponse carries the twice-daily forecast in native units
type ForecastResponse struct {
	EntityID string             `json:"entity_id"`
	Forecast []weather.Forecast `json:"forecast"`
}

func weatherResponse(e *platform.Entry) WeatherResponse {
	state, attrs := e.Entity.Snapshot()
	resp := WeatherResponse{
		EntityID:          e.Entity.EntityID(),
		Name:              e.Entity.Name(),
		UniqueID:          e.Entity.UniqueID(),
		DeviceID:          e.Coordinator.DeviceID(),
		State:             state,
		Available:         e.Entity.Available(),
		Attributes:        attrs,
		LastUpdateSuccess: e.Coordinator.LastUpdateSuccess(),
		UpdateInterval:    e.Coordinator.UpdateInterval().String(),
	}
	if t := e.Coordinator.LastUpdated(); !t.IsZero() {
		resp.LastUpdated = &t
	}
	if err := e.Coordinator.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	return resp
}

// lookup accepts both "weather.home" and "home"
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*platform.Entry, bool) {
	entityID := mux.Vars(r)["entity"]
	if !strings.Contains(entityID, ".") {
		entityID = "weather." + entityID
	}

	e, ok := s.platform.Entry(entityID)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown weather entity %s", entityID))
		return nil, false
	}
	return e, true
}

func (s *Server) handleListWeather(w http.ResponseWriter, r *http.Request) {
	ids := s.platform.EntityIDs()
	response := make([]WeatherResponse, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.platform.Entry(id); ok {
			response = append(response, weatherResponse(e))
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetWeather(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, weatherResponse(e))
}

func (s *Server) handleGetForecast(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, ForecastResponse{
		EntityID: e.Entity.EntityID(),
		Forecast: e.Entity.ForecastTwiceDaily(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}

	err := s.platform.Refresh(r.Context(), e.Entity.EntityID())
	switch {
	case errors.Is(err, platform.ErrUnknownEntity):
		s.writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Warn("Manual refresh failed",
			zap.String("entity_id", e.Entity.EntityID()),
			zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, weatherResponse(e))
	}
}

func (s *Server) handleShadow(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.platform.Tracker().GetAllEntityStates())
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/health", Method: "GET", Description: "Health check endpoint - returns {\"status\": \"ok\"}"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
	{Path: "/api/weather", Method: "GET", Description: "All weather entities with state and attributes"},
	{Path: "/api/weather/{entity}", Method: "GET", Description: "One weather entity, by entity id or object id"},
	{Path: "/api/weather/{entity}/forecast", Method: "GET", Description: "Twice-daily forecast in native units"},
	{Path: "/api/weather/{entity}/refresh", Method: "POST", Description: "Refresh the entity's coordinator now"},
	{Path: "/api/shadow", Method: "GET", Description: "Shadow state of every weather entity"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Yandex.Weather API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Yandex.Weather API</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Yandex.Weather API\n")
		fmt.Fprintf(w, "==================\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-32s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
