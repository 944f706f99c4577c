package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gorillaws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/triple-jay-dashboard/internal/domain"
	"github.com/triple-jay-dashboard/internal/websocket"
)

// Dashboard is the read side of the synchronizer the API serves
type Dashboard interface {
	Snapshot() domain.Snapshot
	DrinkingGame() (*domain.DrinkingGame, time.Time, bool)
	OnLeaderboardChanged()
	Ready() bool
}

// Handler provides HTTP handlers for the dashboard API
type Handler struct {
	dashboard      Dashboard
	hub            *websocket.Hub
	upgrader       *gorillaws.Upgrader
	gatherer       prometheus.Gatherer
	allowedOrigins []string
	logger         *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(dashboard Dashboard, hub *websocket.Hub, gatherer prometheus.Gatherer, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		dashboard:      dashboard,
		hub:            hub,
		upgrader:       websocket.NewUpgrader(allowedOrigins),
		gatherer:       gatherer,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// DrinkingGameResponse is the overlay as served by the API
type DrinkingGameResponse struct {
	Game      *domain.DrinkingGame `json:"game"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: h.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
	}).Handler)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// Prometheus
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// WebSocket endpoint; compression would break the upgrade
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/", h.GetDashboard)
			r.Get("/songs", h.GetSongs)
			r.Get("/leaderboard", h.GetLeaderboard)
			r.Get("/drinking-game", h.GetDrinkingGame)
			r.Post("/refresh", h.Refresh)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// GetDashboard returns the full dashboard snapshot
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.dashboard.Snapshot())
}

// GetSongs returns the recently played songs
func (h *Handler) GetSongs(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.dashboard.Snapshot().Songs)
}

// GetLeaderboard returns the current standings
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.dashboard.Snapshot().Users)
}

// GetDrinkingGame returns the showing drinking game; game is null when idle
func (h *Handler) GetDrinkingGame(w http.ResponseWriter, r *http.Request) {
	game, expiresAt, expires := h.dashboard.DrinkingGame()
	resp := DrinkingGameResponse{Game: game}
	if game != nil && expires {
		resp.ExpiresAt = &expiresAt
	}
	h.writeSuccess(w, resp)
}

// Refresh reloads both collections in the background
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !h.dashboard.Ready() {
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrNotReady)
		return
	}
	h.dashboard.OnLeaderboardChanged()
	h.writeJSON(w, http.StatusAccepted, APIResponse{
		Success: true,
		Data:    map[string]string{"status": "refreshing"},
	})
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.upgrader, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns 503 until the synchronizer is subscribed
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if !h.dashboard.Ready() {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    map[string]string{"status": "starting"},
			Error:   domain.ErrNotReady.Error(),
		})
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}
