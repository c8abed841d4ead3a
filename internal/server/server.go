// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/doctor-assist/internal/auth"
	"github.com/jeranaias/doctor-assist/internal/gemini"
	"github.com/jeranaias/doctor-assist/internal/ratelimit"
	"github.com/jeranaias/doctor-assist/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address for the HTTP server.
	DefaultAddr = "127.0.0.1:8790"

	// MaxRequestBodySize is the maximum size for request bodies to prevent DoS (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// Version is the server version.
	Version = "1.0.0"
)

// ============================================================================
// GENERATOR INTERFACE
// ============================================================================

// Generator produces a completion for an ordered list of prompt parts.
// *gemini.Client satisfies it; tests substitute their own.
type Generator interface {
	GenerateContent(ctx context.Context, contents []gemini.Content) (gemini.Result, error)
	IsConfigured() bool
}

// ============================================================================
// RELAY STATS
// ============================================================================

// RelayStats tracks relay usage statistics.
type RelayStats struct {
	TotalRequests   int64     `json:"total_requests"`
	ChatRequests    int64     `json:"chat_requests"`
	SummaryRequests int64     `json:"summary_requests"`
	RateLimited     int64     `json:"rate_limited"`
	Invalid         int64     `json:"invalid"`
	Degraded        int64     `json:"degraded"`
	Unavailable     int64     `json:"unavailable"`
	StartTime       time.Time `json:"start_time"`
}

// NewRelayStats creates a new RelayStats instance.
func NewRelayStats() *RelayStats {
	return &RelayStats{StartTime: time.Now()}
}

// Snapshot returns a consistent copy of the current counters.
func (s *RelayStats) Snapshot() RelayStats {
	return RelayStats{
		TotalRequests:   atomic.LoadInt64(&s.TotalRequests),
		ChatRequests:    atomic.LoadInt64(&s.ChatRequests),
		SummaryRequests: atomic.LoadInt64(&s.SummaryRequests),
		RateLimited:     atomic.LoadInt64(&s.RateLimited),
		Invalid:         atomic.LoadInt64(&s.Invalid),
		Degraded:        atomic.LoadInt64(&s.Degraded),
		Unavailable:     atomic.LoadInt64(&s.Unavailable),
		StartTime:       s.StartTime,
	}
}

// Uptime returns the server uptime duration.
func (s *RelayStats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the Doctor Assist HTTP API server.
type Server struct {
	addr   string
	router *http.ServeMux
	server *http.Server

	generator Generator
	store     *storage.Store
	sessions  *auth.Manager
	limiter   *ratelimit.Limiter
	stats     *RelayStats

	mu sync.RWMutex
}

// NewServer creates a new Server listening on addr.
// If addr is empty, the default address is used.
func NewServer(addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		addr:     addr,
		router:   http.NewServeMux(),
		sessions: auth.NewManager(auth.DefaultSessionTTL),
		limiter:  ratelimit.Default(),
		stats:    NewRelayStats(),
	}

	s.setupRoutes()
	return s
}

// WithGenerator sets the completion provider.
func (s *Server) WithGenerator(g Generator) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generator = g
	return s
}

// WithStore sets the account store.
func (s *Server) WithStore(store *storage.Store) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
	return s
}

// WithSessions sets a custom session manager.
func (s *Server) WithSessions(m *auth.Manager) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = m
	return s
}

// WithLimiter sets a custom rate limiter for the relay endpoint.
func (s *Server) WithLimiter(l *ratelimit.Limiter) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = l
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Limiter returns the relay rate limiter, for hot-reload wiring.
func (s *Server) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// Handler returns the fully assembled handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.buildHandler()
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Relay is the only rate-limited surface, matching the admission model
	// of one budget per client per window.
	s.router.Handle("POST /api/ai", s.rateLimit(http.HandlerFunc(s.handleRelay)))

	// Account endpoints
	s.router.HandleFunc("POST /api/auth/signup", s.handleSignup)
	s.router.HandleFunc("POST /api/auth/login", s.handleLogin)

	// History PIN endpoints (session required)
	s.router.HandleFunc("GET /api/history/pin-status", s.handlePINStatus)
	s.router.HandleFunc("POST /api/history/create-pin", s.handleCreatePIN)
	s.router.HandleFunc("POST /api/history/verify-pin", s.handleVerifyPIN)

	// Health and stats endpoints
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /stats", s.handleStats)
}

// buildHandler wraps the router with the global middleware chain.
func (s *Server) buildHandler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
	)(s.router)
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	GeminiStatus   string `json:"gemini_status"`
	AccountsStatus string `json:"accounts_status"`
	TrackedClients int    `json:"tracked_clients"`
	RateLimit      int    `json:"rate_limit"`
	RateWindowSecs int    `json:"rate_window_secs"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	generator := s.generator
	store := s.store
	s.mu.RUnlock()

	health := HealthResponse{
		Status:         "ok",
		Version:        Version,
		TrackedClients: s.limiter.Len(),
		RateLimit:      s.limiter.Limit(),
		RateWindowSecs: int(s.limiter.Window().Seconds()),
	}

	if generator != nil && generator.IsConfigured() {
		health.GeminiStatus = "configured"
	} else {
		health.GeminiStatus = "not_configured"
		health.Status = "degraded"
	}

	if store != nil {
		health.AccountsStatus = "ok"
	} else {
		health.AccountsStatus = "not_configured"
	}

	s.writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// STATS HANDLER
// ============================================================================

// StatsResponse represents the usage statistics response.
type StatsResponse struct {
	TotalRequests   int64 `json:"total_requests"`
	ChatRequests    int64 `json:"chat_requests"`
	SummaryRequests int64 `json:"summary_requests"`
	RateLimited     int64 `json:"rate_limited"`
	Invalid         int64 `json:"invalid"`
	Degraded        int64 `json:"degraded"`
	Unavailable     int64 `json:"unavailable"`
	UptimeSeconds   int64 `json:"uptime_seconds"`
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.stats.Snapshot()

	s.writeJSON(w, http.StatusOK, StatsResponse{
		TotalRequests:   stats.TotalRequests,
		ChatRequests:    stats.ChatRequests,
		SummaryRequests: stats.SummaryRequests,
		RateLimited:     stats.RateLimited,
		Invalid:         stats.Invalid,
		Degraded:        stats.Degraded,
		Unavailable:     stats.Unavailable,
		UptimeSeconds:   int64(stats.Uptime().Seconds()),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.buildHandler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s", s.addr, Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a flat JSON error response: {"error": "..."}.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// truncateString truncates a string to the specified length for log lines.
// Uses rune-based truncation to handle Unicode correctly.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
