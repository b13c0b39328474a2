package api

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/studygate/studygate/internal/quota"
	"github.com/studygate/studygate/internal/session"
)

const (
	usageCacheSize = 4096
	usageCacheTTL  = 5 * time.Second
)

// Config holds the API server configuration
type Config struct {
	ListenAddr string
}

// Server is the usage HTTP API. Heartbeats and lock resets go straight
// to the session manager; usage reads are served from a short-TTL cache
// so dashboard polling does not hammer the storage backend.
type Server struct {
	config  Config
	manager *session.Manager
	cache   *expirable.LRU[string, UsageResponse]
	router  *mux.Router
	server  *http.Server
	logger  zerolog.Logger

	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates the API server
func NewServer(cfg Config, manager *session.Manager, logger zerolog.Logger) *Server {
	s := &Server{
		config:  cfg,
		manager: manager,
		cache:   expirable.NewLRU[string, UsageResponse](usageCacheSize, nil, usageCacheTTL),
		router:  mux.NewRouter(),
		logger:  logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/users/{id}/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	v1.HandleFunc("/users/{id}/usage", s.handleUsage).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/lock", s.handleResetLock).Methods(http.MethodDelete)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop stops the API server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Close()
}

// HeartbeatResponse is returned after each recorded heartbeat
type HeartbeatResponse struct {
	Locked                bool   `json:"locked"`
	Reason                string `json:"reason,omitempty"`
	SecondsRemainingToday int64  `json:"seconds_remaining_today"`
}

// UsageResponse describes a user's current quota consumption
type UsageResponse struct {
	UserID                string `json:"user_id"`
	DailySecondsUsed      int64  `json:"daily_seconds_used"`
	SecondsRemainingToday int64  `json:"seconds_remaining_today"`
	ActiveDaysUsed        int    `json:"active_days_used"`
	CurrentDay            string `json:"current_day"`
	CurrentMonth          string `json:"current_month"`
	Locked                bool   `json:"locked"`
	Reason                string `json:"reason,omitempty"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	verdict, err := s.manager.Heartbeat(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Heartbeat failed")
		writeError(w, http.StatusInternalServerError, "Failed to record heartbeat")
		return
	}

	// The cached usage view is stale the moment activity is recorded
	s.cache.Remove(userID)

	writeJSON(w, http.StatusOK, HeartbeatResponse{
		Locked:                verdict.Locked,
		Reason:                string(verdict.Reason),
		SecondsRemainingToday: verdict.SecondsRemainingToday,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	if resp, ok := s.cache.Get(userID); ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	verdict, snap, err := s.manager.Verdict(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Usage lookup failed")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve usage")
		return
	}

	resp := usageResponse(userID, verdict, snap)
	s.cache.Add(userID, resp)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetLock(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	if err := s.manager.ForceReset(r.Context(), userID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Lock reset failed")
		writeError(w, http.StatusInternalServerError, "Failed to reset usage")
		return
	}

	s.cache.Remove(userID)
	s.logger.Info().Str("user_id", userID).Msg("Usage reset via API")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"status":  "reset",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func usageResponse(userID string, verdict quota.Verdict, snap quota.Snapshot) UsageResponse {
	return UsageResponse{
		UserID:                userID,
		DailySecondsUsed:      snap.DailySecondsUsed,
		SecondsRemainingToday: verdict.SecondsRemainingToday,
		ActiveDaysUsed:        len(snap.ActiveDays),
		CurrentDay:            snap.CurrentDay,
		CurrentMonth:          snap.CurrentMonth,
		Locked:                verdict.Locked,
		Reason:                string(verdict.Reason),
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
