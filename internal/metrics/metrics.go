package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Heartbeat metrics
	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studygate_heartbeats_total",
			Help: "Total heartbeats applied across all sessions",
		},
	)

	UsageSecondsAccrued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studygate_usage_seconds_accrued_total",
			Help: "Total active seconds accrued across all sessions",
		},
	)

	// Lockout metrics
	LockoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studygate_lockouts_total",
			Help: "Total lockout transitions by reason",
		},
		[]string{"reason"},
	)

	// Persistence metrics
	SnapshotSaveErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studygate_snapshot_save_errors_total",
			Help: "Snapshot write-through failures (retried on next tick)",
		},
	)

	// Session metrics
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "studygate_active_sessions",
			Help: "Number of running session controllers",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		HeartbeatsTotal,
		UsageSecondsAccrued,
		LockoutsTotal,
		SnapshotSaveErrors,
		ActiveSessions,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
