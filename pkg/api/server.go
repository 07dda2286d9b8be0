package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// Server exposes the agent's read-only observability endpoints: /vars,
// /stats.json, /state.json and the Prometheus /metrics route.
type Server struct {
	agent   *agent.Agent
	version string
	server  *http.Server
	logger  zerolog.Logger
}

// NewServer creates an observability server for the agent.
func NewServer(a *agent.Agent, version string) *Server {
	return &Server{
		agent:   a,
		version: version,
		logger:  log.WithComponent("api"),
	}
}

// Start serves until Stop is called.
func (s *Server) Start(addr string) error {
	router := mux.NewRouter()
	router.HandleFunc("/vars", s.handleVars).Methods(http.MethodGet)
	router.HandleFunc("/stats.json", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/state.json", s.handleState).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	s.logger.Info().Str("addr", addr).Msg("observability endpoints listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	if s.server != nil {
		s.server.Close()
	}
}

// handleVars renders build and host facts as plain key/value lines.
func (s *Server) handleVars(w http.ResponseWriter, r *http.Request) {
	state := s.agent.State()
	stats := s.agent.Stats()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "version %s\n", s.version)
	fmt.Fprintf(w, "hostname %s\n", state.Info.Hostname)
	fmt.Fprintf(w, "public_hostname %s\n", state.Info.PublicHostname)
	fmt.Fprintf(w, "slave_id %s\n", state.SlaveID)
	fmt.Fprintf(w, "connected %t\n", state.Connected)
	fmt.Fprintf(w, "resources %s\n", state.Info.Resources)
	fmt.Fprintf(w, "start_time %s\n", state.StartTime.Format(time.RFC3339))
	fmt.Fprintf(w, "uptime_seconds %.0f\n", stats.Uptime)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.agent.Stats())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.agent.State())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode response")
	}
}
