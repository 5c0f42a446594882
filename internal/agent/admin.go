package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stallscope/stallscope/internal/history"
)

// AdminServer serves the local status and episode endpoints for the CLI.
// It binds to loopback by default and carries no authentication.
type AdminServer struct {
	logger   zerolog.Logger
	agent    *Agent
	listener net.Listener
	server   *http.Server
	addr     string
}

// NewAdminServer creates the admin endpoint for an agent.
func NewAdminServer(agent *Agent, logger zerolog.Logger) *AdminServer {
	return &AdminServer{
		logger: logger.With().Str("component", "admin").Logger(),
		agent:  agent,
	}
}

// Start listens on addr and serves in the background. Addr reports the
// bound address, which matters when addr requests port 0.
func (s *AdminServer) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/episodes", s.handleEpisodes)
	mux.HandleFunc("/episodes/", s.handleEpisode)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("admin endpoint started")
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("admin endpoint error")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down. A nil server is a no-op so the
// agent can stop cleanly even when Start never ran.
func (s *AdminServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("stopping admin endpoint")
	return s.server.Shutdown(ctx)
}

// Addr returns the bound listen address.
func (s *AdminServer) Addr() string {
	return s.addr
}

func (s *AdminServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (s *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.agent.Status(r.Context()))
}

func (s *AdminServer) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	episodes, err := s.agent.history.ListEpisodes(r.Context(), r.URL.Query().Get("service"), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list episodes")
		http.Error(w, "failed to list episodes", http.StatusInternalServerError)
		return
	}
	if episodes == nil {
		episodes = []history.Episode{}
	}
	s.writeJSON(w, episodes)
}

func (s *AdminServer) handleEpisode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/episodes/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	ep, err := s.agent.history.GetEpisode(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		http.Error(w, "episode not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("episode_id", id).Msg("failed to load episode")
		http.Error(w, "failed to load episode", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, ep)
}

func (s *AdminServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("failed to encode response")
	}
}
