package vitals

import (
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
)

// Server runs the vitals handler on its own listener for applications
// that do not already serve HTTP.
type Server struct {
	logger   zerolog.Logger
	monitor  *Monitor
	listener net.Listener
	server   *http.Server
	addr     string
}

// NewServer creates a standalone vitals server for the monitor.
func NewServer(logger zerolog.Logger, monitor *Monitor) *Server {
	return &Server{
		logger:  logger.With().Str("component", "vitals-server").Logger(),
		monitor: monitor,
	}
}

// Start listens on addr and serves in the background. An empty addr
// listens on localhost with an auto-selected port; Addr reports the
// bound address either way.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.server = &http.Server{Handler: s.monitor.Handler()}

	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("vitals server started")
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("vitals server error")
		}
	}()

	return nil
}

// Stop closes the server and its listener.
func (s *Server) Stop() error {
	s.logger.Info().Msg("stopping vitals server")
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// Addr returns the server's bound listen address.
func (s *Server) Addr() string {
	return s.addr
}
