// Package capture drives profiling sessions against a service's vitals
// endpoints and reduces the returned pprof payload into the raw sample
// form the aggregator consumes.
package capture

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stallscope/stallscope/internal/session"
	"github.com/stallscope/stallscope/internal/stallprof"
)

const defaultRequestTimeout = 10 * time.Second

// ProfilableView answers whether a service currently advertises profiling
// support. The watchdog provides the production implementation.
type ProfilableView interface {
	Profilable(service string) bool
}

// Target makes one watched service profilable through its vitals listener.
// It satisfies the session manager's Target contract.
type Target struct {
	name    string
	baseURL string
	view    ProfilableView
	client  *http.Client
	logger  zerolog.Logger
}

// NewTarget creates a profiling target for the named service. baseURL is
// the service's vitals listener address, without the /vitals path.
func NewTarget(name, baseURL string, view ProfilableView, logger zerolog.Logger) *Target {
	return &Target{
		name:    name,
		baseURL: baseURL,
		view:    view,
		client:  &http.Client{Timeout: defaultRequestTimeout},
		logger:  logger.With().Str("component", "capture").Str("service", name).Logger(),
	}
}

// Key returns the stable identity used for the active-session table.
func (t *Target) Key() string {
	return t.name
}

// CanBeProfiled reports whether the service advertised profiling support on
// its last vitals snapshot.
func (t *Target) CanBeProfiled() bool {
	return t.view.Profilable(t.name)
}

// StartProfilingSession asks the service to begin a CPU capture. A conflict
// response means another capture is already running; that surfaces as an
// error for the caller to absorb.
func (t *Target) StartProfilingSession() (session.ProfileSession, error) {
	url := t.baseURL + "/vitals/profile/start"
	resp, err := t.client.Post(url, "", nil) //nolint:noctx // Internal vitals call, no user-controlled URL.
	if err != nil {
		return nil, fmt.Errorf("start profiling: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		return nil, fmt.Errorf("start profiling: status %d", resp.StatusCode)
	}

	t.logger.Debug().Msg("profiling session started")
	return &Session{target: t}, nil
}

// Session is one open CPU capture against a target.
type Session struct {
	target *Target
}

// Stop ends the capture and materializes the profile. The raw payload is
// kept verbatim for persistence; the capture window and per-sample costs
// travel inside the pprof data.
func (s *Session) Stop() (stallprof.Profile, error) {
	t := s.target
	url := t.baseURL + "/vitals/profile/stop"
	resp, err := t.client.Post(url, "", nil) //nolint:noctx // Internal vitals call, no user-controlled URL.
	if err != nil {
		return stallprof.Profile{}, fmt.Errorf("stop profiling: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return stallprof.Profile{}, fmt.Errorf("stop profiling: status %d: %s", resp.StatusCode, string(body))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return stallprof.Profile{}, fmt.Errorf("read profile payload: %w", err)
	}

	prof, err := FromPprof(raw)
	if err != nil {
		return stallprof.Profile{}, err
	}

	t.logger.Debug().
		Int("samples", len(prof.IDs)).
		Int("payload_bytes", len(raw)).
		Msg("profiling session stopped")
	return prof, nil
}
