package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/stallscope/stallscope/internal/safe"
	"github.com/stallscope/stallscope/pkg/vitals"
)

// serviceWatch holds the poll state for a single service.
type serviceWatch struct {
	service Service
	owner   *Watchdog
	logger  zerolog.Logger
	client  *http.Client

	mu           sync.RWMutex
	state        State
	pid          int
	goroutines   int
	rssBytes     int64
	lastBeatMs   int64
	profilable   bool
	processAlive bool
	lastCheck    time.Time
	lastErr      error

	// lastReported tracks the responsive value last delivered to
	// subscribers. nil until the first successful probe. A down stretch
	// does not reset it, so a service that restarts into the same state
	// produces no spurious event.
	lastReported *bool
}

func newServiceWatch(svc Service, owner *Watchdog) *serviceWatch {
	return &serviceWatch{
		service: svc,
		owner:   owner,
		logger:  owner.logger.With().Str("service", svc.Name).Logger(),
		client:  &http.Client{Timeout: owner.cfg.ProbeTimeout},
		state:   StateUnknown,
	}
}

// loop probes the service on every tick until the context is canceled.
func (s *serviceWatch) loop(ctx context.Context) {
	defer s.owner.wg.Done()

	// Random initial delay (up to 30% of the poll interval) so a fleet of
	// services is not probed in lockstep.
	maxJitter := int64(s.owner.cfg.PollInterval) * 30 / 100
	//nolint:gosec // G404: weak random is acceptable for probe jitter.
	initialDelay := time.Duration(rand.Int64N(maxJitter + 1))

	select {
	case <-ctx.Done():
		return
	case <-time.After(initialDelay):
	}

	s.probe(ctx)

	ticker := time.NewTicker(s.owner.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probe(ctx)
		}
	}
}

// probe fetches the vitals snapshot once and folds the result into the
// state machine, publishing an event when the service crosses the
// responsive/unresponsive boundary.
func (s *serviceWatch) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.owner.cfg.ProbeTimeout)
	defer cancel()

	snap, err := s.fetchVitals(ctx)
	now := time.Now()

	if err != nil {
		alive := s.checkProcessAlive()

		s.mu.Lock()
		wasDown := s.state == StateDown
		s.state = StateDown
		s.processAlive = alive
		s.lastCheck = now
		s.lastErr = err
		s.mu.Unlock()

		if wasDown {
			s.logger.Debug().Err(err).Msg("vitals probe still failing")
		} else {
			s.logger.Warn().Err(err).Bool("process_alive", alive).Msg("vitals probe failed")
		}
		return
	}

	newState := StateResponsive
	if !snap.Responsive {
		newState = StateUnresponsive
	}
	rss := sampleRSS(snap.PID)

	s.mu.Lock()
	prev := s.lastReported
	s.state = newState
	s.pid = snap.PID
	s.goroutines = snap.Goroutines
	s.rssBytes = rss
	s.lastBeatMs = snap.LastBeatMs
	s.profilable = snap.Profilable
	s.processAlive = true
	s.lastCheck = now
	s.lastErr = nil

	// The first successful probe sets the baseline without an event,
	// unless the service is already stalled when the watchdog comes up.
	emit := prev == nil && !snap.Responsive ||
		prev != nil && *prev != snap.Responsive
	responsive := snap.Responsive
	s.lastReported = &responsive
	s.mu.Unlock()

	if emit {
		s.logger.Info().
			Bool("responsive", snap.Responsive).
			Int64("last_beat_ms", snap.LastBeatMs).
			Msg("service responsiveness changed")
		s.owner.publish(Event{Service: s.service.Name, Responsive: snap.Responsive})
	} else {
		s.logger.Debug().Bool("responsive", snap.Responsive).Msg("vitals probe ok")
	}
}

// fetchVitals performs the HTTP GET against the service's vitals endpoint.
func (s *serviceWatch) fetchVitals(ctx context.Context) (vitals.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.service.URL+"/vitals", nil)
	if err != nil {
		return vitals.Snapshot{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return vitals.Snapshot{}, fmt.Errorf("fetch vitals: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return vitals.Snapshot{}, fmt.Errorf("unexpected vitals status: %d", resp.StatusCode)
	}

	var snap vitals.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return vitals.Snapshot{}, fmt.Errorf("decode vitals: %w", err)
	}
	return snap, nil
}

// sampleRSS reads the resident set size of the service process. Best
// effort: a failed read reports zero.
func sampleRSS(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return 0
	}
	rss, _ := safe.Uint64ToInt64(mem.RSS)
	return rss
}

// checkProcessAlive asks the OS whether the last known PID still exists.
// It distinguishes a crashed service from one whose endpoint is merely
// unreachable; the result is informational only.
func (s *serviceWatch) checkProcessAlive() bool {
	s.mu.RLock()
	pid := s.pid
	s.mu.RUnlock()

	if pid <= 0 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return alive
}

func (s *serviceWatch) status() ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var errMsg string
	if s.lastErr != nil {
		errMsg = s.lastErr.Error()
	}

	return ServiceStatus{
		Service:      s.service.Name,
		State:        s.state,
		PID:          s.pid,
		Goroutines:   s.goroutines,
		RSSBytes:     s.rssBytes,
		LastBeatMs:   s.lastBeatMs,
		Profilable:   s.profilable,
		ProcessAlive: s.processAlive,
		LastCheck:    s.lastCheck,
		Error:        errMsg,
	}
}
