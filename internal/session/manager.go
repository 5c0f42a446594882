// Package session owns the per-target active-session table and the
// start/bound/cancel state machine that turns responsiveness transitions
// into bounded profiling episodes.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/stallscope/stallscope/internal/stallprof"
)

// sessionWindow bounds every profiling episode. A stall either ends
// early (cancellation) or the capture is stopped at this wall-clock
// limit. The window is fixed; there is no configuration override.
const sessionWindow = 5 * time.Second

// Target is a handle to a monitored process that reports responsiveness
// and can host profiling sessions. Key must be stable for the lifetime
// of the process; it keys the active-session table.
type Target interface {
	Key() string
	CanBeProfiled() bool
	StartProfilingSession() (ProfileSession, error)
}

// ProfileSession is one open profiling capture against a Target.
type ProfileSession interface {
	Stop() (stallprof.Profile, error)
}

// Reporter receives completed stall summaries. Implementations decide
// how to resolve, emit, persist, and alert.
type Reporter interface {
	ReportStall(episodeID string, target Target, profile stallprof.Profile, summary stallprof.Summary)
}

// ErrorSink receives capture failures that have no caller to return to.
// Implementations must not block.
type ErrorSink interface {
	Report(err error)
}

// episode is one in-flight unresponsiveness episode in the active table.
type episode struct {
	cancel *CancellationSignal
}

// Manager implements the session lifecycle state machine. At most one
// episode is active per target key at any instant.
type Manager struct {
	active   *xsync.MapOf[string, *episode]
	reporter Reporter
	errs     ErrorSink
	logger   zerolog.Logger
	window   time.Duration

	wg sync.WaitGroup
}

// NewManager creates a session manager wired to the given reporting path
// and error sink.
func NewManager(reporter Reporter, errs ErrorSink, logger zerolog.Logger) *Manager {
	return &Manager{
		active:   xsync.NewMapOf[string, *episode](),
		reporter: reporter,
		errs:     errs,
		logger:   logger.With().Str("component", "session").Logger(),
		window:   sessionWindow,
	}
}

// HandleResponsivenessChange feeds one responsiveness transition into the
// state machine. It never blocks: the bounded wait runs on a goroutine
// per episode, so events for other targets proceed concurrently.
func (m *Manager) HandleResponsivenessChange(target Target, responsive bool) {
	if !target.CanBeProfiled() {
		return
	}

	key := target.Key()

	if responsive {
		// Recovery: unblock the in-flight wait if there is one. The
		// table entry is removed by the episode goroutine once teardown
		// finishes, so a session still tearing down cannot race a new
		// start.
		if ep, ok := m.active.Load(key); ok {
			ep.cancel.Signal()
		}
		return
	}

	ep := &episode{cancel: NewCancellationSignal()}

	// Register-before-start: the atomic LoadOrStore guarantees at most
	// one episode per target even under concurrent event delivery. An
	// existing entry means a session is already active: no-op.
	if _, loaded := m.active.LoadOrStore(key, ep); loaded {
		return
	}

	m.wg.Add(1)
	go m.runEpisode(key, target, ep)
}

// runEpisode drives one episode: start, bounded wait, stop, aggregate,
// report. The table entry is removed on every exit path.
func (m *Manager) runEpisode(key string, target Target, ep *episode) {
	defer m.wg.Done()
	defer m.active.Delete(key)

	sess, err := target.StartProfilingSession()
	if err != nil {
		// Expected contention, commonly another profiler already
		// attached to the target. Not an error: no log, no report.
		return
	}

	episodeID := uuid.New().String()
	m.logger.Debug().
		Str("target", key).
		Str("episode_id", episodeID).
		Msg("profiling session started")

	timer := time.NewTimer(m.window)
	select {
	case <-ep.cancel.Done():
		timer.Stop()
	case <-timer.C:
	}

	profile, err := sess.Stop()
	if err != nil {
		m.errs.Report(fmt.Errorf("stop profiling session for %s: %w", key, err))
		return
	}

	summary, ok := stallprof.Aggregate(profile)
	if !ok {
		m.logger.Debug().
			Str("target", key).
			Str("episode_id", episodeID).
			Msg("capture produced nothing to report")
		return
	}

	m.reporter.ReportStall(episodeID, target, profile, summary)
}

// ActiveCount returns the number of targets with an in-flight episode.
func (m *Manager) ActiveCount() int {
	return m.active.Size()
}

// Close cancels all in-flight episodes and waits for their teardown,
// including any reporting still in progress.
func (m *Manager) Close() {
	m.active.Range(func(_ string, ep *episode) bool {
		ep.cancel.Signal()
		return true
	})
	m.wg.Wait()
}
