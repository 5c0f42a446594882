package vitals

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"
)

// DefaultThreshold is how stale the last beat may be before the service
// reports itself unresponsive.
const DefaultThreshold = 2 * time.Second

// Config contains monitor configuration options.
type Config struct {
	// Service is the name the monitor reports itself as (required).
	Service string

	// Threshold is the maximum beat staleness before the service counts
	// as unresponsive. Zero means DefaultThreshold.
	Threshold time.Duration

	// DisableProfiling turns off the profiling endpoints. The vitals
	// snapshot then reports profilable=false and start returns 403.
	DisableProfiling bool
}

// Monitor tracks the liveness of an application's critical loop and owns
// the in-process CPU profiler driven by the agent.
type Monitor struct {
	service    string
	threshold  time.Duration
	profilable bool
	lastBeat   atomic.Int64
	profiler   cpuProfiler
}

// NewMonitor creates a monitor. The service starts out responsive, as if
// a beat had just occurred.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Service == "" {
		return nil, fmt.Errorf("service name is required")
	}

	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	m := &Monitor{
		service:    cfg.Service,
		threshold:  threshold,
		profilable: !cfg.DisableProfiling,
	}
	m.Beat()
	return m, nil
}

// Beat records that the critical loop is alive. Call it from the loop
// whose stalls should be detected; it is safe for concurrent use and
// cheap enough for tight loops.
func (m *Monitor) Beat() {
	m.lastBeat.Store(time.Now().UnixNano())
}

// LastBeat returns the time of the most recent beat.
func (m *Monitor) LastBeat() time.Time {
	return time.Unix(0, m.lastBeat.Load())
}

// Responsive reports whether the last beat is within the threshold.
func (m *Monitor) Responsive() bool {
	return time.Since(m.LastBeat()) <= m.threshold
}

// Snapshot is the JSON body served at GET /vitals.
type Snapshot struct {
	Service    string `json:"service"`
	PID        int    `json:"pid"`
	Responsive bool   `json:"responsive"`
	LastBeatMs int64  `json:"last_beat_ms"`
	Goroutines int    `json:"goroutines"`
	Profilable bool   `json:"profilable"`
}

// Snapshot returns the current vitals of the process.
func (m *Monitor) Snapshot() Snapshot {
	return Snapshot{
		Service:    m.service,
		PID:        os.Getpid(),
		Responsive: m.Responsive(),
		LastBeatMs: time.Since(m.LastBeat()).Milliseconds(),
		Goroutines: runtime.NumGoroutine(),
		Profilable: m.profilable,
	}
}
