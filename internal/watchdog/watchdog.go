// Package watchdog polls the vitals endpoints of registered services and
// turns raw liveness snapshots into responsiveness transition events.
//
// A service is in one of three states: responsive, unresponsive, or down.
// Only crossings of the responsive/unresponsive boundary are delivered to
// subscribers. Down means the endpoint could not be probed at all, which is
// a crash or a network problem rather than a stall, so it never triggers an
// event on its own.
package watchdog

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State classifies a watched service after a probe.
type State string

const (
	StateUnknown      State = "unknown"
	StateResponsive   State = "responsive"
	StateUnresponsive State = "unresponsive"
	StateDown         State = "down"
)

// Event is delivered to subscribers when a service crosses the
// responsive/unresponsive boundary.
type Event struct {
	Service    string
	Responsive bool
}

// Service identifies one vitals endpoint to watch. URL is the base address
// of the service's vitals listener, without the /vitals path.
type Service struct {
	Name string
	URL  string
}

// ServiceStatus is a point-in-time view of one watched service, served on
// the agent's status surface.
type ServiceStatus struct {
	Service      string    `json:"service"`
	State        State     `json:"state"`
	PID          int       `json:"pid,omitempty"`
	Goroutines   int       `json:"goroutines,omitempty"`
	RSSBytes     int64     `json:"rss_bytes,omitempty"`
	LastBeatMs   int64     `json:"last_beat_ms"`
	Profilable   bool      `json:"profilable"`
	ProcessAlive bool      `json:"process_alive"`
	LastCheck    time.Time `json:"last_check"`
	Error        string    `json:"error,omitempty"`
}

// Config holds the polling knobs for the watchdog.
type Config struct {
	PollInterval time.Duration
	ProbeTimeout time.Duration
}

// Watchdog runs one poll loop per registered service and fans transition
// events out to subscribers.
type Watchdog struct {
	cfg     Config
	logger  zerolog.Logger
	watches map[string]*serviceWatch
	order   []string

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watchdog for the given services. Zero config values fall
// back to a 1s poll interval and a 2s probe timeout.
func New(cfg Config, services []Service, logger zerolog.Logger) *Watchdog {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watchdog{
		cfg:     cfg,
		logger:  logger.With().Str("component", "watchdog").Logger(),
		watches: make(map[string]*serviceWatch, len(services)),
		subs:    make(map[int]func(Event)),
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, svc := range services {
		svc.URL = strings.TrimRight(svc.URL, "/")
		w.watches[svc.Name] = newServiceWatch(svc, w)
		w.order = append(w.order, svc.Name)
	}
	return w
}

// Start begins polling all registered services.
func (w *Watchdog) Start() {
	w.logger.Info().
		Int("services", len(w.watches)).
		Dur("poll_interval", w.cfg.PollInterval).
		Msg("starting watchdog")

	for _, name := range w.order {
		sw := w.watches[name]
		w.wg.Add(1)
		go sw.loop(w.ctx)
	}
}

// Stop ends all poll loops and waits for them to exit. No events are
// delivered after Stop returns.
func (w *Watchdog) Stop() {
	w.logger.Info().Msg("stopping watchdog")
	w.cancel()
	w.wg.Wait()
	for _, sw := range w.watches {
		sw.client.CloseIdleConnections()
	}
}

// Subscribe registers fn for transition events and returns the matching
// unsubscribe func. Callbacks run on the poll goroutines, so events for one
// service arrive in probe order. A callback must not call Subscribe or the
// returned func. Once unsubscribe returns, no further calls to fn are in
// flight.
func (w *Watchdog) Subscribe(fn func(Event)) func() {
	w.subMu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.subMu.Unlock()

	return func() {
		w.subMu.Lock()
		delete(w.subs, id)
		w.subMu.Unlock()
	}
}

func (w *Watchdog) publish(ev Event) {
	w.subMu.RLock()
	defer w.subMu.RUnlock()
	for _, fn := range w.subs {
		fn(ev)
	}
}

// Status returns a snapshot of every watched service in registration order.
func (w *Watchdog) Status() []ServiceStatus {
	out := make([]ServiceStatus, 0, len(w.order))
	for _, name := range w.order {
		out = append(out, w.watches[name].status())
	}
	return out
}

// Profilable reports whether the named service advertised profiling support
// on its last successful probe. Unknown and down services are not
// profilable.
func (w *Watchdog) Profilable(name string) bool {
	sw, ok := w.watches[name]
	if !ok {
		return false
	}
	st := sw.status()
	return st.Profilable && st.State != StateDown && st.State != StateUnknown
}
