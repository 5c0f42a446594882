// Package agent wires the stallscope components into one running
// process: the vitals watchdog, the profiling session manager, the
// reporting pipeline, the episode history store, and the local admin
// endpoint.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stallscope/stallscope/internal/capture"
	"github.com/stallscope/stallscope/internal/config"
	"github.com/stallscope/stallscope/internal/errsink"
	"github.com/stallscope/stallscope/internal/history"
	"github.com/stallscope/stallscope/internal/report"
	"github.com/stallscope/stallscope/internal/session"
	"github.com/stallscope/stallscope/internal/watchdog"
	"github.com/stallscope/stallscope/pkg/version"
)

const stopTimeout = 5 * time.Second

// Agent is one running stallscope process.
type Agent struct {
	cfg    *config.Config
	logger zerolog.Logger

	watchdog *watchdog.Watchdog
	targets  map[string]*capture.Target
	sessions *session.Manager
	resolver *report.Resolver
	history  *history.Store
	errs     *errsink.LogSink
	admin    *AdminServer

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New assembles an agent from configuration. Nothing runs until Start.
func New(cfg *config.Config, logger zerolog.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	resolver, err := report.NewResolver(cfg.Registry.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("load contributor registry: %w", err)
	}

	store, err := history.Open(cfg.History.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	pipeline := report.NewPipeline(
		resolver,
		report.NewEmitter(cfg.Report.WebhookURL, logger),
		report.NewArtifactStore(cfg.Report.ArtifactDir, logger),
		store,
		report.NewAlerter(logger),
		logger,
	)

	errs := errsink.NewLogSink(logger)
	sessions := session.NewManager(pipeline, errs, logger)

	services := make([]watchdog.Service, 0, len(cfg.Services))
	for _, svc := range cfg.Services {
		services = append(services, watchdog.Service{Name: svc.Name, URL: svc.VitalsURL})
	}
	wd := watchdog.New(watchdog.Config{
		PollInterval: cfg.Watchdog.PollInterval,
		ProbeTimeout: cfg.Watchdog.ProbeTimeout,
	}, services, logger)

	targets := make(map[string]*capture.Target, len(cfg.Services))
	for _, svc := range cfg.Services {
		targets[svc.Name] = capture.NewTarget(svc.Name, svc.VitalsURL, wd, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		cfg:      cfg,
		logger:   logger.With().Str("component", "agent").Logger(),
		watchdog: wd,
		targets:  targets,
		sessions: sessions,
		resolver: resolver,
		history:  store,
		errs:     errs,
		ctx:      ctx,
		cancel:   cancel,
	}
	a.admin = NewAdminServer(a, logger)
	return a, nil
}

// Start begins monitoring. Responsiveness transitions flow from the
// watchdog into the session manager; completed captures flow through
// the reporting pipeline.
func (a *Agent) Start() error {
	a.unsubscribe = a.watchdog.Subscribe(func(ev watchdog.Event) {
		target, ok := a.targets[ev.Service]
		if !ok {
			return
		}
		a.sessions.HandleResponsivenessChange(target, ev.Responsive)
	})

	a.watchdog.Start()

	if a.cfg.Registry.Watch && a.cfg.Registry.Path != "" {
		if err := a.resolver.Watch(a.ctx); err != nil {
			a.logger.Warn().Err(err).Msg("registry watch unavailable, hot reload disabled")
		}
	}

	if a.cfg.History.Retention > 0 && a.cfg.History.CleanupInterval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.history.RunCleanupLoop(a.ctx, a.cfg.History.CleanupInterval, a.cfg.History.Retention)
		}()
	}

	if err := a.admin.Start(a.cfg.Admin.ListenAddr); err != nil {
		a.Stop()
		return fmt.Errorf("start admin endpoint: %w", err)
	}

	a.logger.Info().
		Int("services", len(a.targets)).
		Str("admin", a.admin.Addr()).
		Str("version", version.Short()).
		Msg("agent started")
	return nil
}

// Stop shuts the agent down in dependency order: the admin endpoint
// first, then the watchdog and in-flight sessions, then the background
// loops, and finally the history store. Safe to call more than once.
func (a *Agent) Stop() {
	a.logger.Info().Msg("stopping agent")

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := a.admin.Stop(ctx); err != nil {
		a.logger.Error().Err(err).Msg("failed to stop admin endpoint")
	}

	// Detach from the watchdog before stopping it so no new episodes
	// start while sessions drain.
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	a.watchdog.Stop()
	a.sessions.Close()

	a.cancel()
	a.resolver.Close()
	a.wg.Wait()

	if err := a.history.Close(); err != nil {
		a.logger.Error().Err(err).Msg("failed to close history store")
	}

	a.logger.Info().Int64("capture_errors", a.errs.Count()).Msg("agent stopped")
}

// StatusReport is the payload served on the admin /status endpoint.
type StatusReport struct {
	Version         string                   `json:"version"`
	Services        []watchdog.ServiceStatus `json:"services"`
	ActiveSessions  int                      `json:"active_sessions"`
	EpisodeCount    int64                    `json:"episode_count"`
	RegistryEntries int                      `json:"registry_entries"`
}

// Status reports a point-in-time view of the whole agent.
func (a *Agent) Status(ctx context.Context) StatusReport {
	episodes, err := a.history.EpisodeCount(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to count episodes")
	}
	return StatusReport{
		Version:         version.Version,
		Services:        a.watchdog.Status(),
		ActiveSessions:  a.sessions.ActiveCount(),
		EpisodeCount:    episodes,
		RegistryEntries: a.resolver.Size(),
	}
}
