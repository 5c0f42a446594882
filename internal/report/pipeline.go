package report

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stallscope/stallscope/internal/history"
	"github.com/stallscope/stallscope/internal/session"
	"github.com/stallscope/stallscope/internal/stallprof"
)

const reportTimeout = 30 * time.Second

// HistoryStore records reported episodes. *history.Store is the
// production implementation.
type HistoryStore interface {
	RecordEpisode(ctx context.Context, ep history.Episode) error
}

// Pipeline is the reporting path for completed profiling sessions. For
// each summary it resolves the dominant contributor, emits the primary
// diagnostic event, persists the raw payload, records the episode, and
// raises the operator alert when warranted.
type Pipeline struct {
	resolver  *Resolver
	emitter   Emitter
	artifacts *ArtifactStore
	history   HistoryStore
	alerter   *Alerter
	logger    zerolog.Logger
}

func NewPipeline(resolver *Resolver, emitter Emitter, artifacts *ArtifactStore, store HistoryStore, alerter *Alerter, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		resolver:  resolver,
		emitter:   emitter,
		artifacts: artifacts,
		history:   store,
		alerter:   alerter,
		logger:    logger.With().Str("component", "report").Logger(),
	}
}

// ReportStall handles one completed episode. An unresolvable dominant
// contributor drops the whole report: there is nothing an operator could
// act on. Failures past that point degrade the report rather than abort
// it, so a broken artifact disk still leaves the event and the history
// row.
func (p *Pipeline) ReportStall(episodeID string, target session.Target, profile stallprof.Profile, summary stallprof.Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	service := target.Key()

	info, ok := p.resolver.Resolve(summary.Top.ID)
	if !ok {
		p.logger.Debug().
			Str("service", service).
			Str("top", summary.Top.ID).
			Msg("dominant contributor not in registry, dropping report")
		return
	}

	p.emitter.Emit(ctx, Event{
		ID:       episodeID,
		Duration: summary.Duration,
		Data:     summary.Slices,
		Prompt:   summary.PromptWarranted,
	})

	artifact := ""
	if path, err := p.artifacts.Write(profile.Payload); err != nil {
		p.logger.Error().Err(err).Str("episode_id", episodeID).Msg("failed to persist profile artifact")
	} else {
		artifact = path
	}

	if p.history != nil {
		ep := history.Episode{
			ID:         episodeID,
			Service:    service,
			CapturedAt: time.Now(),
			Duration:   summary.Duration,
			TopID:      summary.Top.ID,
			TopPct:     summary.Top.Percentage,
			Prompt:     summary.PromptWarranted,
			Artifact:   artifact,
			Resolved:   info.Name,
			Slices:     summary.Slices,
		}
		if err := p.history.RecordEpisode(ctx, ep); err != nil {
			p.logger.Error().Err(err).Str("episode_id", episodeID).Msg("failed to record episode")
		}
	}

	if summary.PromptWarranted {
		p.alerter.Alert(episodeID, service, info, summary)
	}

	p.logger.Info().
		Str("service", service).
		Str("episode_id", episodeID).
		Str("top", summary.Top.ID).
		Str("resolved", info.Name).
		Int("top_pct", summary.Top.Percentage).
		Bool("prompt", summary.PromptWarranted).
		Msg("stall reported")
}
