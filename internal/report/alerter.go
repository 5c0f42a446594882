package report

import (
	"github.com/rs/zerolog"

	"github.com/stallscope/stallscope/internal/stallprof"
)

// Alerter raises the operator-facing prompt for episodes whose dominant
// contributor crossed the alert threshold. The agent is headless, so the
// alert surface is a structured warn-level log line naming the contributor
// and the follow-up command.
type Alerter struct {
	logger zerolog.Logger
}

func NewAlerter(logger zerolog.Logger) *Alerter {
	return &Alerter{logger: logger.With().Str("component", "alert").Logger()}
}

// Alert reports one prompt-warranted episode.
func (a *Alerter) Alert(episodeID, service string, info ContributorInfo, summary stallprof.Summary) {
	a.logger.Warn().
		Str("service", service).
		Str("episode_id", episodeID).
		Str("contributor", info.Name).
		Str("owner", info.Owner).
		Int("percentage", summary.Top.Percentage).
		Int64("total_us", summary.Top.Total).
		Msgf("stall dominated by %s, run 'stallscope report %s' for details", info.Name, episodeID)
}
