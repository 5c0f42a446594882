package report

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stallscope/stallscope/internal/stallprof"
)

// Event is the primary diagnostic record emitted for every reported stall.
// The field names are a wire contract consumed by downstream tooling.
type Event struct {
	ID       string            `json:"id"`
	Duration int64             `json:"duration"`
	Data     []stallprof.Slice `json:"data"`
	Prompt   bool              `json:"prompt"`
}

// FollowUpEvent is the lightweight record emitted when an operator runs
// the follow-up report command for an episode.
type FollowUpEvent struct {
	ID string `json:"id"`
}

// Emitter delivers diagnostic events. Delivery is fire-and-forget: an
// emitter never blocks the caller beyond a bounded send and never
// surfaces delivery failures as errors.
type Emitter interface {
	Emit(ctx context.Context, event interface{})
}

// NewEmitter returns a webhook emitter when a URL is configured, otherwise
// the log fallback.
func NewEmitter(webhookURL string, logger zerolog.Logger) Emitter {
	if webhookURL != "" {
		return NewWebhookEmitter(webhookURL, logger)
	}
	return NewLogEmitter(logger)
}

// WebhookEmitter POSTs events as JSON to a configured endpoint. Failures
// are logged at debug level only.
type WebhookEmitter struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

func NewWebhookEmitter(url string, logger zerolog.Logger) *WebhookEmitter {
	return &WebhookEmitter{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger.With().Str("component", "emitter").Logger(),
	}
}

func (e *WebhookEmitter) Emit(ctx context.Context, event interface{}) {
	body, err := json.Marshal(event)
	if err != nil {
		e.logger.Debug().Err(err).Msg("marshal diagnostic event")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		e.logger.Debug().Err(err).Msg("build diagnostic request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Debug().Err(err).Msg("diagnostic event delivery failed")
		return
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= 300 {
		e.logger.Debug().Int("status", resp.StatusCode).Msg("diagnostic endpoint refused event")
	}
}

// LogEmitter writes events to the log, the fallback when no webhook is
// configured.
type LogEmitter struct {
	logger zerolog.Logger
}

func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.With().Str("component", "emitter").Logger()}
}

func (e *LogEmitter) Emit(_ context.Context, event interface{}) {
	e.logger.Info().Interface("event", event).Msg("diagnostic event")
}
