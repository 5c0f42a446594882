// Package history keeps a local DuckDB record of every reported stall
// episode, serving the history, report, and status surfaces.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"

	"github.com/stallscope/stallscope/internal/errsink"
	"github.com/stallscope/stallscope/internal/retry"
	"github.com/stallscope/stallscope/internal/stallprof"
)

// ErrNotFound is returned when no episode matches the requested ID.
var ErrNotFound = errors.New("episode not found")

// Episode is one recorded stall, with its ranked slices when loaded via
// GetEpisode.
type Episode struct {
	ID         string            `json:"id"`
	Service    string            `json:"service"`
	CapturedAt time.Time         `json:"captured_at"`
	Duration   int64             `json:"duration_us"`
	TopID      string            `json:"top_id"`
	TopPct     int               `json:"top_pct"`
	Prompt     bool              `json:"prompt"`
	Artifact   string            `json:"artifact,omitempty"`
	Resolved   string            `json:"resolved,omitempty"`
	Slices     []stallprof.Slice `json:"slices,omitempty"`
}

// Store is the episode database. All writes go through a short retry loop
// because DuckDB reports transient conflicts under concurrent transactions.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
}

// Open creates or opens the episode database at path. An empty path opens
// an in-memory database.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	connector, err := duckdb.NewConnector(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	s := &Store{
		db:     sql.OpenDB(connector),
		logger: logger.With().Str("component", "history").Logger(),
	}
	if err := s.initSchema(); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS stall_episodes (
			id          TEXT PRIMARY KEY,
			service     TEXT      NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			duration_us BIGINT    NOT NULL,
			top_id      TEXT      NOT NULL,
			top_pct     INTEGER   NOT NULL,
			prompt      BOOLEAN   NOT NULL,
			artifact    TEXT      NOT NULL DEFAULT '',
			resolved    TEXT      NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_stall_episodes_service
			ON stall_episodes (service);
		CREATE INDEX IF NOT EXISTS idx_stall_episodes_captured_at
			ON stall_episodes (captured_at);

		-- Ranked slices of each episode, idx preserves ascending-id order.
		CREATE TABLE IF NOT EXISTS stall_slices (
			episode_id  TEXT    NOT NULL,
			idx         INTEGER NOT NULL,
			contributor TEXT    NOT NULL,
			total_us    BIGINT  NOT NULL,
			pct         INTEGER NOT NULL,
			PRIMARY KEY (episode_id, idx)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}

	s.logger.Debug().Msg("history schema initialized")
	return nil
}

// RecordEpisode persists one episode and its slices in a single
// transaction, retrying transient write conflicts.
func (s *Store) RecordEpisode(ctx context.Context, ep Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := retry.Config{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Jitter:         0.1,
	}

	return retry.Do(ctx, cfg, func() error {
		return s.insertEpisode(ctx, ep)
	}, isWriteConflict)
}

func (s *Store) insertEpisode(ctx context.Context, ep Episode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer errsink.DeferRollback(s.logger, tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stall_episodes (
			id, service, captured_at, duration_us, top_id, top_pct, prompt, artifact, resolved
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ep.ID,
		ep.Service,
		ep.CapturedAt.UTC(),
		ep.Duration,
		ep.TopID,
		ep.TopPct,
		ep.Prompt,
		ep.Artifact,
		ep.Resolved,
	)
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}

	for i, sl := range ep.Slices {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stall_slices (episode_id, idx, contributor, total_us, pct)
			VALUES (?, ?, ?, ?, ?)
		`, ep.ID, i, sl.ID, sl.Total, sl.Percentage)
		if err != nil {
			return fmt.Errorf("insert slice: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit episode: %w", err)
	}
	return nil
}

// GetEpisode loads one episode with its slices in stored order.
func (s *Store) GetEpisode(ctx context.Context, id string) (Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ep Episode
	err := s.db.QueryRowContext(ctx, `
		SELECT id, service, captured_at, duration_us, top_id, top_pct, prompt, artifact, resolved
		FROM stall_episodes
		WHERE id = ?
	`, id).Scan(
		&ep.ID, &ep.Service, &ep.CapturedAt, &ep.Duration,
		&ep.TopID, &ep.TopPct, &ep.Prompt, &ep.Artifact, &ep.Resolved,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Episode{}, ErrNotFound
	}
	if err != nil {
		return Episode{}, fmt.Errorf("query episode: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT contributor, total_us, pct
		FROM stall_slices
		WHERE episode_id = ?
		ORDER BY idx ASC
	`, id)
	if err != nil {
		return Episode{}, fmt.Errorf("query slices: %w", err)
	}
	defer errsink.DeferClose(s.logger, rows, "failed to close result rows")

	for rows.Next() {
		var sl stallprof.Slice
		if err := rows.Scan(&sl.ID, &sl.Total, &sl.Percentage); err != nil {
			return Episode{}, fmt.Errorf("scan slice: %w", err)
		}
		ep.Slices = append(ep.Slices, sl)
	}
	if err := rows.Err(); err != nil {
		return Episode{}, fmt.Errorf("iterate slices: %w", err)
	}
	return ep, nil
}

// ListEpisodes returns episode summaries, newest first, without slices.
// service narrows the result when non-empty; limit <= 0 means 50.
func (s *Store) ListEpisodes(ctx context.Context, service string, limit int) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, service, captured_at, duration_us, top_id, top_pct, prompt, artifact, resolved
		FROM stall_episodes
	`
	args := []interface{}{}
	if service != "" {
		query += " WHERE service = ?"
		args = append(args, service)
	}
	query += " ORDER BY captured_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer errsink.DeferClose(s.logger, rows, "failed to close result rows")

	var episodes []Episode
	for rows.Next() {
		var ep Episode
		if err := rows.Scan(
			&ep.ID, &ep.Service, &ep.CapturedAt, &ep.Duration,
			&ep.TopID, &ep.TopPct, &ep.Prompt, &ep.Artifact, &ep.Resolved,
		); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return episodes, nil
}

// EpisodeCount returns the number of stored episodes.
func (s *Store) EpisodeCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stall_episodes").Scan(&count); err != nil {
		return 0, fmt.Errorf("count episodes: %w", err)
	}
	return count, nil
}

// Cleanup removes episodes captured before the retention cutoff, slices
// included.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention).UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer errsink.DeferRollback(s.logger, tx)

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM stall_slices
		WHERE episode_id IN (SELECT id FROM stall_episodes WHERE captured_at < ?)
	`, cutoff); err != nil {
		return fmt.Errorf("cleanup slices: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM stall_episodes WHERE captured_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("cleanup episodes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cleanup: %w", err)
	}

	if deleted, _ := result.RowsAffected(); deleted > 0 {
		s.logger.Debug().
			Int64("episodes_deleted", deleted).
			Time("cutoff", cutoff).
			Msg("cleaned up old episodes")
	}
	return nil
}

// RunCleanupLoop deletes expired episodes on every tick until the context
// is canceled. Intended to run as its own goroutine.
func (s *Store) RunCleanupLoop(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", interval).
		Dur("retention", retention).
		Msg("starting history cleanup loop")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("stopping history cleanup loop")
			return
		case <-ticker.C:
			if err := s.Cleanup(ctx, retention); err != nil {
				s.logger.Error().Err(err).Msg("history cleanup failed")
			}
		}
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// isWriteConflict detects DuckDB's transient transaction conflict errors,
// the ones worth retrying.
func isWriteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Conflict on update") ||
		strings.Contains(msg, "conflict") ||
		strings.Contains(msg, "transaction") ||
		strings.Contains(msg, "serialization") ||
		strings.Contains(msg, "TransactionContext Error")
}
