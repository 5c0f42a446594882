package report

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stallscope/stallscope/internal/history"
	"github.com/stallscope/stallscope/internal/session"
	"github.com/stallscope/stallscope/internal/stallprof"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []interface{}
}

func (e *recordingEmitter) Emit(_ context.Context, event interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEmitter) all() []interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]interface{}(nil), e.events...)
}

type recordingHistory struct {
	mu       sync.Mutex
	episodes []history.Episode
	err      error
}

func (h *recordingHistory) RecordEpisode(_ context.Context, ep history.Episode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.episodes = append(h.episodes, ep)
	return nil
}

func (h *recordingHistory) all() []history.Episode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]history.Episode(nil), h.episodes...)
}

type stubTarget struct {
	key string
}

func (t stubTarget) Key() string         { return t.key }
func (t stubTarget) CanBeProfiled() bool { return true }
func (t stubTarget) StartProfilingSession() (session.ProfileSession, error) {
	return nil, errors.New("not used")
}

func testSummary(prompt bool) stallprof.Summary {
	top := stallprof.Slice{ID: "github.com/acme/checkout/internal/db", Total: 5_940_000, Percentage: 99}
	return stallprof.Summary{
		Slices: []stallprof.Slice{
			top,
			{ID: "runtime", Total: 60_000, Percentage: 1},
		},
		Top:             top,
		Duration:        6_000_000,
		PromptWarranted: prompt,
	}
}

func newTestPipeline(t *testing.T, registryYAML string, store HistoryStore, alertBuf *bytes.Buffer) (*Pipeline, *recordingEmitter, string) {
	t.Helper()

	dir := t.TempDir()
	regPath := filepath.Join(dir, "registry.yaml")
	if registryYAML != "" {
		require.NoError(t, os.WriteFile(regPath, []byte(registryYAML), 0o600))
	}
	resolver, err := NewResolver(regPath, zerolog.Nop())
	require.NoError(t, err)

	artifactDir := filepath.Join(dir, "artifacts")
	require.NoError(t, os.Mkdir(artifactDir, 0o755))

	emitter := &recordingEmitter{}
	p := NewPipeline(
		resolver,
		emitter,
		NewArtifactStore(artifactDir, zerolog.Nop()),
		store,
		NewAlerter(zerolog.New(alertBuf)),
		zerolog.Nop(),
	)
	return p, emitter, artifactDir
}

func TestPipeline_ReportStall(t *testing.T) {
	var alertBuf bytes.Buffer
	store := &recordingHistory{}
	p, emitter, artifactDir := newTestPipeline(t, sampleRegistry, store, &alertBuf)

	profile := stallprof.Profile{Payload: []byte("raw-pprof")}
	p.ReportStall("ep-1", stubTarget{key: "checkout"}, profile, testSummary(true))

	events := emitter.all()
	require.Len(t, events, 1)
	ev, ok := events[0].(Event)
	require.True(t, ok)
	assert.Equal(t, "ep-1", ev.ID)
	assert.Equal(t, int64(6_000_000), ev.Duration)
	assert.True(t, ev.Prompt)
	assert.Len(t, ev.Data, 2)

	episodes := store.all()
	require.Len(t, episodes, 1)
	ep := episodes[0]
	assert.Equal(t, "ep-1", ep.ID)
	assert.Equal(t, "checkout", ep.Service)
	assert.Equal(t, "github.com/acme/checkout/internal/db", ep.TopID)
	assert.Equal(t, 99, ep.TopPct)
	assert.Equal(t, "checkout database layer", ep.Resolved)
	assert.True(t, ep.Prompt)
	assert.Len(t, ep.Slices, 2)

	// The artifact landed where the episode says it did.
	require.NotEmpty(t, ep.Artifact)
	assert.Equal(t, artifactDir, filepath.Dir(ep.Artifact))
	got, err := os.ReadFile(ep.Artifact)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-pprof"), got)

	// Prompt-warranted episodes raise the operator alert.
	assert.Contains(t, alertBuf.String(), "checkout database layer")
	assert.Contains(t, alertBuf.String(), "stallscope report ep-1")
}

func TestPipeline_ResolutionMissDropsReport(t *testing.T) {
	var alertBuf bytes.Buffer
	store := &recordingHistory{}
	// Empty registry: every lookup misses.
	p, emitter, artifactDir := newTestPipeline(t, "", store, &alertBuf)

	p.ReportStall("ep-1", stubTarget{key: "checkout"}, stallprof.Profile{Payload: []byte("raw")}, testSummary(true))

	assert.Empty(t, emitter.all())
	assert.Empty(t, store.all())
	assert.Empty(t, alertBuf.String())

	files, err := os.ReadDir(artifactDir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestPipeline_NoPromptNoAlert(t *testing.T) {
	var alertBuf bytes.Buffer
	store := &recordingHistory{}
	p, emitter, _ := newTestPipeline(t, sampleRegistry, store, &alertBuf)

	p.ReportStall("ep-2", stubTarget{key: "checkout"}, stallprof.Profile{Payload: []byte("raw")}, testSummary(false))

	require.Len(t, emitter.all(), 1)
	require.Len(t, store.all(), 1)
	assert.False(t, store.all()[0].Prompt)
	assert.Empty(t, alertBuf.String())
}

func TestPipeline_HistoryFailureDegrades(t *testing.T) {
	var alertBuf bytes.Buffer
	store := &recordingHistory{err: errors.New("database locked")}
	p, emitter, _ := newTestPipeline(t, sampleRegistry, store, &alertBuf)

	p.ReportStall("ep-3", stubTarget{key: "checkout"}, stallprof.Profile{Payload: []byte("raw")}, testSummary(true))

	// The event and the alert still go out.
	assert.Len(t, emitter.all(), 1)
	assert.Contains(t, alertBuf.String(), "stallscope report ep-3")
}
