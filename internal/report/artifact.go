package report

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/stallscope/stallscope/internal/safe"
)

// ArtifactStore persists raw profile payloads for later offline analysis.
// Filenames follow the fixed stallscope-<8 hex>.pprof convention that the
// analyze tooling globs for.
type ArtifactStore struct {
	dir    string
	logger zerolog.Logger
}

// NewArtifactStore writes artifacts under dir, defaulting to the system
// temporary directory.
func NewArtifactStore(dir string, logger zerolog.Logger) *ArtifactStore {
	if dir == "" {
		dir = os.TempDir()
	}
	return &ArtifactStore{
		dir:    dir,
		logger: logger.With().Str("component", "artifacts").Logger(),
	}
}

// Dir returns the directory artifacts are written to.
func (s *ArtifactStore) Dir() string {
	return s.dir
}

// Write persists one payload under a fresh random name and returns the
// full path. A partially written file is removed.
func (s *ArtifactStore) Write(payload []byte) (string, error) {
	suffix, err := randomHex(4)
	if err != nil {
		return "", fmt.Errorf("generate artifact suffix: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("stallscope-%s.pprof", suffix))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}

	if _, err := f.Write(payload); err != nil {
		safe.Close(f, s.logger, "failed to close artifact after write error")
		safe.RemoveFile(f, s.logger)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		safe.RemoveFile(f, s.logger)
		return "", fmt.Errorf("close artifact: %w", err)
	}

	s.logger.Debug().Str("path", path).Int("bytes", len(payload)).Msg("profile artifact written")
	return path, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
