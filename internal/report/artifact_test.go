package report

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var artifactNamePattern = regexp.MustCompile(`^stallscope-[0-9a-f]{8}\.pprof$`)

func TestArtifactStore_Write(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir, zerolog.Nop())

	payload := []byte("raw-profile-bytes")
	path, err := store.Write(payload)
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.Regexp(t, artifactNamePattern, filepath.Base(path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestArtifactStore_UniqueNames(t *testing.T) {
	store := NewArtifactStore(t.TempDir(), zerolog.Nop())

	first, err := store.Write([]byte("a"))
	require.NoError(t, err)
	second, err := store.Write([]byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestArtifactStore_DefaultsToTempDir(t *testing.T) {
	store := NewArtifactStore("", zerolog.Nop())
	assert.Equal(t, os.TempDir(), store.Dir())
}

func TestArtifactStore_MissingDir(t *testing.T) {
	store := NewArtifactStore(filepath.Join(t.TempDir(), "does-not-exist"), zerolog.Nop())

	_, err := store.Write([]byte("payload"))
	require.Error(t, err)
}
