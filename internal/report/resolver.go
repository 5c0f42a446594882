// Package report implements the reporting path for completed profiling
// sessions: contributor resolution, diagnostic events, artifact
// persistence, episode history, and the operator alert.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/stallscope/stallscope/internal/safe"
)

// RegistryEntry maps a contributor ID prefix to display metadata.
type RegistryEntry struct {
	Match string `yaml:"match"`
	Name  string `yaml:"name"`
	Owner string `yaml:"owner,omitempty"`
}

type registryFile struct {
	Contributors []RegistryEntry `yaml:"contributors"`
}

// ContributorInfo is the resolved display metadata for one contributor ID.
type ContributorInfo struct {
	ID    string
	Name  string
	Owner string
}

// Resolver answers contributor lookups from a YAML registry file. The
// longest matching prefix wins. A missing registry is legal; every lookup
// then misses and reports are dropped.
type Resolver struct {
	path   string
	logger zerolog.Logger
	wg     sync.WaitGroup

	mu      sync.RWMutex
	entries []RegistryEntry
}

// NewResolver loads the registry at path. A nonexistent file yields an
// empty resolver; a malformed one is an error.
func NewResolver(path string, logger zerolog.Logger) (*Resolver, error) {
	r := &Resolver{
		path:   path,
		logger: logger.With().Str("component", "registry").Logger(),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resolver) reload() error {
	if r.path == "" {
		r.logger.Info().Msg("no contributor registry configured, stall reports will be dropped")
		r.mu.Lock()
		r.entries = nil
		r.mu.Unlock()
		return nil
	}

	data, err := safe.ReadFile(r.path, &safe.ReadFileOptions{AllowSymlinks: true})
	if os.IsNotExist(err) {
		r.logger.Info().Str("path", r.path).Msg("no contributor registry, stall reports will be dropped")
		r.mu.Lock()
		r.entries = nil
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse registry: %w", err)
	}
	for i, e := range file.Contributors {
		if e.Match == "" {
			return fmt.Errorf("registry: contributors[%d]: match is required", i)
		}
		if e.Name == "" {
			return fmt.Errorf("registry: contributors[%d]: name is required", i)
		}
	}

	r.mu.Lock()
	r.entries = file.Contributors
	r.mu.Unlock()

	r.logger.Info().
		Str("path", r.path).
		Int("contributors", len(file.Contributors)).
		Msg("contributor registry loaded")
	return nil
}

// Resolve looks up display metadata for a contributor ID. The entry with
// the longest prefix match wins.
func (r *Resolver) Resolve(id string) (ContributorInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := -1
	bestLen := -1
	for i, e := range r.entries {
		if strings.HasPrefix(id, e.Match) && len(e.Match) > bestLen {
			best, bestLen = i, len(e.Match)
		}
	}
	if best < 0 {
		return ContributorInfo{}, false
	}
	e := r.entries[best]
	return ContributorInfo{ID: id, Name: e.Name, Owner: e.Owner}, true
}

// Size returns the number of registry entries currently loaded.
func (r *Resolver) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Watch reloads the registry whenever the file changes, until ctx is
// canceled. An edit that fails to load keeps the previous entries.
func (r *Resolver) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create registry watcher: %w", err)
	}

	// Watch the directory rather than the file itself: editors and
	// configmap mounts replace the file by rename, which would drop a
	// file-level watch.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch registry directory: %w", err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { _ = watcher.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(r.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := r.reload(); err != nil {
					r.logger.Warn().Err(err).Msg("registry reload failed, keeping previous entries")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn().Err(err).Msg("registry watcher error")
			}
		}
	}()
	return nil
}

// Close waits for the watch goroutine to exit. Cancel the Watch
// context first; Close on a resolver that never watched is a no-op.
func (r *Resolver) Close() {
	r.wg.Wait()
}
