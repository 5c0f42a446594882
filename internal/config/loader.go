package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	defaultDir = ".stallscope"
	configFile = "config.yaml"
)

// Loader resolves and loads the agent configuration file.
type Loader struct {
	baseDir string
}

// NewLoader creates a config loader. The base directory is resolved in
// this order:
//  1. STALLSCOPE_CONFIG environment variable.
//  2. ~/.stallscope under the user home directory.
//  3. A stallscope directory under the system temp dir (containerized
//     environments without a home directory).
//
// The loader never fails; when no config file exists, Load returns
// defaults with environment overrides applied.
func NewLoader() *Loader {
	if baseDir := os.Getenv("STALLSCOPE_CONFIG"); baseDir != "" {
		return &Loader{baseDir: baseDir}
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		return &Loader{baseDir: filepath.Join(homeDir, defaultDir)}
	}

	return &Loader{baseDir: filepath.Join(os.TempDir(), "stallscope")}
}

// BaseDir returns the resolved stallscope directory.
func (l *Loader) BaseDir() string {
	return l.baseDir
}

// ConfigPath returns the path of the agent config file.
func (l *Loader) ConfigPath() string {
	return filepath.Join(l.baseDir, configFile)
}

// DefaultHistoryPath returns where the episode database lives when the
// config file does not set one.
func (l *Loader) DefaultHistoryPath() string {
	return filepath.Join(l.baseDir, "history.duckdb")
}

// DefaultRegistryPath returns where the contributor registry lives when
// the config file does not set one.
func (l *Loader) DefaultRegistryPath() string {
	return filepath.Join(l.baseDir, "registry.yaml")
}

// Load reads the config file at path (ConfigPath when path is empty),
// layers environment overrides over it, and fills unset locations with
// loader defaults. A missing file is not an error.
func (l *Loader) Load(path string) (*Config, error) {
	if path == "" {
		path = l.ConfigPath()
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Config-less mode: defaults plus env overrides.
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if cfg.History.Path == "" {
		cfg.History.Path = l.DefaultHistoryPath()
	}
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = l.DefaultRegistryPath()
	}

	return cfg, nil
}
