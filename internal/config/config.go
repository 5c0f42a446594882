// Package config provides configuration loading for the stallscope agent.
//
// Values are layered: built-in defaults, then the YAML config file, then
// STALLSCOPE_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config is the root agent configuration.
type Config struct {
	Log      LogConfig       `yaml:"log"`
	Watchdog WatchdogConfig  `yaml:"watchdog"`
	Registry RegistryConfig  `yaml:"registry"`
	History  HistoryConfig   `yaml:"history"`
	Report   ReportConfig    `yaml:"report"`
	Admin    AdminConfig     `yaml:"admin"`
	Services []ServiceConfig `yaml:"services"`
}

// LogConfig controls agent logging.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `yaml:"level" env:"STALLSCOPE_LOG_LEVEL"`
	// Format is "console" or "json".
	Format string `yaml:"format" env:"STALLSCOPE_LOG_FORMAT"`
}

// WatchdogConfig controls the responsiveness poll loops.
type WatchdogConfig struct {
	// PollInterval is the delay between vitals probes per service.
	PollInterval time.Duration `yaml:"poll_interval" env:"STALLSCOPE_POLL_INTERVAL"`
	// ProbeTimeout bounds a single vitals fetch.
	ProbeTimeout time.Duration `yaml:"probe_timeout" env:"STALLSCOPE_PROBE_TIMEOUT"`
}

// RegistryConfig locates the contributor registry file.
type RegistryConfig struct {
	Path string `yaml:"path" env:"STALLSCOPE_REGISTRY"`
	// Watch enables hot-reload of the registry file.
	Watch bool `yaml:"watch" env:"STALLSCOPE_REGISTRY_WATCH"`
}

// HistoryConfig controls the local episode store.
type HistoryConfig struct {
	Path            string        `yaml:"path" env:"STALLSCOPE_HISTORY_DB"`
	Retention       time.Duration `yaml:"retention" env:"STALLSCOPE_HISTORY_RETENTION"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"STALLSCOPE_HISTORY_CLEANUP_INTERVAL"`
}

// ReportConfig controls the reporting pipeline outputs.
type ReportConfig struct {
	// ArtifactDir is where raw profile artifacts are written.
	// Defaults to the system temp directory.
	ArtifactDir string `yaml:"artifact_dir" env:"STALLSCOPE_ARTIFACT_DIR"`
	// WebhookURL receives diagnostic events as JSON POSTs.
	// Empty means events are logged instead.
	WebhookURL string `yaml:"webhook_url" env:"STALLSCOPE_WEBHOOK_URL"`
}

// AdminConfig controls the local admin/status endpoint.
type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"STALLSCOPE_ADMIN_ADDR"`
}

// ServiceConfig describes one monitored service.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	VitalsURL string `yaml:"vitals_url"`
}

// Default returns a configuration with all defaults filled in.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Watchdog: WatchdogConfig{
			PollInterval: 1 * time.Second,
			ProbeTimeout: 2 * time.Second,
		},
		Registry: RegistryConfig{
			Watch: true,
		},
		History: HistoryConfig{
			Retention:       7 * 24 * time.Hour,
			CleanupInterval: 1 * time.Hour,
		},
		Report: ReportConfig{
			ArtifactDir: os.TempDir(),
		},
		Admin: AdminConfig{
			ListenAddr: "127.0.0.1:7701",
		},
	}
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	if c.Watchdog.PollInterval <= 0 {
		return fmt.Errorf("watchdog.poll_interval must be positive, got %s", c.Watchdog.PollInterval)
	}
	if c.Watchdog.ProbeTimeout <= 0 {
		return fmt.Errorf("watchdog.probe_timeout must be positive, got %s", c.Watchdog.ProbeTimeout)
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative, got %s", c.History.Retention)
	}
	if c.Admin.ListenAddr == "" {
		return fmt.Errorf("admin.listen_addr is required")
	}

	seen := make(map[string]struct{}, len(c.Services))
	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d].name is required", i)
		}
		if svc.VitalsURL == "" {
			return fmt.Errorf("services[%d].vitals_url is required for %q", i, svc.Name)
		}
		if _, dup := seen[svc.Name]; dup {
			return fmt.Errorf("services[%d].name %q is duplicated", i, svc.Name)
		}
		seen[svc.Name] = struct{}{}
	}

	return nil
}
