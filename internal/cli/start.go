package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stallscope/stallscope/internal/agent"
	"github.com/stallscope/stallscope/internal/config"
	"github.com/stallscope/stallscope/internal/logging"
)

func newStartCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the stallscope agent",
		Long: `Start the stallscope agent as a long-running process.

The agent will:
- Poll the vitals endpoint of every configured service
- Start a CPU profiling session when a service stops responding
- Reduce finished captures to per-contributor time slices
- Emit diagnostic events, store episodes, and alert on dominant stalls
- Serve a local admin endpoint for the status/history/report commands
- Run until stopped by signal

Configuration sources (in order of precedence):
1. Environment variables (STALLSCOPE_*)
2. Config file (--config flag or ~/.stallscope/config.yaml)
3. Defaults

Environment Variables:
  STALLSCOPE_CONFIG        - Base directory for config, registry, history
  STALLSCOPE_POLL_INTERVAL - Watchdog poll interval (e.g. 500ms, 2s)
  STALLSCOPE_REGISTRY      - Contributor registry file path
  STALLSCOPE_WEBHOOK_URL   - Webhook receiving diagnostic events
  STALLSCOPE_ADMIN_ADDR    - Admin endpoint listen address
  STALLSCOPE_LOG_LEVEL     - Logging level (debug, info, warn, error)
  STALLSCOPE_LOG_FORMAT    - Logging format (console, json)

Configuration File Format:
  log:
    level: info
    format: console
  watchdog:
    poll_interval: 1s
    probe_timeout: 2s
  registry:
    path: /etc/stallscope/registry.yaml
    watch: true
  report:
    webhook_url: https://hooks.example.com/stalls
  services:
    - name: checkout
      vitals_url: http://127.0.0.1:8080

Examples:
  # With the default config file
  stallscope start

  # With an explicit config file
  stallscope start --config /etc/stallscope/config.yaml

  # Development mode (verbose logging)
  STALLSCOPE_LOG_LEVEL=debug stallscope start --config ./dev.yaml`,
		RunE: func(_ *cobra.Command, _ []string) error {
			loader := config.NewLoader()
			cfg, err := loader.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logger := logging.New(logging.Config{
				Level:  cfg.Log.Level,
				Pretty: cfg.Log.Format != "json",
			})

			// The default history and registry paths live under the
			// stallscope directory, which may not exist on first run.
			if err := os.MkdirAll(loader.BaseDir(), 0o750); err != nil {
				return fmt.Errorf("failed to create %s: %w", loader.BaseDir(), err)
			}

			a, err := agent.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to assemble agent: %w", err)
			}
			if err := a.Start(); err != nil {
				return fmt.Errorf("failed to start agent: %w", err)
			}

			logger.Info().
				Int("services", len(cfg.Services)).
				Msg("Agent started successfully - waiting for shutdown signal")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			sig := <-sigChan

			logger.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal - stopping agent")

			a.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to config file (default: ~/.stallscope/config.yaml)")

	return cmd
}
