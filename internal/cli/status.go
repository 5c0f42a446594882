package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stallscope/stallscope/internal/agent"
	"github.com/stallscope/stallscope/internal/cli/helpers"
	"github.com/stallscope/stallscope/internal/config"
)

type statusRow struct {
	Service    string `header:"SERVICE"`
	State      string `header:"STATE"`
	PID        int    `header:"PID"`
	Goroutines int    `header:"GOROUTINES"`
	LastBeat   string `header:"LAST BEAT"`
	Profilable bool   `header:"PROFILABLE"`
	Error      string `header:"ERROR"`
}

func newStatusCmd() *cobra.Command {
	var (
		format    string
		adminAddr string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the agent watchdog currently sees",
		Long: `Display the live state of all watched services plus agent totals.

For every configured service this shows the watchdog state (responsive,
unresponsive, down), the process vitals from the last probe, and whether
the service can be profiled right now.

Requires a running agent ('stallscope start').`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := helpers.ValidateFormat(format, []helpers.OutputFormat{helpers.FormatTable, helpers.FormatJSON}); err != nil {
				return err
			}

			addr, err := resolveAdminAddr(adminAddr)
			if err != nil {
				return err
			}

			var st agent.StatusReport
			if err := newAdminClient(addr).getJSON(cmd.Context(), "/status", &st); err != nil {
				return err
			}

			if format == string(helpers.FormatJSON) {
				formatter := &helpers.JSONFormatter{}
				return formatter.Format(st, cmd.OutOrStdout())
			}

			cmd.Printf("Agent version:    %s\n", st.Version)
			cmd.Printf("Active sessions:  %d\n", st.ActiveSessions)
			cmd.Printf("Stored episodes:  %d\n", st.EpisodeCount)
			cmd.Printf("Registry entries: %d\n", st.RegistryEntries)

			if len(st.Services) == 0 {
				cmd.Println("\nNo services configured.")
				return nil
			}

			rows := make([]statusRow, 0, len(st.Services))
			for _, svc := range st.Services {
				rows = append(rows, statusRow{
					Service:    svc.Service,
					State:      string(svc.State),
					PID:        svc.PID,
					Goroutines: svc.Goroutines,
					LastBeat:   (time.Duration(svc.LastBeatMs) * time.Millisecond).String(),
					Profilable: svc.Profilable,
					Error:      svc.Error,
				})
			}

			cmd.Println()
			formatter := &helpers.TableFormatter{}
			return formatter.Format(rows, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
	})
	cmd.Flags().StringVar(&adminAddr, "addr", "", "Agent admin address (default: from config)")

	return cmd
}

// resolveAdminAddr picks the admin endpoint address: the --addr flag
// when given, otherwise the configured listen address.
func resolveAdminAddr(flagAddr string) (string, error) {
	if flagAddr != "" {
		return flagAddr, nil
	}
	cfg, err := config.NewLoader().Load("")
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg.Admin.ListenAddr, nil
}
