package cli

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/stallscope/stallscope/internal/cli/helpers"
	"github.com/stallscope/stallscope/internal/history"
)

type episodeRow struct {
	ID       string `header:"EPISODE"`
	Service  string `header:"SERVICE"`
	Captured string `header:"CAPTURED"`
	Duration string `header:"DURATION"`
	Top      string `header:"TOP CONTRIBUTOR"`
	Pct      string `header:"PCT"`
	Prompt   bool   `header:"PROMPT"`
}

func newHistoryCmd() *cobra.Command {
	var (
		format    string
		adminAddr string
		service   string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded stall episodes",
		Long: `List stall episodes recorded by the agent, newest first.

Each line is one completed profiling session: when the stall was
captured, how long the capture window was, and which contributor
dominated it. Use 'stallscope report <episode-id>' for the full
per-contributor breakdown of one episode.

Requires a running agent ('stallscope start').

Examples:
  # Last 20 episodes across all services
  stallscope history

  # Episodes for one service
  stallscope history --service checkout

  # Machine-readable output
  stallscope history -o json --limit 100`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := helpers.ValidateFormat(format, []helpers.OutputFormat{
				helpers.FormatTable, helpers.FormatJSON, helpers.FormatCSV,
			}); err != nil {
				return err
			}

			addr, err := resolveAdminAddr(adminAddr)
			if err != nil {
				return err
			}

			path := fmt.Sprintf("/episodes?limit=%d", limit)
			if service != "" {
				path += "&service=" + url.QueryEscape(service)
			}

			var episodes []history.Episode
			if err := newAdminClient(addr).getJSON(cmd.Context(), path, &episodes); err != nil {
				return err
			}

			if format == string(helpers.FormatJSON) {
				formatter := &helpers.JSONFormatter{}
				return formatter.Format(episodes, cmd.OutOrStdout())
			}

			if len(episodes) == 0 {
				cmd.Println("No stall episodes recorded.")
				return nil
			}

			rows := make([]episodeRow, 0, len(episodes))
			for _, ep := range episodes {
				rows = append(rows, episodeRow{
					ID:       ep.ID,
					Service:  ep.Service,
					Captured: ep.CapturedAt.Local().Format("2006-01-02 15:04:05"),
					Duration: (time.Duration(ep.Duration) * time.Microsecond).String(),
					Top:      ep.TopID,
					Pct:      fmt.Sprintf("%d%%", ep.TopPct),
					Prompt:   ep.Prompt,
				})
			}

			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			return formatter.Format(rows, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
		helpers.FormatCSV,
	})
	cmd.Flags().StringVar(&adminAddr, "addr", "", "Agent admin address (default: from config)")
	cmd.Flags().StringVar(&service, "service", "", "Only episodes for this service")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of episodes")

	return cmd
}
