package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stallscope/stallscope/internal/cli/helpers"
	"github.com/stallscope/stallscope/internal/config"
	"github.com/stallscope/stallscope/internal/history"
	"github.com/stallscope/stallscope/internal/logging"
	"github.com/stallscope/stallscope/internal/report"
	"github.com/stallscope/stallscope/internal/stallprof"
)

type sliceRow struct {
	Contributor string `header:"CONTRIBUTOR"`
	Time        string `header:"TIME"`
	Pct         string `header:"PCT"`
}

func sliceRows(slices []stallprof.Slice) []sliceRow {
	rows := make([]sliceRow, 0, len(slices))
	for _, s := range slices {
		rows = append(rows, sliceRow{
			Contributor: s.ID,
			Time:        (time.Duration(s.Total) * time.Microsecond).String(),
			Pct:         fmt.Sprintf("%d%%", s.Percentage),
		})
	}
	return rows
}

func newReportCmd() *cobra.Command {
	var (
		format    string
		adminAddr string
	)

	cmd := &cobra.Command{
		Use:   "report <episode-id>",
		Short: "Show the detailed report for one stall episode",
		Long: `Show the full per-contributor breakdown of one recorded stall episode.

The report lists every contributor that burned CPU during the capture
window, ranked exactly as the agent reported them, together with the
resolved owner name for the dominant contributor and the path of the
raw pprof artifact.

Viewing a report also emits a follow-up diagnostic event for the
episode, so downstream consumers can tell which stalls were actually
investigated.

Requires a running agent ('stallscope start').`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, []helpers.OutputFormat{helpers.FormatTable, helpers.FormatJSON}); err != nil {
				return err
			}

			episodeID := args[0]

			addr, err := resolveAdminAddr(adminAddr)
			if err != nil {
				return err
			}

			var ep history.Episode
			if err := newAdminClient(addr).getJSON(cmd.Context(), "/episodes/"+episodeID, &ep); err != nil {
				return err
			}

			emitFollowUp(cmd, episodeID)

			if format == string(helpers.FormatJSON) {
				formatter := &helpers.JSONFormatter{}
				return formatter.Format(ep, cmd.OutOrStdout())
			}

			cmd.Printf("Episode:   %s\n", ep.ID)
			cmd.Printf("Service:   %s\n", ep.Service)
			cmd.Printf("Captured:  %s\n", ep.CapturedAt.Local().Format("2006-01-02 15:04:05"))
			cmd.Printf("Duration:  %s\n", (time.Duration(ep.Duration) * time.Microsecond).String())
			cmd.Printf("Prompt:    %v\n", ep.Prompt)
			cmd.Printf("Top:       %s (%d%%)\n", ep.TopID, ep.TopPct)
			if ep.Resolved != "" {
				cmd.Printf("Resolved:  %s\n", ep.Resolved)
			}
			if ep.Artifact != "" {
				cmd.Printf("Artifact:  %s\n", ep.Artifact)
			}

			if len(ep.Slices) > 0 {
				cmd.Println()
				formatter := &helpers.TableFormatter{}
				return formatter.Format(sliceRows(ep.Slices), cmd.OutOrStdout())
			}
			return nil
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
	})
	cmd.Flags().StringVar(&adminAddr, "addr", "", "Agent admin address (default: from config)")

	return cmd
}

// emitFollowUp sends the follow-up diagnostic event for a viewed
// episode. Best effort: a missing webhook just logs the event.
func emitFollowUp(cmd *cobra.Command, episodeID string) {
	cfg, err := config.NewLoader().Load("")
	if err != nil {
		return
	}
	logger := logging.New(logging.Config{Level: "warn", Pretty: true})
	emitter := report.NewEmitter(cfg.Report.WebhookURL, logger)
	emitter.Emit(cmd.Context(), report.FollowUpEvent{ID: episodeID})
}
