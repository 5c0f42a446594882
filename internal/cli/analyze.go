package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stallscope/stallscope/internal/capture"
	"github.com/stallscope/stallscope/internal/cli/helpers"
	"github.com/stallscope/stallscope/internal/safe"
	"github.com/stallscope/stallscope/internal/stallprof"
)

// Profile artifacts are small, but an operator may point this at an
// arbitrary capture.
const maxProfileSize = 64 << 20

func newAnalyzeCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "analyze <profile.pprof>",
		Short: "Reduce a raw pprof capture to contributor slices",
		Long: `Reduce a raw CPU profile to per-contributor time slices, offline.

This runs the same reduction the agent applies to live captures: each
sample is attributed to the package of its innermost frame, adjacent
samples of the same contributor are merged, and the result is ranked
against the capture window. Useful for profile artifacts recorded by
the agent (see the Artifact path in 'stallscope report') or any other
CPU profile in pprof format.

No agent is required.

Examples:
  # Re-analyze a stored artifact
  stallscope analyze /tmp/stallscope-ab12cd34.pprof

  # Machine-readable output
  stallscope analyze -o json capture.pprof`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, []helpers.OutputFormat{helpers.FormatTable, helpers.FormatJSON}); err != nil {
				return err
			}

			data, err := safe.ReadFile(args[0], &safe.ReadFileOptions{
				MaxSize:       maxProfileSize,
				AllowSymlinks: true,
			})
			if err != nil {
				return fmt.Errorf("failed to read profile: %w", err)
			}

			prof, err := capture.FromPprof(data)
			if err != nil {
				return fmt.Errorf("failed to parse profile: %w", err)
			}

			summary, ok := stallprof.Aggregate(prof)
			if !ok {
				return fmt.Errorf("profile has no usable samples")
			}

			if format == string(helpers.FormatJSON) {
				formatter := &helpers.JSONFormatter{}
				return formatter.Format(summary, cmd.OutOrStdout())
			}

			cmd.Printf("Duration:  %s\n", (time.Duration(summary.Duration) * time.Microsecond).String())
			cmd.Printf("Top:       %s (%d%%)\n", summary.Top.ID, summary.Top.Percentage)
			cmd.Printf("Prompt:    %v\n", summary.PromptWarranted)
			cmd.Println()

			formatter := &helpers.TableFormatter{}
			return formatter.Format(sliceRows(summary.Slices), cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
	})

	return cmd
}
