// Package cli implements the stallscope command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/stallscope/stallscope/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "stallscope",
	Short: "Stallscope - stall watchdog and profiler for instrumented services",
	Long: `Watch instrumented services for responsiveness stalls and profile them
while the stall is happening.

Services embed the vitals SDK (pkg/vitals) and expose a small HTTP
surface. The stallscope agent polls it, and when a service stops
responding, captures a CPU profile of the stall window, reduces it to
per-contributor time slices, and reports the dominant contributor.

Typical flow:
- stallscope start            Run the agent against configured services
- stallscope status           See what the watchdog currently sees
- stallscope history          List recorded stall episodes
- stallscope report <id>      Inspect one episode in detail
- stallscope analyze <file>   Reduce a raw pprof capture offline`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("Stallscope version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
