package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xpd",
		Short: "xpd - beamline acquisition control",
		Long: `xpd manages beamtime metadata (experiments, samples, scanplans) and runs
acquisitions with automatic dark frames and calibration metadata.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newBeamtimeCmd())
	cmd.AddCommand(newExperimentCmd())
	cmd.AddCommand(newSampleCmd())
	cmd.AddCommand(newScanPlanCmd())
	cmd.AddCommand(newPlansCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newCalibCmd())
	cmd.AddCommand(newScheduleCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "xpd %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
