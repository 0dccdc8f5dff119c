package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xpdacq/xpdacq/internal/runs"
	"gopkg.in/yaml.v3"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		metadata   []string
	)

	cmd := &cobra.Command{
		Use:   "run <sample> <scanplan>",
		Short: "Run a scanplan on a sample",
		Long: `Runs the scanplan (summary or uid) on the sample (name or uid). A dark frame
is collected first when auto_dark is on and no compatible dark is cached.
The run uids are printed, dark first.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, configPath, args[0], args[1], metadata)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringArrayVar(&metadata, "md", nil, "extra start metadata as key=value")
	return cmd
}

func runRun(cmd *cobra.Command, configPath, sampleKey, planKey string, metadata []string) error {
	out := cmd.OutOrStdout()
	e, err := loadEnv(configPath)
	if err != nil {
		return err
	}
	defer e.log.Sync()

	extra, err := parseKeyValues(metadata)
	if err != nil {
		return err
	}
	bt, err := e.workspace()
	if err != nil {
		return err
	}
	sample, ok := bt.FindSample(sampleKey)
	if !ok {
		return fmt.Errorf("sample %q not found", sampleKey)
	}
	sp, ok := bt.FindScanPlan(planKey)
	if !ok {
		return fmt.Errorf("scanplan %q not found", planKey)
	}
	gormDB, err := e.openDB()
	if err != nil {
		return err
	}
	o, err := e.orchestrator(bt, gormDB, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	uids, err := o.Run(ctx, sample, sp, extra)
	for _, uid := range uids {
		fmt.Fprintln(out, uid)
	}
	if err != nil {
		return fmt.Errorf("run %s on %s: %w", sp.ShortSummary(), sample.Name(), err)
	}
	return nil
}

func newRunsCmd() *cobra.Command {
	var (
		configPath string
		planName   string
		dark       bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(configPath)
			if err != nil {
				return err
			}
			defer e.log.Sync()
			gormDB, err := e.openDB()
			if err != nil {
				return err
			}
			f := runs.Filters{PlanName: planName, Limit: limit}
			if cmd.Flags().Changed("dark") {
				f.Dark = &dark
			}
			list, err := runs.List(gormDB, f)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "UID\tPLAN\tDARK\tSTATUS\tEVENTS\tSTARTED")
			for _, r := range list {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%d\t%s\n",
					r.UID, r.PlanName, r.Dark, r.ExitStatus, r.Events, r.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&planName, "plan", "", "only runs of this plan")
	cmd.Flags().BoolVar(&dark, "dark", false, "only dark runs (--dark=false for light runs)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows")
	return cmd
}

func newCalibCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calib",
		Short: "Inspect the calibration attached to runs",
	}
	cmd.AddCommand(newCalibShowCmd())
	return cmd
}

func newCalibShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the calibration the next run will carry",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(configPath)
			if err != nil {
				return err
			}
			defer e.log.Sync()
			out := cmd.OutOrStdout()
			loader := e.calibLoader()
			cal, found, err := loader.Latest()
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(out, "No calibration at %s\n", loader.Path())
				return nil
			}
			fmt.Fprintf(out, "Calibration %s from %s\n", cal.CollectionUID(), loader.Path())
			if !e.cfg.AutoLoadCalib {
				fmt.Fprintln(out, "auto_load_calib is off; runs will not carry it.")
			}
			keys := make([]string, 0, len(cal))
			for k := range cal {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			md := cal.Metadata()
			for _, k := range keys {
				v, ok := md[k]
				if !ok {
					continue
				}
				data, err := yaml.Marshal(map[string]any{k: v})
				if err != nil {
					return err
				}
				fmt.Fprint(out, string(data))
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
