package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/xpdacq/xpdacq/internal/dashboard"
	"github.com/xpdacq/xpdacq/internal/metrics"
	"github.com/xpdacq/xpdacq/internal/schedule"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run configured schedules and the status API",
		Long: `Loads the workspace, starts every schedule from the config file and serves
the read-only status API until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()
	e, err := loadEnv(configPath)
	if err != nil {
		return err
	}
	defer e.log.Sync()

	bt, err := e.workspace()
	if err != nil {
		return err
	}
	gormDB, err := e.openDB()
	if err != nil {
		return err
	}
	m := metrics.New()
	o, err := e.orchestrator(bt, gormDB, m)
	if err != nil {
		return err
	}

	sched := schedule.New(o, gormDB, e.notifier(), e.log)
	for _, sc := range e.cfg.Schedules {
		if err := sched.Add(sc); err != nil {
			return err
		}
	}
	if port <= 0 {
		port = e.cfg.Status.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	fmt.Fprintf(out, "Beamtime %s: %d schedule(s) active\n", bt.UID(), len(e.cfg.Schedules))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return dashboard.Start(gctx, dashboard.StartOpts{
			DB:           gormDB,
			Session:      o,
			Port:         port,
			AllowOrigins: e.cfg.Status.AllowOrigins,
			Metrics:      m.Handler(),
			Out:          out,
		})
	})
	return g.Wait()
}

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect scheduled acquisitions",
	}
	cmd.AddCommand(newScheduleListCmd())
	return cmd
}

func newScheduleListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured schedules and their next fire time",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(configPath)
			if err != nil {
				return err
			}
			defer e.log.Sync()
			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCRON\tSCANPLAN\tSAMPLE\tNEXT")
			for _, sc := range e.cfg.Schedules {
				next, err := schedule.NextFire(sc.Cron, now)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", sc.Name, sc.Cron, sc.ScanPlan, sc.Sample, next.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
