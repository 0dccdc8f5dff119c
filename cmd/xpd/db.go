package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xpdacq/xpdacq/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Run database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the run database",
		Long:  "Creates the run database if needed (MySQL) and migrates all tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	e, err := loadEnv(configPath)
	if err != nil {
		return err
	}
	defer e.log.Sync()
	fmt.Fprintf(out, "Loaded config for beamline %q from %s\n", e.cfg.BeamlineID, configPath)

	gormDB, err := e.openDB()
	if err != nil {
		return err
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	fmt.Fprintf(out, "Migrated %d tables in %s\n", len(db.AllModels()), db.Describe(e.cfg.RunDB))
	fmt.Fprintln(out, "\nRun database initialized successfully.")
	return nil
}
