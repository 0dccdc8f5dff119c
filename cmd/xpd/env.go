package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xpdacq/xpdacq/internal/acquire"
	"github.com/xpdacq/xpdacq/internal/beamtime"
	"github.com/xpdacq/xpdacq/internal/calib"
	"github.com/xpdacq/xpdacq/internal/config"
	"github.com/xpdacq/xpdacq/internal/dark"
	"github.com/xpdacq/xpdacq/internal/db"
	"github.com/xpdacq/xpdacq/internal/device"
	"github.com/xpdacq/xpdacq/internal/logging"
	"github.com/xpdacq/xpdacq/internal/metrics"
	"github.com/xpdacq/xpdacq/internal/notify"
	"github.com/xpdacq/xpdacq/internal/plan"
	"github.com/xpdacq/xpdacq/internal/runengine"
	"github.com/xpdacq/xpdacq/internal/runs"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

const defaultConfigPath = "xpd.yaml"

// env is what every command builds from the config file.
type env struct {
	cfg *config.Config
	log *logging.Logger
	reg *plan.Registry
}

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to xpd config file")
}

func loadEnv(configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &env{cfg: cfg, log: log, reg: plan.DefaultRegistry()}, nil
}

func (e *env) workspace() (*beamtime.Beamtime, error) {
	bt, err := beamtime.LoadWorkspace(e.cfg.YAMLDir, e.reg)
	if err != nil {
		return nil, fmt.Errorf("load workspace %s (run 'xpd beamtime start' first): %w", e.cfg.YAMLDir, err)
	}
	return bt, nil
}

func (e *env) openDB() (*gorm.DB, error) {
	gormDB, err := db.Init(e.cfg.RunDB)
	if err != nil {
		return nil, fmt.Errorf("open run database %s: %w", db.Describe(e.cfg.RunDB), err)
	}
	return gormDB, nil
}

func (e *env) notifier() notify.Notifier {
	sinks := notify.Multi{notify.LogNotifier{Log: e.log}}
	if e.cfg.Notify.SlackWebhook != "" {
		sinks = append(sinks, notify.NewSlack(e.cfg.Notify.SlackWebhook))
	}
	if e.cfg.Notify.DiscordToken != "" {
		d, err := notify.NewDiscord(e.cfg.Notify.DiscordToken, e.cfg.Notify.DiscordChannel)
		if err != nil {
			e.log.Error("discord notices disabled", "error", err)
		} else {
			sinks = append(sinks, d)
		}
	}
	return sinks
}

// devices is the simulated beamline hardware at the configured frame time.
func (e *env) devices() device.Context {
	return device.SimContext(e.cfg.FrameAcqTime)
}

func (e *env) calibLoader() calib.Loader {
	return calib.Loader{Dir: e.cfg.ConfigBase, Name: e.cfg.CalibConfigName}
}

// orchestrator wires a simulated beamline recording into gormDB. Darks taken
// by earlier invocations in this beamtime are reloaded from the database. m
// may be nil.
func (e *env) orchestrator(bt *beamtime.Beamtime, gormDB *gorm.DB, m *metrics.Metrics) (*acquire.Orchestrator, error) {
	darks := dark.NewCache()
	prior, err := runs.Darks(gormDB, bt.UID())
	if err != nil {
		return nil, err
	}
	for _, d := range prior {
		darks.Append(d)
	}

	eng := runengine.NewSimulated(gormDB, e.log)
	eng.HonorSleep = true

	o := acquire.New(acquire.Config{
		Engine:   eng,
		Devices:  e.devices(),
		Registry: e.reg,
		Darks:    darks,
		Calib:    e.calibLoader(),
		Notifier: e.notifier(),
		Log:      e.log,
		Metrics:  m,
		Options: acquire.Options{
			AutoDark:      e.cfg.AutoDark,
			AutoLoadCalib: e.cfg.AutoLoadCalib,
			DarkWindow:    e.cfg.DarkWindowDuration(),
			BeamlineID:    e.cfg.BeamlineID,
			Group:         e.cfg.Group,
			Facility:      e.cfg.Facility,
		},
	})
	o.BindBeamtime(bt)
	return o, nil
}

// parseValue decodes a command-line argument as a YAML scalar or flow
// collection, so "5" is a number and "[300, 200]" a list.
func parseValue(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return s
	}
	return v
}

// parseKeyValues turns repeated key=value flags into a map.
func parseKeyValues(pairs []string) (map[string]any, error) {
	out := map[string]any{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid key=value %q", p)
		}
		out[strings.TrimSpace(k)] = parseValue(v)
	}
	return out, nil
}
