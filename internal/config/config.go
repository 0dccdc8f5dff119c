// Package config provides YAML-based configuration loading for the beamline
// acquisition tools.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// CronParser accepts standard 5-field cron expressions (minute, hour, dom,
// month, dow) and descriptors such as @hourly.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config is the top-level beamline configuration, loaded from xpd.yaml.
type Config struct {
	BaseDir         string  `yaml:"base_dir"`
	YAMLDir         string  `yaml:"yaml_dir"`
	ConfigBase      string  `yaml:"config_base"`
	CalibConfigName string  `yaml:"calib_config_name"`
	FrameAcqTime    float64 `yaml:"frame_acq_time"`
	// DarkWindow is the maximum age of a reusable dark, in minutes.
	DarkWindow    float64 `yaml:"dk_window"`
	AutoDark      bool    `yaml:"auto_dark"`
	AutoLoadCalib bool    `yaml:"auto_load_calib"`

	BeamlineID string `yaml:"beamline_id"`
	Group      string `yaml:"group"`
	Facility   string `yaml:"facility"`

	RunDB     RunDBConfig      `yaml:"run_db"`
	Notify    NotifyConfig     `yaml:"notify"`
	Status    StatusConfig     `yaml:"status"`
	Log       LogConfig        `yaml:"log"`
	Schedules []ScheduleConfig `yaml:"schedules"`
}

// RunDBConfig selects the database runs are recorded in.
type RunDBConfig struct {
	Driver   string `yaml:"driver"` // sqlite or mysql
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// NotifyConfig holds advisory notice sinks. Notices are always logged.
type NotifyConfig struct {
	SlackWebhook   string `yaml:"slack_webhook"`
	DiscordToken   string `yaml:"discord_token"`
	DiscordChannel string `yaml:"discord_channel"`
}

// StatusConfig configures the read-only status API.
type StatusConfig struct {
	Port         int      `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// LogConfig selects the zap preset.
type LogConfig struct {
	Mode string `yaml:"mode"` // development or production
}

// ScheduleConfig replays a stored scanplan on a cron schedule.
type ScheduleConfig struct {
	Name     string `yaml:"name"`
	Cron     string `yaml:"cron"`
	ScanPlan string `yaml:"scanplan"` // short summary or uid
	Sample   string `yaml:"sample"`   // name or uid
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Keys absent from data
// keep their defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Config{AutoDark: true, AutoLoadCalib: true}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.BaseDir == "" {
		c.BaseDir = "."
	}
	if c.ConfigBase == "" {
		c.ConfigBase = filepath.Join(c.BaseDir, "xpdUser", "config_base")
	}
	if c.YAMLDir == "" {
		c.YAMLDir = filepath.Join(c.ConfigBase, "yml")
	}
	if c.CalibConfigName == "" {
		c.CalibConfigName = "pyFAI_calib.yml"
	}
	if c.FrameAcqTime == 0 {
		c.FrameAcqTime = 0.1
	}
	if c.DarkWindow == 0 {
		c.DarkWindow = 3000
	}
	if c.BeamlineID == "" {
		c.BeamlineID = "xpd"
	}
	if c.Group == "" {
		c.Group = "XPD"
	}
	if c.Facility == "" {
		c.Facility = "NSLS-II"
	}
	if c.RunDB.Driver == "" {
		c.RunDB.Driver = "sqlite"
	}
	if c.RunDB.Driver == "sqlite" && c.RunDB.Path == "" {
		c.RunDB.Path = filepath.Join(c.BaseDir, "xpdUser", "runs.db")
	}
	if c.RunDB.Driver == "mysql" {
		if c.RunDB.Host == "" {
			c.RunDB.Host = "127.0.0.1"
		}
		if c.RunDB.Port == 0 {
			c.RunDB.Port = 3306
		}
		if c.RunDB.User == "" {
			c.RunDB.User = "root"
		}
		if c.RunDB.Database == "" {
			c.RunDB.Database = c.BeamlineID
		}
	}
	if c.Status.Port == 0 {
		c.Status.Port = 8090
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "production"
	}
}

// validate checks that all fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.FrameAcqTime < 0 {
		errs = append(errs, "frame_acq_time must be positive")
	}
	if c.DarkWindow < 0 {
		errs = append(errs, "dk_window must not be negative")
	}
	switch c.RunDB.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("run_db.driver %q is not one of sqlite, mysql", c.RunDB.Driver))
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		errs = append(errs, fmt.Sprintf("status.port %d is out of range", c.Status.Port))
	}
	if (c.Notify.DiscordToken == "") != (c.Notify.DiscordChannel == "") {
		errs = append(errs, "notify.discord_token and notify.discord_channel must be set together")
	}
	for i, o := range c.Status.AllowOrigins {
		if !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			errs = append(errs, fmt.Sprintf("status.allow_origins[%d] %q must start with http:// or https://", i, o))
		}
	}
	switch c.Log.Mode {
	case "development", "production":
	default:
		errs = append(errs, fmt.Sprintf("log.mode %q is not one of development, production", c.Log.Mode))
	}
	seen := map[string]bool{}
	for i, s := range c.Schedules {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("schedules[%d].name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("schedules[%d].name %q is duplicated", i, s.Name))
		}
		seen[s.Name] = true
		if _, err := CronParser.Parse(s.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("schedules[%d].cron: %v", i, err))
		}
		if s.ScanPlan == "" {
			errs = append(errs, fmt.Sprintf("schedules[%d].scanplan is required", i))
		}
		if s.Sample == "" {
			errs = append(errs, fmt.Sprintf("schedules[%d].sample is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DarkWindowDuration returns dk_window as a duration.
func (c *Config) DarkWindowDuration() time.Duration {
	return time.Duration(c.DarkWindow * float64(time.Minute))
}
