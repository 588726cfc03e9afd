package config

import (
	"fmt"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Collector CollectorConfig `mapstructure:"collector" yaml:"collector"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Planner   PlannerConfig   `mapstructure:"planner" yaml:"planner"`
	Archive   ArchiveConfig   `mapstructure:"archive" yaml:"archive"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json".
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File output; rotation handled by lumberjack. Empty disables file logging.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // Megabytes.
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // Days.
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// CollectorConfig controls the trace collector and its durable logs.
type CollectorConfig struct {
	// DataDir is where the append-only logs and the screenshot store live.
	// A leading "~" is expanded to the user's home directory.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// SettleDelay is the unconditional pause between an action completing and
	// the after-snapshot, giving asynchronous page updates time to land.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`

	// CaptureScreenshots enables before/after screenshots for every action.
	CaptureScreenshots bool `mapstructure:"capture_screenshots" yaml:"capture_screenshots"`
}

// BrowserConfig controls the chromedp-backed page capability.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ExtraArgs         []string      `mapstructure:"extra_args" yaml:"extra_args"`
}

// PlannerConfig controls the Gemini-backed action planner used by the demo
// collection loop. The collector core never reads this.
type PlannerConfig struct {
	Model            string `mapstructure:"model" yaml:"model"`
	APIKey           string `mapstructure:"api_key" yaml:"api_key"`
	MaxActions       int    `mapstructure:"max_actions" yaml:"max_actions"`
	ActionsPerMinute int    `mapstructure:"actions_per_minute" yaml:"actions_per_minute"`
}

// ArchiveConfig controls the optional PostgreSQL session archive. The
// append-only logs remain the source of truth; the archive is a queryable
// mirror and is disabled unless a DSN is configured.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// SetDefaults registers the default value for every configuration key on the
// provided viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "tracesmith")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	v.SetDefault("collector.data_dir", "~/.tracesmith")
	v.SetDefault("collector.settle_delay", 500*time.Millisecond)
	v.SetDefault("collector.capture_screenshots", false)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.navigation_timeout", 45*time.Second)
	v.SetDefault("browser.extra_args", []string{})

	v.SetDefault("planner.model", "gemini-2.0-flash")
	v.SetDefault("planner.api_key", "")
	v.SetDefault("planner.max_actions", 15)
	v.SetDefault("planner.actions_per_minute", 20)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.dsn", "")
}

// NewDefaultConfig returns a Config populated with the default values only.
// Primarily useful in tests.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := FromViper(v)
	if err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(fmt.Sprintf("config: defaults do not unmarshal: %v", err))
	}
	return cfg
}

// FromViper unmarshals the viper state into a Config and normalizes paths.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	dir, err := homedir.Expand(cfg.Collector.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand data dir %q: %w", cfg.Collector.DataDir, err)
	}
	cfg.Collector.DataDir = dir

	if cfg.Collector.SettleDelay < 0 {
		return nil, fmt.Errorf("collector.settle_delay must not be negative, got %s", cfg.Collector.SettleDelay)
	}
	return &cfg, nil
}
