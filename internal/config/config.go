package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. LOGWAIT_DISPATCHER_DEFAULT_TIMEOUT=2m.
const EnvPrefix = "LOGWAIT"

// Config represents the complete logwait configuration
type Config struct {
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	Process    ProcessConfig    `mapstructure:"process" yaml:"process"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Catalog    CatalogConfig    `mapstructure:"catalog" yaml:"catalog"`
}

// DispatcherConfig controls wait matching
type DispatcherConfig struct {
	// DefaultTimeout is used when a command is given no --timeout (default: 30s)
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	// MaxLineBytes is the longest line accepted from a source (default: 1MiB)
	MaxLineBytes int `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
}

// ProcessConfig controls how monitored processes are started and stopped
type ProcessConfig struct {
	// UsePTY runs the process under a pseudo-terminal so it line-buffers its output
	UsePTY bool `mapstructure:"use_pty" yaml:"use_pty"`
	// GracefulStopTimeout is how long to wait after SIGINT before SIGKILL (default: 500ms)
	GracefulStopTimeout time.Duration `mapstructure:"graceful_stop_timeout" yaml:"graceful_stop_timeout"`
	// TailLines is how many recent output lines are kept for diagnostics (default: 200)
	TailLines int `mapstructure:"tail_lines" yaml:"tail_lines"`
	// Dir is the working directory; empty means the current directory
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Env lists extra KEY=VALUE pairs added to the process environment.
	// From the environment it is a comma-separated list.
	Env []string `mapstructure:"env" yaml:"env"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled turns on the JSON debug log (default: false)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where logwait.log is written (default: <state dir>/logs)
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the size at which the log is rotated (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is how many rotated files are kept (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// OutputConfig controls terminal rendering
type OutputConfig struct {
	// Color is "auto" (color on a terminal), "always" or "never"
	Color string `mapstructure:"color" yaml:"color"`
	// Format is "text" or "json"
	Format string `mapstructure:"format" yaml:"format"`
	// PreviewWidth is the display width of matched-line previews (default: 120)
	PreviewWidth int `mapstructure:"preview_width" yaml:"preview_width"`
}

// CatalogConfig controls the known-events catalog
type CatalogConfig struct {
	// Path is a YAML catalog merged over the built-in events; empty uses only the built-ins
	Path string `mapstructure:"path" yaml:"path"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Dispatcher: DispatcherConfig{
			DefaultTimeout: 30 * time.Second,
			MaxLineBytes:   1024 * 1024,
		},
		Process: ProcessConfig{
			UsePTY:              false,
			GracefulStopTimeout: 500 * time.Millisecond,
			TailLines:           200,
			Dir:                 "",
			Env:                 []string{},
		},
		Logging: LoggingConfig{
			Enabled:    false,
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
		Output: OutputConfig{
			Color:        "auto",
			Format:       "text",
			PreviewWidth: 120,
		},
		Catalog: CatalogConfig{
			Path: "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Dispatcher defaults
	v.SetDefault("dispatcher.default_timeout", defaults.Dispatcher.DefaultTimeout)
	v.SetDefault("dispatcher.max_line_bytes", defaults.Dispatcher.MaxLineBytes)

	// Process defaults
	v.SetDefault("process.use_pty", defaults.Process.UsePTY)
	v.SetDefault("process.graceful_stop_timeout", defaults.Process.GracefulStopTimeout)
	v.SetDefault("process.tail_lines", defaults.Process.TailLines)
	v.SetDefault("process.dir", defaults.Process.Dir)
	v.SetDefault("process.env", defaults.Process.Env)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)

	// Output defaults
	v.SetDefault("output.color", defaults.Output.Color)
	v.SetDefault("output.format", defaults.Output.Format)
	v.SetDefault("output.preview_width", defaults.Output.PreviewWidth)

	// Catalog defaults
	v.SetDefault("catalog.path", defaults.Catalog.Path)
}

// decodeHook converts the string forms used in files and environment
// variables: "90s" to a time.Duration and "A=1,B=2" to a slice.
func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for a specific viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "logwait")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".logwait"
	}
	return filepath.Join(home, ".config", "logwait")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StateDir returns the directory for logs and other runtime state
func StateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "logwait")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".logwait"
	}
	return filepath.Join(home, ".local", "state", "logwait")
}

// ResolveLogDir returns the configured log directory, defaulting to
// <state dir>/logs.
func (c *LoggingConfig) ResolveLogDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(StateDir(), "logs")
}
