package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/logwait/internal/config"
	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/Iron-Ham/logwait/internal/knownevents"
	"github.com/Iron-Ham/logwait/internal/logging"
)

// newRootCmd builds the command tree. Each call returns independent
// commands and flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "logwait",
		Short: "Wait for log events from a process or file",
		Long: `logwait watches the output of a process or a growing log file and waits
for lines matching a combination of patterns.

Patterns are plain substrings. Several patterns can be required together
(--all) or as alternatives (the default), and named events from the
known-events catalog can be mixed in with --event.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	root.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/logwait/config.yaml)")
	root.PersistentFlags().Bool("debug", false, "write a debug log (logging.enabled with level debug)")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	root.AddCommand(
		newRunCmd(),
		newTailCmd(),
		newEventsCmd(),
		newConfigCmd(),
		newLogsCmd(),
	)
	return root
}

// Execute runs the root command. A wait that was not observed has already
// been reported, so only other errors are printed.
func Execute() error {
	root := newRootCmd()
	err := root.Execute()
	if err != nil && !errors.Is(err, errNotObserved) {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(config.EnvPrefix)
	// Replace dots with underscores for nested keys in env vars
	// e.g., LOGWAIT_DISPATCHER_DEFAULT_TIMEOUT for dispatcher.default_timeout
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadConfig loads and validates the effective configuration, applying
// global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Logging.Enabled = true
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger returns the debug logger configured by cfg, or a discarding
// logger when logging is disabled.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLoggerWithRotation(
		cfg.Logging.ResolveLogDir(),
		logging.ParseLevel(cfg.Logging.Level),
		logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
	)
}

// loadCatalog returns the built-in catalog merged with the file at path,
// falling back to catalog.path from the configuration.
func loadCatalog(cfg *config.Config, path string) (*knownevents.Catalog, error) {
	if path == "" {
		path = cfg.Catalog.Path
	}
	catalog := knownevents.Default()
	if path == "" {
		return catalog, nil
	}
	custom, err := knownevents.Load(path)
	if err != nil {
		return nil, err
	}
	return catalog.Merge(custom), nil
}

// errNotObserved is returned by run and tail when the wait did not end
// Observed, so the process exits non-zero.
var errNotObserved = errors.New("event not observed")
