package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/logwait/internal/config"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "View or modify logwait configuration",
		Long: `View or modify logwait configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
		RunE: runConfigShow,
	}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current configuration",
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a configuration value",
			Long: `Set a configuration value in the config file.

Keys use dot notation, e.g.:
  logwait config set dispatcher.default_timeout 1m
  logwait config set process.use_pty true
  logwait config set output.color never

Run 'logwait config show' to list every key.`,
			Args: cobra.ExactArgs(2),
			RunE: runConfigSet,
		},
		&cobra.Command{
			Use:   "init",
			Short: "Create a default config file",
			Long:  `Create a default config file at ~/.config/logwait/config.yaml (or --config) with all available options.`,
			RunE:  runConfigInit,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file path",
			RunE:  runConfigPath,
		},
	)
	return configCmd
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if used := viper.ConfigFileUsed(); used != "" && fileExists(used) {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// targetConfigFile is the file config set and config init write to.
func targetConfigFile() string {
	if path := viper.GetString("config"); path != "" {
		return path
	}
	return config.ConfigFile()
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := strings.ToLower(args[0]), args[1]
	path := targetConfigFile()

	v := viper.New()
	config.SetDefaultsOn(v)
	current := v.Get(key)
	if _, section := current.(map[string]any); current == nil || section {
		return fmt.Errorf("unknown configuration key: %s\nRun 'logwait config show' to see valid keys", key)
	}
	if fileExists(path) {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	value, err := parseConfigValue(key, raw, current)
	if err != nil {
		return err
	}
	v.Set(key, value)

	// Validate the whole configuration before writing anything
	if _, err := config.LoadFrom(v); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, raw)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", path)
	return nil
}

// parseConfigValue converts raw to the type of the key's default value.
func parseConfigValue(key, raw string, current any) (any, error) {
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return n, nil
	case time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a duration such as 30s", key)
		}
		return d.String(), nil
	case []string:
		if raw == "" {
			return []string{}, nil
		}
		return strings.Split(raw, ","), nil
	default:
		return raw, nil
	}
}

const configHeader = `# logwait configuration
#
# Every key can also be set from the environment, e.g.
#   LOGWAIT_DISPATCHER_DEFAULT_TIMEOUT=1m
#
# dispatcher: default --timeout and the longest accepted line
# process:    how 'logwait run' starts and stops commands
# logging:    the JSON debug log (see 'logwait logs')
# output:     color (auto, always, never) and format (text, json)
# catalog:    a YAML known-events file merged over the built-ins

`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := targetConfigFile()

	// Check if config file already exists
	if fileExists(path) {
		return fmt.Errorf("config file already exists at %s\nUse 'logwait config set' to modify values", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("failed to render default configuration: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", path)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if used := viper.ConfigFileUsed(); used != "" && fileExists(used) {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_DISPATCHER_DEFAULT_TIMEOUT)\n", config.EnvPrefix, config.EnvPrefix)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
