package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "dispatcher.default_timeout")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidColorModes returns the list of valid output.color values
func ValidColorModes() []string {
	return []string{"auto", "always", "never"}
}

// ValidOutputFormats returns the list of valid output.format values
func ValidOutputFormats() []string {
	return []string{"text", "json"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateDispatcher()...)
	errors = append(errors, c.validateProcess()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateOutput()...)

	return errors
}

// validateDispatcher validates the DispatcherConfig
func (c *Config) validateDispatcher() []ValidationError {
	var errors []ValidationError

	if c.Dispatcher.DefaultTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "dispatcher.default_timeout",
			Value:   c.Dispatcher.DefaultTimeout,
			Message: "must be non-negative",
		})
	}

	// A line shorter than this is almost certainly a mistake
	const minLineBytes = 1024
	if c.Dispatcher.MaxLineBytes < minLineBytes {
		errors = append(errors, ValidationError{
			Field:   "dispatcher.max_line_bytes",
			Value:   c.Dispatcher.MaxLineBytes,
			Message: fmt.Sprintf("must be at least %d", minLineBytes),
		})
	}

	return errors
}

// validateProcess validates the ProcessConfig
func (c *Config) validateProcess() []ValidationError {
	var errors []ValidationError

	if c.Process.GracefulStopTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "process.graceful_stop_timeout",
			Value:   c.Process.GracefulStopTimeout,
			Message: "must be non-negative",
		})
	}

	const maxGracefulStop = time.Minute
	if c.Process.GracefulStopTimeout > maxGracefulStop {
		errors = append(errors, ValidationError{
			Field:   "process.graceful_stop_timeout",
			Value:   c.Process.GracefulStopTimeout,
			Message: fmt.Sprintf("exceeds maximum of %s", maxGracefulStop),
		})
	}

	if c.Process.TailLines < 0 {
		errors = append(errors, ValidationError{
			Field:   "process.tail_lines",
			Value:   c.Process.TailLines,
			Message: "must be non-negative",
		})
	}

	for i, kv := range c.Process.Env {
		if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("process.env[%d]", i),
				Value:   kv,
				Message: "must be KEY=VALUE",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateOutput validates the OutputConfig
func (c *Config) validateOutput() []ValidationError {
	var errors []ValidationError

	if c.Output.Color != "" && !slices.Contains(ValidColorModes(), c.Output.Color) {
		errors = append(errors, ValidationError{
			Field:   "output.color",
			Value:   c.Output.Color,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidColorModes(), ", ")),
		})
	}

	if c.Output.Format != "" && !slices.Contains(ValidOutputFormats(), c.Output.Format) {
		errors = append(errors, ValidationError{
			Field:   "output.format",
			Value:   c.Output.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidOutputFormats(), ", ")),
		})
	}

	if c.Output.PreviewWidth < 0 {
		errors = append(errors, ValidationError{
			Field:   "output.preview_width",
			Value:   c.Output.PreviewWidth,
			Message: "must be non-negative",
		})
	}

	return errors
}
