package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/logwait/internal/linesource"
	"github.com/Iron-Ham/logwait/internal/logging"
)

type logsOptions struct {
	tail   int
	follow bool
	level  string
	since  string
	grep   string
	file   string
}

func newLogsCmd() *cobra.Command {
	opts := &logsOptions{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the debug log",
		Long: `View and filter logwait's JSON debug log.

The debug log is written when logging.enabled is true or --debug is given,
to logging.dir (default ~/.local/state/logwait/logs).

Examples:
  # Show the last 50 entries
  logwait logs

  # Show everything
  logwait logs -n 0

  # Follow the log while another logwait runs
  logwait logs -f

  # Only warnings and errors from the last hour
  logwait logs --level warn --since 1h

  # Entries about one wait request
  logwait logs --grep "request_id=7\b"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.tail, "tail", "n", 50, "Number of lines to show (0 for all)")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().StringVar(&opts.level, "level", "", "Filter by minimum level (debug/info/warn/error)")
	cmd.Flags().StringVar(&opts.since, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	cmd.Flags().StringVar(&opts.grep, "grep", "", "Filter logs matching pattern (regex)")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file to read (default <logging.dir>/logwait.log)")
	return cmd
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Msg       string         `json:"msg"`
	Component string         `json:"component,omitempty"`
	Process   string         `json:"process,omitempty"`
	RequestID uint64         `json:"request_id,omitempty"`
	Extra     map[string]any `json:"-"` // Captures additional fields
}

// UnmarshalJSON implements custom unmarshaling to capture extra fields
func (e *logEntry) UnmarshalJSON(data []byte) error {
	// First, unmarshal known fields using a type alias to avoid recursion
	type Alias logEntry
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	// Then unmarshal all fields to capture extras
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	for _, known := range []string{"time", "level", "msg", "component", "process", "request_id"} {
		delete(all, known)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// logFilter holds the parsed --level, --since and --grep options.
type logFilter struct {
	minLevel int
	since    time.Time
	grep     *regexp.Regexp
}

// levelPriority returns the priority of a log level for filtering
func levelPriority(level string) int {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return 0
	case logging.LevelInfo:
		return 1
	case logging.LevelWarn:
		return 2
	case logging.LevelError:
		return 3
	default:
		return -1
	}
}

// logStyles are the lipgloss styles for log output, keyed by level.
type logStyles struct {
	time   lipgloss.Style
	field  lipgloss.Style
	levels map[string]lipgloss.Style
}

func newLogStyles(color bool) logStyles {
	if !color {
		plain := lipgloss.NewStyle()
		return logStyles{time: plain, field: plain, levels: map[string]lipgloss.Style{}}
	}
	return logStyles{
		time:  lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		field: lipgloss.NewStyle().Foreground(lipgloss.Color("#22D3EE")),
		levels: map[string]lipgloss.Style{
			logging.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
			logging.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA")),
			logging.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
			logging.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")).Bold(true),
		},
	}
}

func (s logStyles) level(level string) lipgloss.Style {
	if st, ok := s.levels[strings.ToUpper(level)]; ok {
		return st
	}
	return lipgloss.NewStyle()
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry *logEntry, st logStyles) string {
	var sb strings.Builder

	sb.WriteString(st.time.Render("[" + entry.Time.Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	sb.WriteString(st.level(entry.Level).Render("[" + strings.ToUpper(entry.Level) + "]"))
	sb.WriteString(" ")
	sb.WriteString(entry.Msg)

	if entry.Component != "" {
		sb.WriteString(" " + st.field.Render("component="+entry.Component))
	}
	if entry.Process != "" {
		sb.WriteString(" " + st.field.Render("process="+entry.Process))
	}
	if entry.RequestID != 0 {
		sb.WriteString(" " + st.field.Render(fmt.Sprintf("request_id=%d", entry.RequestID)))
	}

	for _, key := range slices.Sorted(maps.Keys(entry.Extra)) {
		sb.WriteString(" ")
		sb.WriteString(st.field.Render(key + "="))
		sb.WriteString(fmt.Sprintf("%v", entry.Extra[key]))
	}

	return sb.String()
}

func runLogs(cmd *cobra.Command, opts *logsOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	logPath := opts.file
	if logPath == "" {
		logPath = filepath.Join(cfg.Logging.ResolveLogDir(), logging.LogFileName)
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) && !opts.follow {
		fmt.Fprintln(out, "No debug log found.")
		fmt.Fprintln(out, "Logs are stored at:", logPath)
		fmt.Fprintln(out, "Enable them with --debug or logging.enabled: true")
		return nil
	}

	filter := logFilter{minLevel: -1}
	if opts.level != "" {
		filter.minLevel = levelPriority(logging.ParseLevel(opts.level))
	}
	if opts.since != "" {
		duration, err := time.ParseDuration(opts.since)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		filter.since = time.Now().Add(-duration)
	}
	if opts.grep != "" {
		filter.grep, err = regexp.Compile(opts.grep)
		if err != nil {
			return fmt.Errorf("invalid grep pattern: %w", err)
		}
	}

	st := newLogStyles(colorEnabled(cfg.Output.Color, out))
	if opts.follow {
		return followLogs(cmd, logPath, filter, st)
	}
	return displayLogs(out, logPath, opts.tail, filter, st)
}

// displayLogs reads the log file and displays filtered entries
func displayLogs(out io.Writer, logPath string, tail int, filter logFilter, st logStyles) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var entries []string
	scanner := bufio.NewScanner(file)

	// Increase buffer size for potentially long log lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		if formatted, ok := formatLogLine(scanner.Text(), filter, st); ok {
			entries = append(entries, formatted)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	// Apply tail limit
	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}

	for _, entry := range entries {
		fmt.Fprintln(out, entry)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
	}
	return nil
}

// followLogs prints entries appended to the log until interrupted. The
// file is followed across rotation.
func followLogs(cmd *cobra.Command, logPath string, filter logFilter, st logStyles) error {
	src, err := linesource.NewFileSource(logPath)
	if err != nil {
		return err
	}
	defer src.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Following %s... (Ctrl+C to stop)\n\n", logPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-src.Lines():
			if !ok {
				return src.Err()
			}
			if formatted, ok := formatLogLine(line, filter, st); ok {
				fmt.Fprintln(out, formatted)
			}
		}
	}
}

// formatLogLine parses and filters one line. Lines that are not JSON are
// shown raw.
func formatLogLine(line string, filter logFilter, st logStyles) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}

	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line, true
	}
	if !passesFilters(&entry, filter) {
		return "", false
	}
	return formatLogEntry(&entry, st), true
}

// passesFilters checks if a log entry passes all filter criteria
func passesFilters(entry *logEntry, filter logFilter) bool {
	// Level filter
	if filter.minLevel >= 0 && levelPriority(entry.Level) < filter.minLevel {
		return false
	}

	// Time filter
	if !filter.since.IsZero() && entry.Time.Before(filter.since) {
		return false
	}

	// Grep filter - search in message and context fields
	if filter.grep != nil {
		searchText := entry.Msg
		if entry.Component != "" {
			searchText += " component=" + entry.Component
		}
		if entry.Process != "" {
			searchText += " process=" + entry.Process
		}
		if entry.RequestID != 0 {
			searchText += fmt.Sprintf(" request_id=%d", entry.RequestID)
		}
		for _, key := range slices.Sorted(maps.Keys(entry.Extra)) {
			searchText += fmt.Sprintf(" %s=%v", key, entry.Extra[key])
		}
		if !filter.grep.MatchString(searchText) {
			return false
		}
	}

	return true
}
