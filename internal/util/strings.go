// Package util provides small string helpers shared by the CLI and logging.
package util

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const ellipsis = "..."

// TruncateANSI truncates s to maxWidth terminal columns, adding "..." if
// truncated. Escape sequences are preserved and wide characters count by
// their display width.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= len(ellipsis) {
		return ellipsis
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	// ansi.Truncate includes the tail in the final width calculation
	return ansi.Truncate(s, maxWidth, ellipsis)
}

// StripANSI removes terminal escape sequences, as written by processes that
// color their output when run under a pseudo-terminal.
func StripANSI(s string) string {
	return ansi.Strip(s)
}

// PreviewLine prepares a raw output line for single-line display: escape
// sequences are removed, tabs become spaces, surrounding whitespace is
// trimmed and the result is cut to maxWidth columns. A maxWidth of zero
// disables truncation.
func PreviewLine(line string, maxWidth int) string {
	s := ansi.Strip(line)
	s = strings.ReplaceAll(s, "\t", "    ")
	s = strings.TrimSpace(s)
	if maxWidth <= 0 {
		return s
	}
	return TruncateANSI(s, maxWidth)
}

// ParseKeyValues parses KEY=VALUE pairs. Later pairs override earlier ones.
// Values may contain '=' and may be empty; keys may not.
func ParseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}
