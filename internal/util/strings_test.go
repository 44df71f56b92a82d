package util

import (
	"maps"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncateANSI(t *testing.T) {
	redStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	tests := []struct {
		name     string
		input    string
		maxWidth int
		check    func(t *testing.T, result string)
	}{
		{
			name:     "short plain string unchanged",
			input:    "block sealed",
			maxWidth: 20,
			check: func(t *testing.T, result string) {
				if result != "block sealed" {
					t.Errorf("got %q", result)
				}
			},
		},
		{
			name:     "long plain string truncated",
			input:    "transaction 0xabcdef was sealed into block 42",
			maxWidth: 15,
			check: func(t *testing.T, result string) {
				if !strings.HasSuffix(result, "...") {
					t.Errorf("expected ellipsis, got %q", result)
				}
				if w := lipgloss.Width(result); w > 15 {
					t.Errorf("width = %d, want <= 15", w)
				}
			},
		},
		{
			name:     "styled string keeps visible width",
			input:    redStyle.Render("ERROR: disk quota exceeded on /var"),
			maxWidth: 12,
			check: func(t *testing.T, result string) {
				if w := lipgloss.Width(result); w > 12 {
					t.Errorf("width = %d, want <= 12", w)
				}
			},
		},
		{
			name:     "wide characters",
			input:    "区块已封装区块已封装",
			maxWidth: 9,
			check: func(t *testing.T, result string) {
				if w := lipgloss.Width(result); w > 9 {
					t.Errorf("width = %d, want <= 9", w)
				}
			},
		},
		{
			name:     "tiny width returns ellipsis",
			input:    "heartbeat",
			maxWidth: 3,
			check: func(t *testing.T, result string) {
				if result != "..." {
					t.Errorf("got %q, want ...", result)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, TruncateANSI(tt.input, tt.maxWidth))
		})
	}
}

func TestStripANSI(t *testing.T) {
	in := "\x1b[32mINFO\x1b[0m p2p-status"
	if got := StripANSI(in); got != "INFO p2p-status" {
		t.Errorf("StripANSI() = %q", got)
	}
}

func TestPreviewLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		maxWidth int
		expected string
	}{
		{"plain", "block sealed", 40, "block sealed"},
		{"trims and expands tabs", "  a\tb  ", 40, "a    b"},
		{"strips color", "\x1b[1mready\x1b[0m", 40, "ready"},
		{"no limit", strings.Repeat("x", 200), 0, strings.Repeat("x", 200)},
		{"truncated", "0123456789abcdef", 10, "0123456..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PreviewLine(tt.line, tt.maxWidth); got != tt.expected {
				t.Errorf("PreviewLine(%q, %d) = %q, want %q", tt.line, tt.maxWidth, got, tt.expected)
			}
		})
	}
}

func TestParseKeyValues(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{"empty", nil, map[string]string{}, false},
		{"simple", []string{"hash=0xabc"}, map[string]string{"hash": "0xabc"}, false},
		{"value with equals", []string{"q=a=b"}, map[string]string{"q": "a=b"}, false},
		{"empty value", []string{"k="}, map[string]string{"k": ""}, false},
		{"later wins", []string{"k=1", "k=2"}, map[string]string{"k": "2"}, false},
		{"missing equals", []string{"hash"}, nil, true},
		{"missing key", []string{"=v"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKeyValues(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKeyValues() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !maps.Equal(got, tt.want) {
				t.Errorf("ParseKeyValues() = %v, want %v", got, tt.want)
			}
		})
	}
}
