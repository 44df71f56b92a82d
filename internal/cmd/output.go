package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/logwait/internal/config"
	"github.com/Iron-Ham/logwait/internal/predicate"
	"github.com/Iron-Ham/logwait/internal/result"
	"github.com/Iron-Ham/logwait/internal/util"
)

// defaultTerminalWidth is used when the width of stdout cannot be queried.
const defaultTerminalWidth = 100

// styles holds the lipgloss styles used for command output.
type styles struct {
	observed lipgloss.Style
	failed   lipgloss.Style
	pending  lipgloss.Style
	muted    lipgloss.Style
	label    lipgloss.Style
	pattern  lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{
			observed: plain,
			failed:   plain,
			pending:  plain,
			muted:    plain,
			label:    plain,
			pattern:  plain,
		}
	}
	return styles{
		observed: lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true),
		failed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")).Bold(true),
		pending:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
		label:    lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA")).Bold(true),
		pattern:  lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA")),
	}
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// colorEnabled resolves output.color for w. NO_COLOR disables "auto".
func colorEnabled(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return isTerminal(w) && os.Getenv("NO_COLOR") == ""
	}
}

// previewWidth resolves output.preview_width; zero means the terminal width.
func previewWidth(configured int, w io.Writer) int {
	if configured > 0 {
		return configured
	}
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 8 {
			return width - 4
		}
	}
	return defaultTerminalWidth
}

// reporter renders wait results for run and tail.
type reporter struct {
	w      io.Writer
	st     styles
	json   bool
	width  int
	header string
}

func newReporter(w io.Writer, out config.OutputConfig, header string) *reporter {
	return &reporter{
		w:      w,
		st:     newStyles(colorEnabled(out.Color, w)),
		json:   out.Format == "json",
		width:  previewWidth(out.PreviewWidth, w),
		header: header,
	}
}

// leafReport describes one leaf of the waited-for predicate.
type leafReport struct {
	Pattern    string     `json:"pattern"`
	Observed   bool       `json:"observed"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
	AfterMS    *int64     `json:"after_ms,omitempty"`
	Line       string     `json:"line,omitempty"`
}

// waitReport is the machine-readable form of a finished wait.
type waitReport struct {
	Source     string       `json:"source"`
	Predicate  string       `json:"predicate"`
	Status     string       `json:"status"`
	Cause      string       `json:"cause,omitempty"`
	ObservedAt *time.Time   `json:"observed_at,omitempty"`
	ElapsedMS  int64        `json:"elapsed_ms"`
	Leaves     []leafReport `json:"leaves"`
	Tail       []string     `json:"tail,omitempty"`
}

// buildReport collects the outcome and per-leaf observations. recent, if
// given, is searched for the last line matching each observed leaf.
func buildReport(source string, p *predicate.Predicate, o result.Outcome, started time.Time, recent []string) waitReport {
	rep := waitReport{
		Source:    source,
		Predicate: p.String(),
		Status:    o.Status().String(),
		ElapsedMS: time.Since(started).Milliseconds(),
	}
	if cause, ok := o.Cause(); ok {
		rep.Cause = cause
	}
	if at, ok := o.ObservedAt(); ok {
		rep.ObservedAt = &at
	}

	for _, leaf := range p.Leaves() {
		lr := leafReport{Pattern: leaf.Pattern()}
		if at, ok := leaf.ObservedAt(); ok {
			after := at.Sub(started).Milliseconds()
			lr.Observed = true
			lr.ObservedAt = &at
			lr.AfterMS = &after
			lr.Line = lastMatch(leaf, recent)
		}
		rep.Leaves = append(rep.Leaves, lr)
	}
	return rep
}

func lastMatch(leaf *predicate.Predicate, lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if leaf.Matches(lines[i]) {
			return lines[i]
		}
	}
	return ""
}

// render writes rep as text or JSON.
func (r *reporter) render(rep waitReport) error {
	if r.json {
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	var sb strings.Builder
	if r.header != "" {
		sb.WriteString(r.st.label.Render(r.header))
		sb.WriteString(" ")
		sb.WriteString(r.st.muted.Render(rep.Source))
		sb.WriteString("\n")
	}

	status := strings.ToUpper(rep.Status)
	if rep.Status == result.StatusObserved.String() {
		status = r.st.observed.Render(status)
	} else {
		status = r.st.failed.Render(status)
	}
	sb.WriteString(fmt.Sprintf("%s %s", status, r.st.muted.Render(fmt.Sprintf("after %s", formatMillis(rep.ElapsedMS)))))
	if rep.Cause != "" {
		sb.WriteString(": " + rep.Cause)
	}
	sb.WriteString("\n")

	for _, leaf := range rep.Leaves {
		mark := r.st.pending.Render("·")
		when := r.st.muted.Render("not seen")
		if leaf.Observed {
			mark = r.st.observed.Render("✓")
			when = r.st.muted.Render("+" + formatMillis(*leaf.AfterMS))
		}
		sb.WriteString(fmt.Sprintf("  %s %s %s\n", mark, r.st.pattern.Render(leaf.Pattern), when))
		if leaf.Line != "" {
			sb.WriteString("      " + r.st.muted.Render(util.PreviewLine(leaf.Line, r.width-6)) + "\n")
		}
	}

	if len(rep.Tail) > 0 {
		sb.WriteString(r.st.label.Render("last output:") + "\n")
		for _, line := range rep.Tail {
			sb.WriteString("  " + r.st.muted.Render(util.PreviewLine(line, r.width-2)) + "\n")
		}
	}

	_, err := io.WriteString(r.w, sb.String())
	return err
}

// round writes one line for a repeated wait.
func (r *reporter) round(n int, o result.Outcome, stored bool) error {
	if r.json {
		entry := struct {
			Round      int        `json:"round"`
			Status     string     `json:"status"`
			ObservedAt *time.Time `json:"observed_at,omitempty"`
			Stored     bool       `json:"stored"`
		}{Round: n, Status: o.Status().String(), Stored: stored}
		if at, ok := o.ObservedAt(); ok {
			entry.ObservedAt = &at
		}
		return json.NewEncoder(r.w).Encode(entry)
	}

	status := r.st.failed.Render(o.Status().String())
	detail := ""
	if at, ok := o.ObservedAt(); ok {
		status = r.st.observed.Render(o.Status().String())
		detail = " " + r.st.muted.Render(at.Format("15:04:05.000"))
	}
	_, err := fmt.Fprintf(r.w, "%s %s%s\n", r.st.label.Render(fmt.Sprintf("#%d", n)), status, detail)
	return err
}

func formatMillis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}
