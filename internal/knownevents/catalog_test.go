package knownevents

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/Iron-Ham/logwait/internal/predicate"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	want := []string{"block-sealed", "heartbeat", "tx-processed", "tx-rejected", "tx-sealed"}
	if got := c.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if c.Len() != len(want) {
		t.Errorf("Len() = %d, want %d", c.Len(), len(want))
	}

	def, ok := c.Lookup("tx-processed")
	if !ok {
		t.Fatal("tx-processed missing")
	}
	if got := def.Placeholders(); !slices.Equal(got, []string{"hash"}) {
		t.Errorf("Placeholders() = %v, want [hash]", got)
	}
}

func TestBuild(t *testing.T) {
	c := Default()
	params := map[string]string{"hash": "0xabc"}

	tests := []struct {
		name   string
		event  string
		lines  []string
		want   bool
		render string
	}{
		{
			name:   "single pattern",
			event:  "tx-sealed",
			lines:  []string{"Transaction: 0xabc was sealed into block #12"},
			want:   true,
			render: `"Transaction: 0xabc was sealed into block"`,
		},
		{
			name:  "other hash does not match",
			event: "tx-sealed",
			lines: []string{"Transaction: 0xdef was sealed into block #12"},
			want:  false,
		},
		{
			name:   "any of sealed or rejected",
			event:  "tx-processed",
			lines:  []string{"Transaction: 0xabc was rejected"},
			want:   true,
			render: `("Transaction: 0xabc was sealed into block" OR "Transaction: 0xabc was rejected")`,
		},
		{
			name:  "heartbeat",
			event: "heartbeat",
			lines: []string{"INFO p2p-status peers=3"},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := c.Build(tt.event, params)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if tt.render != "" && p.String() != tt.render {
				t.Errorf("String() = %s, want %s", p.String(), tt.render)
			}
			for _, line := range tt.lines {
				p.Feed(line, time.Now())
			}
			if got := p.HasBeenObserved(); got != tt.want {
				t.Errorf("observed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildReturnsIndependentTrees(t *testing.T) {
	c := Default()
	first, err := c.Build("block-sealed", nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	first.Feed("block sealed #1", time.Now())

	second, err := c.Build("block-sealed", nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if second.HasBeenObserved() {
		t.Error("a second build must start pending")
	}
}

func TestBuildAllAndAny(t *testing.T) {
	c, err := New(map[string]Definition{
		"ready": {
			All: []string{"db up", "cache up"},
			Any: []string{"listening on ${port}", "ready"},
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	p, err := c.Build("ready", map[string]string{"port": "8080"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if p.Kind() != predicate.KindAnd {
		t.Fatalf("Kind() = %v, want and", p.Kind())
	}
	want := `(("db up" AND "cache up") AND ("listening on 8080" OR "ready"))`
	if p.String() != want {
		t.Errorf("String() = %s, want %s", p.String(), want)
	}

	now := time.Now()
	p.Feed("db up", now)
	p.Feed("listening on 8080", now)
	if p.HasBeenObserved() {
		t.Error("cache up has not been seen yet")
	}
	p.Feed("cache up", now)
	if !p.HasBeenObserved() {
		t.Error("all required patterns have been seen")
	}
}

func TestBuildErrors(t *testing.T) {
	c := Default()

	_, err := c.Build("no-such-event", nil)
	if !errors.Is(err, errors.ErrUnknownEvent) {
		t.Errorf("unknown event error = %v, want ErrUnknownEvent", err)
	}
	var catErr *errors.CatalogError
	if !errors.As(err, &catErr) || catErr.Event != "no-such-event" {
		t.Errorf("expected CatalogError naming the event, got %v", err)
	}

	_, err = c.Build("tx-sealed", nil)
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("missing parameter error = %v, want ErrInvalidInput", err)
	}
	if err == nil || !strings.Contains(err.Error(), "hash") {
		t.Errorf("error should name the missing parameter: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		defs map[string]Definition
		want error
	}{
		{"empty definition", map[string]Definition{"x": {}}, errors.ErrEmptyDefinition},
		{"empty pattern", map[string]Definition{"x": {All: []string{""}}}, errors.ErrEmptyPattern},
		{"blank name", map[string]Definition{" ": {All: []string{"a"}}}, errors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.defs)
			if !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.yaml")
	content := `version: "1"
events:
  synced:
    description: node caught up to ${height}
    all:
      - "sync complete at ${height}"
  heartbeat:
    any:
      - "tick"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !slices.Equal(c.Names(), []string{"heartbeat", "synced"}) {
		t.Errorf("Names() = %v", c.Names())
	}
	if got := c.Describe("synced", map[string]string{"height": "42"}); got != "node caught up to 42" {
		t.Errorf("Describe() = %q", got)
	}
	if got := c.Describe("synced", nil); got != "node caught up to ${height}" {
		t.Errorf("Describe() without params = %q", got)
	}

	merged := Default().Merge(c)
	def, _ := merged.Lookup("heartbeat")
	if !slices.Equal(def.Any, []string{"tick"}) {
		t.Errorf("merged heartbeat = %+v, want the loaded override", def)
	}
	if _, ok := merged.Lookup("tx-sealed"); !ok {
		t.Error("merge dropped a default definition")
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	var catErr *errors.CatalogError
	if !errors.As(err, &catErr) || !strings.HasSuffix(catErr.Path, "missing.yaml") {
		t.Errorf("Load(missing) error = %v", err)
	}

	tests := []struct {
		name    string
		content string
	}{
		{"invalid yaml", "events: [unclosed"},
		{"bad version", "version: \"2\"\nevents: {}\n"},
		{"empty definition", "events:\n  x: {}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "-")+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			var catErr *errors.CatalogError
			if !errors.As(err, &catErr) {
				t.Fatalf("Load() error = %v, want *CatalogError", err)
			}
			if catErr.Path != path {
				t.Errorf("Path = %q, want %q", catErr.Path, path)
			}
		})
	}
}
