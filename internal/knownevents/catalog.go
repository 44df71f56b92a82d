// Package knownevents provides named, parameterized log-event definitions.
//
// A Definition lists patterns that must all appear (All) and patterns of
// which at least one must appear (Any). Patterns may reference caller
// parameters as ${name}; Build expands them and returns a fresh predicate
// tree that the dispatcher treats like any other.
package knownevents

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/Iron-Ham/logwait/internal/predicate"
)

// CatalogVersion is the only supported catalog file format version.
const CatalogVersion = "1"

// Definition describes one known event.
type Definition struct {
	// Description is shown by `logwait events`.
	Description string `yaml:"description,omitempty"`
	// All lists patterns that must each be observed.
	All []string `yaml:"all,omitempty"`
	// Any lists patterns of which one must be observed.
	Any []string `yaml:"any,omitempty"`
}

// Validate checks that the definition has at least one non-empty pattern.
func (d Definition) Validate() error {
	if len(d.All) == 0 && len(d.Any) == 0 {
		return errors.ErrEmptyDefinition
	}
	for _, p := range slices.Concat(d.All, d.Any) {
		if p == "" {
			return errors.ErrEmptyPattern
		}
	}
	return nil
}

// Placeholders returns the distinct ${name} parameters referenced by the
// definition's patterns, in order of first use.
func (d Definition) Placeholders() []string {
	var names []string
	for _, p := range slices.Concat(d.All, d.Any) {
		os.Expand(p, func(name string) string {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
			return ""
		})
	}
	return names
}

// File is the on-disk catalog format.
type File struct {
	Version string                `yaml:"version"`
	Events  map[string]Definition `yaml:"events"`
}

// Catalog is an immutable set of named definitions.
type Catalog struct {
	defs map[string]Definition
}

// New builds a catalog, validating every definition.
func New(defs map[string]Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for name, def := range defs {
		if strings.TrimSpace(name) == "" {
			return nil, errors.NewCatalogError("event name is required", errors.ErrInvalidInput)
		}
		if err := def.Validate(); err != nil {
			return nil, errors.NewCatalogError("invalid definition", err).WithEvent(name)
		}
		c.defs[name] = def
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(map[string]Definition{
		"heartbeat": {
			Description: "periodic liveness line from the node",
			Any:         []string{"p2p-status", "heartbeat"},
		},
		"block-sealed": {
			Description: "a block was sealed",
			Any:         []string{"block sealed", "sealed block"},
		},
		"tx-sealed": {
			Description: "transaction ${hash} was sealed into a block",
			All:         []string{"Transaction: ${hash} was sealed into block"},
		},
		"tx-rejected": {
			Description: "transaction ${hash} was rejected",
			All:         []string{"Transaction: ${hash} was rejected"},
		},
		"tx-processed": {
			Description: "transaction ${hash} was either sealed or rejected",
			Any: []string{
				"Transaction: ${hash} was sealed into block",
				"Transaction: ${hash} was rejected",
			},
		},
	})
	if err != nil {
		panic(fmt.Sprintf("knownevents: invalid built-in catalog: %v", err))
	}
	return c
}

// Load reads a YAML catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewCatalogError("reading catalog file", err).WithPath(path)
	}
	c, err := Parse(data)
	if err != nil {
		var catErr *errors.CatalogError
		if errors.As(err, &catErr) {
			return nil, catErr.WithPath(path)
		}
		return nil, err
	}
	return c, nil
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.NewCatalogError("parsing catalog", err)
	}
	if f.Version != "" && f.Version != CatalogVersion {
		return nil, errors.NewCatalogError(
			fmt.Sprintf("unsupported catalog version: %s (supported: %s)", f.Version, CatalogVersion),
			errors.ErrInvalidInput)
	}
	return New(f.Events)
}

// Merge returns a catalog holding c's definitions overridden by other's.
func (c *Catalog) Merge(other *Catalog) *Catalog {
	merged := &Catalog{defs: make(map[string]Definition, len(c.defs))}
	for name, def := range c.defs {
		merged.defs[name] = def
	}
	if other != nil {
		for name, def := range other.defs {
			merged.defs[name] = def
		}
	}
	return merged
}

// Names returns the event names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup returns the named definition.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	def, ok := c.defs[name]
	return def, ok
}

// Len returns the number of definitions.
func (c *Catalog) Len() int { return len(c.defs) }

// Build expands the named definition with params and returns a new
// predicate: the conjunction of All, the disjunction of Any, or
// And(AllOf(All), AnyOf(Any)) when both are present. Every call returns
// an independent tree with no observations.
func (c *Catalog) Build(name string, params map[string]string) (*predicate.Predicate, error) {
	def, ok := c.defs[name]
	if !ok {
		return nil, errors.NewCatalogError("no such event", errors.ErrUnknownEvent).WithEvent(name)
	}

	all, err := expandAll(def.All, params)
	if err != nil {
		return nil, errors.NewCatalogError("expanding patterns", err).WithEvent(name)
	}
	anyOf, err := expandAll(def.Any, params)
	if err != nil {
		return nil, errors.NewCatalogError("expanding patterns", err).WithEvent(name)
	}

	switch {
	case len(all) > 0 && len(anyOf) > 0:
		return predicate.And(predicate.AllOf(all...), predicate.AnyOf(anyOf...)), nil
	case len(all) > 0:
		return predicate.AllOf(all...), nil
	default:
		return predicate.AnyOf(anyOf...), nil
	}
}

// Describe returns the definition's description with params expanded.
// Unknown placeholders are left as written.
func (c *Catalog) Describe(name string, params map[string]string) string {
	def, ok := c.defs[name]
	if !ok {
		return ""
	}
	return os.Expand(def.Description, func(key string) string {
		if v, ok := params[key]; ok {
			return v
		}
		return "${" + key + "}"
	})
}

func expandAll(patterns []string, params map[string]string) ([]*predicate.Predicate, error) {
	leaves := make([]*predicate.Predicate, 0, len(patterns))
	for _, pattern := range patterns {
		expanded, err := expand(pattern, params)
		if err != nil {
			return nil, err
		}
		leaf, err := predicate.Leaf(expanded)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}
	return leaves, nil
}

// expand substitutes ${name} references. A reference with no value in
// params is an error rather than an empty substitution.
func expand(pattern string, params map[string]string) (string, error) {
	var missing []string
	out := os.Expand(pattern, func(key string) string {
		v, ok := params[key]
		if !ok && !slices.Contains(missing, key) {
			missing = append(missing, key)
		}
		return v
	})
	if len(missing) > 0 {
		return "", errors.NewValidationError(fmt.Sprintf("missing parameter %s", strings.Join(missing, ", "))).
			WithField("params").
			WithValue(missing)
	}
	return out, nil
}
