package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/logwait/internal/config"
	"github.com/Iron-Ham/logwait/internal/knownevents"
	"github.com/Iron-Ham/logwait/internal/predicate"
	"github.com/Iron-Ham/logwait/internal/util"
)

// waitFlags are the flags shared by commands that wait for an event.
type waitFlags struct {
	matches []string
	events  []string
	params  []string
	all     bool
	timeout time.Duration
	catalog string
}

func (f *waitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.matches, "match", "m", nil, "substring to wait for (repeatable)")
	cmd.Flags().StringArrayVarP(&f.events, "event", "e", nil, "known event to wait for (repeatable, see 'logwait events')")
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "event parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&f.all, "all", false, "require every pattern and event instead of any one")
	cmd.Flags().DurationVarP(&f.timeout, "timeout", "t", 0, "how long to wait (default dispatcher.default_timeout)")
	cmd.Flags().StringVar(&f.catalog, "catalog", "", "known-events catalog file (default catalog.path)")
}

// effectiveTimeout returns --timeout, or the configured default when the
// flag was not given.
func (f *waitFlags) effectiveTimeout(cmd *cobra.Command, cfg *config.Config) time.Duration {
	if cmd.Flags().Changed("timeout") {
		return f.timeout
	}
	return cfg.Dispatcher.DefaultTimeout
}

// build combines every --match leaf and --event predicate into one tree:
// a conjunction with --all, a disjunction otherwise.
func (f *waitFlags) build(catalog *knownevents.Catalog) (*predicate.Predicate, error) {
	if len(f.matches) == 0 && len(f.events) == 0 {
		return nil, fmt.Errorf("nothing to wait for: give at least one --match or --event")
	}

	params, err := util.ParseKeyValues(f.params)
	if err != nil {
		return nil, err
	}

	parts := make([]*predicate.Predicate, 0, len(f.matches)+len(f.events))
	for _, pattern := range f.matches {
		leaf, err := predicate.Leaf(pattern)
		if err != nil {
			return nil, fmt.Errorf("--match %q: %w", pattern, err)
		}
		parts = append(parts, leaf)
	}
	for _, name := range f.events {
		p, err := catalog.Build(name, params)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}

	if f.all {
		return predicate.AllOf(parts...), nil
	}
	return predicate.AnyOf(parts...), nil
}
