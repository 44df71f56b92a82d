package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/Iron-Ham/logwait/internal/util"
)

type eventsOptions struct {
	catalog string
	params  []string
}

func newEventsCmd() *cobra.Command {
	opts := &eventsOptions{}
	cmd := &cobra.Command{
		Use:   "events [NAME...]",
		Short: "List known events",
		Long: `List the known events that --event accepts, with the patterns each one
waits for. "all" patterns must every one appear; of the "any" patterns,
one is enough.

Patterns may contain ${name} placeholders, filled in with --param.

Examples:
  logwait events
  logwait events tx-sealed -p hash=0xabc
  logwait events --catalog ./events.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.catalog, "catalog", "", "known-events catalog file (default catalog.path)")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "fill a placeholder as key=value (repeatable)")
	return cmd
}

func runEvents(cmd *cobra.Command, opts *eventsOptions, names []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg, opts.catalog)
	if err != nil {
		return err
	}
	params, err := util.ParseKeyValues(opts.params)
	if err != nil {
		return err
	}

	if len(names) == 0 {
		names = catalog.Names()
	}

	out := cmd.OutOrStdout()
	st := newStyles(colorEnabled(cfg.Output.Color, out))
	var sb strings.Builder
	for i, name := range names {
		def, ok := catalog.Lookup(name)
		if !ok {
			return errors.NewNotFoundError("event", name).
				WithCause(fmt.Errorf("known events: %s", strings.Join(catalog.Names(), ", ")))
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(st.label.Render(name))
		if def.Description != "" {
			sb.WriteString("  " + st.muted.Render(catalog.Describe(name, params)))
		}
		sb.WriteString("\n")
		if len(params) > 0 {
			if p, err := catalog.Build(name, params); err == nil {
				sb.WriteString("  " + st.pattern.Render(p.String()) + "\n")
				continue
			}
		}
		for _, pattern := range def.All {
			sb.WriteString(fmt.Sprintf("  all  %s\n", st.pattern.Render(pattern)))
		}
		for _, pattern := range def.Any {
			sb.WriteString(fmt.Sprintf("  any  %s\n", st.pattern.Render(pattern)))
		}
		if ph := def.Placeholders(); len(ph) > 0 {
			sb.WriteString("  " + st.muted.Render("params: "+strings.Join(ph, ", ")) + "\n")
		}
	}

	_, err = fmt.Fprint(out, sb.String())
	return err
}
