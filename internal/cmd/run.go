package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/Iron-Ham/logwait/internal/event"
	"github.com/Iron-Ham/logwait/internal/monitor"
)

// failureTailLines is how much recent output run prints when the wait fails.
const failureTailLines = 10

type runOptions struct {
	wait        waitFlags
	keepRunning bool
	pty         bool
	dir         string
	env         []string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [flags] -- COMMAND [ARGS...]",
		Short: "Run a command and wait for its output to match",
		Long: `Run a command, merging its stdout and stderr, and wait until its output
matches the given patterns or events.

The exit status is 0 when the event was observed and 1 otherwise. By default
the command is stopped (SIGINT, then SIGKILL after process.graceful_stop_timeout)
once the wait ends; use --keep-running to wait for it to exit instead.

Examples:
  # Wait up to a minute for a server to come up
  logwait run -m "listening on :8080" -t 1m -- ./server

  # Wait for a known event with a parameter
  logwait run -e tx-processed -p hash=0xabc -- ./node --dev

  # Require two lines, in any order
  logwait run --all -m "db ready" -m "cache ready" -- ./app`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts, args)
		},
	}
	cmd.Flags().SetInterspersed(false)

	opts.wait.register(cmd)
	cmd.Flags().BoolVar(&opts.keepRunning, "keep-running", false, "let the command run to completion after the wait ends")
	cmd.Flags().BoolVar(&opts.pty, "pty", false, "run the command under a pseudo-terminal (default process.use_pty)")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "working directory (default process.dir)")
	cmd.Flags().StringArrayVar(&opts.env, "env", nil, "extra KEY=VALUE environment entry (repeatable)")
	return cmd
}

func runRun(cmd *cobra.Command, opts *runOptions, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg, opts.wait.catalog)
	if err != nil {
		return err
	}
	pred, err := opts.wait.build(catalog)
	if err != nil {
		return err
	}
	timeout := opts.wait.effectiveTimeout(cmd, cfg)

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to open debug log: %w", err)
	}
	defer logger.Close()

	mcfg := monitor.DefaultConfig()
	mcfg.Command = args[0]
	mcfg.Args = args[1:]
	mcfg.Dir = cfg.Process.Dir
	if opts.dir != "" {
		mcfg.Dir = opts.dir
	}
	mcfg.Env = append(append([]string{}, cfg.Process.Env...), opts.env...)
	mcfg.UsePTY = cfg.Process.UsePTY || opts.pty
	mcfg.GracefulStopTimeout = cfg.Process.GracefulStopTimeout
	mcfg.LineBufferSize = cfg.Process.TailLines
	mcfg.MaxLineBytes = cfg.Dispatcher.MaxLineBytes

	bus := event.NewBus(logger)
	mon, err := monitor.New(mcfg, monitor.WithLogger(logger), monitor.WithBus(bus))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	if err := mon.Start(ctx); err != nil {
		return err
	}

	future, err := mon.Listener().Submit(pred, timeout)
	if err != nil {
		_ = mon.Stop()
		return err
	}

	outcome, waitErr := future.GetContext(ctx)
	if waitErr != nil {
		// Interrupted: stopping the process drains the wait as Unobserved.
		_ = mon.Stop()
		outcome = future.Get()
	}

	if opts.keepRunning {
		if err := mon.Wait(); err != nil && !errors.Is(err, errors.ErrProcessNotRunning) {
			logger.Warn("command failed", "error", err.Error())
		}
	} else if err := mon.Stop(); err != nil && !errors.Is(err, errors.ErrProcessNotRunning) {
		return err
	}

	rep := buildReport(mon.Name(), pred, outcome, started, mon.Tail(-1))
	if !outcome.IsObserved() {
		rep.Tail = mon.Tail(failureTailLines)
	}
	if err := newReporter(cmd.OutOrStdout(), cfg.Output, "run").render(rep); err != nil {
		return err
	}

	if !outcome.IsObserved() {
		return fmt.Errorf("%w: %s", errNotObserved, outcome.Status())
	}
	return nil
}
