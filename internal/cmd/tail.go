package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/logwait/internal/dispatch"
	"github.com/Iron-Ham/logwait/internal/event"
	"github.com/Iron-Ham/logwait/internal/linesource"
	"github.com/Iron-Ham/logwait/internal/logging"
	"github.com/Iron-Ham/logwait/internal/poller"
	"github.com/Iron-Ham/logwait/internal/predicate"
	"github.com/Iron-Ham/logwait/internal/result"
)

type tailOptions struct {
	wait      waitFlags
	fromStart bool
	repeat    bool
}

func newTailCmd() *cobra.Command {
	opts := &tailOptions{}
	cmd := &cobra.Command{
		Use:   "tail FILE",
		Short: "Follow a log file and wait for lines to match",
		Long: `Follow a log file like tail -f and wait until new lines match the given
patterns or events. The file may not exist yet, and may be rotated or
truncated while it is followed.

With --repeat, tail keeps waiting for the next occurrence after each round
and prints one line per round until interrupted.

Examples:
  # Wait for the next heartbeat
  logwait tail /var/log/node.log -e heartbeat

  # Check existing contents too
  logwait tail app.log --from-start -m "migration complete"

  # Print every heartbeat, or each 10s gap without one
  logwait tail node.log -e heartbeat --repeat -t 10s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd, opts, args[0])
		},
	}

	opts.wait.register(cmd)
	cmd.Flags().BoolVar(&opts.fromStart, "from-start", false, "match the file's existing lines before following")
	cmd.Flags().BoolVar(&opts.repeat, "repeat", false, "keep waiting for further occurrences until interrupted")
	return cmd
}

func runTail(cmd *cobra.Command, opts *tailOptions, path string) error {
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

	fileOpts := []linesource.FileOption{linesource.WithFileLogger(logger)}
	if opts.fromStart {
		fileOpts = append(fileOpts, linesource.FromStart())
	}
	src, err := linesource.NewFileSource(path, fileOpts...)
	if err != nil {
		return err
	}
	defer src.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus(logger)
	d := dispatch.New(dispatch.WithLogger(logger), dispatch.WithBus(bus))
	listener, err := dispatch.ListenTo(d)
	if err != nil {
		return err
	}
	// Waits are registered before the dispatcher reads any line, so
	// --from-start sees the whole file.
	runDone := make(chan struct{})
	startRun := func() {
		go func() {
			defer close(runDone)
			if err := d.Run(ctx, src); err != nil && ctx.Err() == nil {
				logger.Warn("file source ended", "error", err.Error())
			}
		}()
	}
	defer func() {
		d.Terminate()
		<-runDone
	}()

	rep := newReporter(cmd.OutOrStdout(), cfg.Output, "tail")
	if opts.repeat {
		return repeatTail(ctx, listener, bus, pred, timeout, rep, logger, startRun)
	}

	started := time.Now()
	future, err := listener.Submit(pred, timeout)
	if err != nil {
		close(runDone)
		return err
	}
	startRun()

	outcome, waitErr := future.GetContext(ctx)
	if waitErr != nil {
		d.Terminate()
		outcome = future.Get()
	}

	if err := rep.render(buildReport(path, pred, outcome, started, nil)); err != nil {
		return err
	}
	if !outcome.IsObserved() {
		return fmt.Errorf("%w: %s", errNotObserved, outcome.Status())
	}
	return nil
}

// repeatTail polls for pred until ctx ends or the dispatcher terminates,
// printing every round. It fails only if no round was ever observed.
func repeatTail(ctx context.Context, l *dispatch.Listener, bus *event.Bus, pred *predicate.Predicate,
	timeout time.Duration, rep *reporter, logger *logging.Logger, startRun func()) error {
	rounds := make(chan event.PollRoundCompletedEvent, 16)
	quit := make(chan struct{})
	subID := bus.Subscribe(event.TypePollRoundCompleted, func(e event.Event) {
		if round, ok := e.(event.PollRoundCompletedEvent); ok {
			select {
			case rounds <- round:
			case <-quit:
			}
		}
	})
	defer bus.Unsubscribe(subID)

	p, err := poller.New(l, pred.Fresh, timeout, poller.WithLogger(logger), poller.WithBus(bus))
	if err == nil {
		err = p.Start()
	}
	startRun()
	if err != nil {
		return err
	}
	defer func() {
		close(quit)
		p.Stop()
	}()

	observed := 0
	emit := func(round event.PollRoundCompletedEvent) error {
		if round.Outcome.IsObserved() {
			observed++
		}
		return rep.round(round.Round, round.Outcome, round.Stored)
	}
	for {
		select {
		case round := <-rounds:
			if err := emit(round); err != nil {
				return err
			}
		case <-p.Done():
			// Rounds are published before the poller finishes.
			for {
				select {
				case round := <-rounds:
					if err := emit(round); err != nil {
						return err
					}
				default:
					return repeatResult(observed)
				}
			}
		case <-ctx.Done():
			return repeatResult(observed)
		}
	}
}

func repeatResult(observed int) error {
	if observed == 0 {
		return fmt.Errorf("%w: %s", errNotObserved, result.StatusExpired)
	}
	return nil
}
