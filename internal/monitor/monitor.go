// Package monitor runs a process and matches its output with a dispatcher.
//
// A Monitor merges the process's stdout and stderr (or runs it under a
// pseudo-terminal) into one line source, starts a dispatch.Dispatcher over
// it and hands out a dispatch.Listener for waits. When the process exits,
// or Stop is called, the dispatcher terminates and every pending wait
// resolves Unobserved.
package monitor

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/Iron-Ham/logwait/internal/dispatch"
	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/Iron-Ham/logwait/internal/event"
	"github.com/Iron-Ham/logwait/internal/linesource"
	"github.com/Iron-Ham/logwait/internal/logging"
)

// DefaultGracefulStopTimeout is how long Stop waits after SIGINT before
// sending SIGKILL.
const DefaultGracefulStopTimeout = 500 * time.Millisecond

// DefaultLineBufferSize is the number of recent output lines kept for Tail.
const DefaultLineBufferSize = 200

// drainTimeout bounds how long output is read after the process exits.
// Output can stay open past exit when a child process inherited it.
const drainTimeout = 250 * time.Millisecond

// killWaitTimeout bounds how long Stop waits for a killed process to be reaped.
const killWaitTimeout = 5 * time.Second

// State represents the lifecycle state of the monitored process.
type State int

const (
	// StateStopped indicates the process has not been started.
	StateStopped State = iota
	// StateStarting indicates the process is being started.
	StateStarting
	// StateRunning indicates the process is running and its output is matched.
	StateRunning
	// StateExited indicates the process has exited.
	StateExited
)

// String returns a human-readable string for the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Config describes the process to run.
type Config struct {
	Command string
	Args    []string
	Dir     string
	// Env entries (KEY=VALUE) are appended to the current environment.
	Env []string

	// UsePTY runs the process under a pseudo-terminal, for programs that
	// buffer or change their output when not attached to a terminal.
	UsePTY bool

	GracefulStopTimeout time.Duration
	LineBufferSize      int
	MaxLineBytes        int
}

// DefaultConfig returns a Config with default timeouts and buffer sizes.
func DefaultConfig() Config {
	return Config{
		GracefulStopTimeout: DefaultGracefulStopTimeout,
		LineBufferSize:      DefaultLineBufferSize,
		MaxLineBytes:        linesource.DefaultMaxLineBytes,
	}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger for the monitor and its dispatcher.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithBus publishes process, dispatcher and wait events on bus.
func WithBus(bus *event.Bus) Option {
	return func(m *Monitor) {
		m.bus = bus
	}
}

// Monitor runs one process at a time and matches its output.
type Monitor struct {
	cfg    Config
	name   string
	logger *logging.Logger
	bus    *event.Bus

	mu         sync.Mutex
	state      State
	cmd        *exec.Cmd
	pid        int
	src        *linesource.ReaderSource
	dispatcher *dispatch.Dispatcher
	listener   *dispatch.Listener
	tail       *linesource.LineBuffer
	exited     chan struct{}
	exitErr    error
	exitCode   int
}

// New validates cfg and returns a stopped Monitor.
func New(cfg Config, opts ...Option) (*Monitor, error) {
	if cfg.Command == "" {
		return nil, errors.NewValidationError("command must not be empty").
			WithField("command").
			WithCause(errors.ErrInvalidInput)
	}
	if cfg.GracefulStopTimeout <= 0 {
		cfg.GracefulStopTimeout = DefaultGracefulStopTimeout
	}
	if cfg.LineBufferSize <= 0 {
		cfg.LineBufferSize = DefaultLineBufferSize
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = linesource.DefaultMaxLineBytes
	}

	m := &Monitor{
		cfg:    cfg,
		name:   filepath.Base(cfg.Command),
		logger: logging.NopLogger(),
		tail:   linesource.NewLineBuffer(cfg.LineBufferSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithProcess(m.name).WithComponent("monitor")
	return m, nil
}

// Start launches the process and begins matching its output. Cancelling ctx
// stops the process as Stop does. A Monitor may be started again after its
// process has exited; each run gets a new dispatcher and listener.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateStarting || m.state == StateRunning {
		m.mu.Unlock()
		return errors.NewProcessError("cannot start", errors.ErrProcessAlreadyRunning).
			WithCommand(m.cfg.Command).
			WithPID(m.pid)
	}
	m.state = StateStarting
	m.mu.Unlock()

	cmd := exec.Command(m.cfg.Command, m.cfg.Args...)
	cmd.Dir = m.cfg.Dir
	cmd.Env = append(os.Environ(), m.cfg.Env...)

	output, err := m.startProcess(cmd)
	if err != nil {
		m.mu.Lock()
		m.state = StateStopped
		m.mu.Unlock()
		return errors.NewProcessError("failed to start", err).WithCommand(m.cfg.Command)
	}

	m.tail.Reset()
	src := linesource.NewReaderSource(m.name, output,
		linesource.WithMaxLineBytes(m.cfg.MaxLineBytes),
		linesource.WithRecorder(m.tail))
	d := dispatch.New(dispatch.WithLogger(m.logger), dispatch.WithBus(m.bus))
	listener, _ := dispatch.ListenTo(d)
	exited := make(chan struct{})
	runDone := make(chan struct{})

	m.mu.Lock()
	m.cmd = cmd
	m.pid = cmd.Process.Pid
	m.src = src
	m.dispatcher = d
	m.listener = listener
	m.exited = exited
	m.exitErr = nil
	m.exitCode = 0
	m.state = StateRunning
	m.mu.Unlock()

	m.logger.Info("process started", "pid", cmd.Process.Pid, "pty", m.cfg.UsePTY)
	m.bus.Publish(event.NewProcessStartedEvent(m.cfg.Command, cmd.Process.Pid))

	go func() {
		defer close(runDone)
		if err := d.Run(context.Background(), src); err != nil {
			m.logger.Warn("output reader ended with error", "error", err.Error())
		}
	}()
	go m.waitProcess(cmd, src, runDone, exited)
	go func() {
		select {
		case <-ctx.Done():
			_ = m.Stop()
		case <-exited:
		}
	}()

	return nil
}

// startProcess starts cmd with stdout and stderr merged into the returned
// reader. The process gets its own process group so signals reach its
// children too.
func (m *Monitor) startProcess(cmd *exec.Cmd) (io.Reader, error) {
	if m.cfg.UsePTY {
		// pty.Start puts the process in a new session, which is also a new
		// process group.
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, err
		}
		return ptyReader{ptmx}, nil
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err = cmd.Start()
	// The child holds its own copy of the write end.
	pw.Close()
	if err != nil {
		pr.Close()
		return nil, err
	}
	return pr, nil
}

// waitProcess reaps the process, lets the reader drain what it printed and
// records the exit.
func (m *Monitor) waitProcess(cmd *exec.Cmd, src *linesource.ReaderSource, runDone, exited chan struct{}) {
	waitErr := cmd.Wait()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	select {
	case <-runDone:
	case <-time.After(drainTimeout):
		m.logger.Debug("output still open after exit, closing it")
	}
	_ = src.Stop()
	<-runDone

	m.mu.Lock()
	m.state = StateExited
	m.exitErr = waitErr
	m.exitCode = code
	m.mu.Unlock()
	close(exited)

	m.logger.Info("process exited", "pid", cmd.Process.Pid, "exit_code", code)
	m.bus.Publish(event.NewProcessExitedEvent(m.cfg.Command, cmd.Process.Pid, code, waitErr))
}

// Stop sends SIGINT to the process group, waits up to GracefulStopTimeout,
// then sends SIGKILL. It returns once the process has been reaped and every
// pending wait is resolved.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return errors.NewProcessError("cannot stop", errors.ErrProcessNotRunning).
			WithCommand(m.cfg.Command)
	}
	pid := m.pid
	exited := m.exited
	d := m.dispatcher
	m.mu.Unlock()

	m.logger.Info("stopping process", "pid", pid)
	_ = syscall.Kill(-pid, syscall.SIGINT)

	select {
	case <-exited:
	case <-time.After(m.cfg.GracefulStopTimeout):
		m.logger.Warn("process ignored SIGINT, killing", "pid", pid)
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		select {
		case <-exited:
		case <-time.After(killWaitTimeout):
			d.Terminate()
			return errors.NewProcessError("process did not exit after SIGKILL", errors.ErrTimeout).
				WithCommand(m.cfg.Command).
				WithPID(pid).
				WithSeverity(errors.SeverityCritical)
		}
	}

	d.Terminate()
	return nil
}

// Wait blocks until the process has exited and its output is drained, and
// returns the error from waiting on it (nil for a zero exit status).
func (m *Monitor) Wait() error {
	m.mu.Lock()
	exited := m.exited
	m.mu.Unlock()

	if exited == nil {
		return errors.NewProcessError("cannot wait", errors.ErrProcessNotRunning).
			WithCommand(m.cfg.Command)
	}
	<-exited

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitErr
}

// Listener returns the listener for the current run, or nil before Start.
func (m *Monitor) Listener() *dispatch.Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener
}

// Dispatcher returns the dispatcher for the current run, or nil before Start.
func (m *Monitor) Dispatcher() *dispatch.Dispatcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatcher
}

// Tail returns up to n of the most recent output lines, oldest first.
// A negative n returns everything buffered.
func (m *Monitor) Tail(n int) []string {
	return m.tail.Last(n)
}

// IsRunning reports whether the process is running.
func (m *Monitor) IsRunning() bool {
	return m.State() == StateRunning
}

// State returns the lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PID returns the process ID of the current or last run, or 0 before Start.
func (m *Monitor) PID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pid
}

// ExitCode returns the exit code of the last run; -1 if it was killed by a
// signal or has not exited.
func (m *Monitor) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateExited {
		return -1
	}
	return m.exitCode
}

// Name returns the base name of the command.
func (m *Monitor) Name() string {
	return m.name
}

// ptyReader reports the EIO a Linux pty master returns after the child
// exits as a normal end of stream.
type ptyReader struct {
	f *os.File
}

func (r ptyReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err != nil && errors.Is(err, syscall.EIO) {
		return n, io.EOF
	}
	return n, err
}

func (r ptyReader) Close() error {
	return r.f.Close()
}
