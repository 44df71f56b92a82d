package monitor

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/logwait/internal/errors"
	"github.com/Iron-Ham/logwait/internal/event"
	"github.com/Iron-Ham/logwait/internal/predicate"
	"github.com/Iron-Ham/logwait/internal/result"
	"github.com/Iron-Ham/logwait/internal/testutil"
)

func startScript(t *testing.T, body string, mutate func(*Config)) *Monitor {
	t.Helper()
	testutil.SkipOnWindows(t)

	cfg := DefaultConfig()
	cfg.Command = testutil.WriteScript(t, body)
	if mutate != nil {
		mutate(&cfg)
	}

	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		if m.IsRunning() {
			_ = m.Stop()
		}
	})
	return m
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("New(empty) error = %v, want ErrInvalidInput", err)
	}

	m, err := New(Config{Command: "/bin/echo"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if m.cfg.GracefulStopTimeout != DefaultGracefulStopTimeout || m.cfg.LineBufferSize != DefaultLineBufferSize {
		t.Errorf("defaults not applied: %+v", m.cfg)
	}
	if m.Name() != "echo" {
		t.Errorf("Name() = %q, want echo", m.Name())
	}
	if m.Listener() != nil || m.Dispatcher() != nil || m.PID() != 0 {
		t.Error("nothing should be running before Start")
	}
	if m.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", m.State())
	}
}

func TestObservesProcessOutput(t *testing.T) {
	m := startScript(t, `
sleep 0.2
echo "info: block sealed at height 4"
echo "warn: on stderr" >&2
sleep 0.3
`, nil)

	l := m.Listener()
	sealed, err := l.Submit(predicate.MustLeaf("block sealed"), 5*time.Second)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	stderr, _ := l.Submit(predicate.MustLeaf("on stderr"), 5*time.Second)
	never, _ := l.Submit(predicate.MustLeaf("never printed"), time.Minute)

	testutil.RequireStatus(t, sealed, result.StatusObserved, 3*time.Second)
	testutil.RequireStatus(t, stderr, result.StatusObserved, 3*time.Second)

	// The process exits on its own; the outstanding wait is drained.
	testutil.RequireStatus(t, never, result.StatusUnobserved, 3*time.Second)

	if err := m.Wait(); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if m.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d, want 0", m.ExitCode())
	}
	if m.State() != StateExited {
		t.Errorf("State() = %v, want exited", m.State())
	}

	tail := strings.Join(m.Tail(-1), "\n")
	if !strings.Contains(tail, "block sealed") || !strings.Contains(tail, "on stderr") {
		t.Errorf("Tail() = %q", tail)
	}

	late, _ := l.Submit(predicate.MustLeaf("anything"), time.Second)
	o := testutil.RequireStatus(t, late, result.StatusRejected, time.Second)
	if cause, _ := o.Cause(); cause != result.CauseNoActiveProcess {
		t.Errorf("cause = %q", cause)
	}
}

func TestNonZeroExit(t *testing.T) {
	m := startScript(t, `echo failing; exit 3`, nil)

	err := m.Wait()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Wait() error = %v, want *exec.ExitError", err)
	}
	if m.ExitCode() != 3 {
		t.Errorf("ExitCode() = %d, want 3", m.ExitCode())
	}
}

func TestStopGraceful(t *testing.T) {
	m := startScript(t, `
echo ready
while true; do sleep 0.05; done
`, nil)

	l := m.Listener()
	ready, _ := l.Submit(predicate.MustLeaf("ready"), 3*time.Second)
	testutil.RequireStatus(t, ready, result.StatusObserved, 3*time.Second)

	pending, _ := l.Submit(predicate.MustLeaf("never"), time.Minute)

	start := time.Now()
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("Stop took %v", time.Since(start))
	}

	testutil.RequireStatus(t, pending, result.StatusUnobserved, time.Second)
	if m.IsRunning() {
		t.Error("process should not be running after Stop")
	}

	err := m.Stop()
	if !errors.Is(err, errors.ErrProcessNotRunning) {
		t.Errorf("second Stop() error = %v, want ErrProcessNotRunning", err)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	m := startScript(t, `
trap '' INT
echo stubborn
while true; do sleep 0.05; done
`, func(c *Config) { c.GracefulStopTimeout = 100 * time.Millisecond })

	ready, _ := m.Listener().Submit(predicate.MustLeaf("stubborn"), 3*time.Second)
	testutil.RequireStatus(t, ready, result.StatusObserved, 3*time.Second)

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.ExitCode() != -1 {
		t.Errorf("ExitCode() = %d, want -1 for a killed process", m.ExitCode())
	}
}

func TestStartTwice(t *testing.T) {
	m := startScript(t, `sleep 5`, nil)

	err := m.Start(context.Background())
	if !errors.Is(err, errors.ErrProcessAlreadyRunning) {
		t.Errorf("Start() error = %v, want ErrProcessAlreadyRunning", err)
	}
	var procErr *errors.ProcessError
	if !errors.As(err, &procErr) || procErr.PID != m.PID() {
		t.Errorf("expected ProcessError with pid %d, got %v", m.PID(), err)
	}
}

func TestRestartAfterExit(t *testing.T) {
	m := startScript(t, `echo run`, nil)
	first := m.Dispatcher()
	_ = m.Wait()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if m.Dispatcher() == first {
		t.Error("each run should get a new dispatcher")
	}
	_ = m.Wait()
}

func TestStartFailure(t *testing.T) {
	m, err := New(Config{Command: "/nonexistent/logwait-binary"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = m.Start(context.Background())
	var procErr *errors.ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("Start() error = %v, want *ProcessError", err)
	}
	if m.State() != StateStopped {
		t.Errorf("State() = %v, want stopped after a failed start", m.State())
	}
	if err := m.Wait(); !errors.Is(err, errors.ErrProcessNotRunning) {
		t.Errorf("Wait() before a successful start = %v", err)
	}
}

func TestContextCancelStops(t *testing.T) {
	testutil.SkipOnWindows(t)

	ctx, cancel := context.WithCancel(context.Background())
	m, err := New(Config{Command: testutil.WriteScript(t, "while true; do sleep 0.05; done")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	pending, _ := m.Listener().Submit(predicate.MustLeaf("never"), time.Minute)
	cancel()

	testutil.RequireStatus(t, pending, result.StatusUnobserved, 3*time.Second)
	_ = m.Wait()
}

func TestPTY(t *testing.T) {
	testutil.SkipOnWindows(t)

	cfg := DefaultConfig()
	cfg.Command = testutil.WriteScript(t, `sleep 0.1; printf 'hello from a terminal\n'; sleep 0.2`)
	cfg.UsePTY = true

	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Skipf("pty not available: %v", err)
	}
	defer func() { _ = m.Wait() }()

	f, _ := m.Listener().Submit(predicate.MustLeaf("hello from a terminal"), 3*time.Second)
	testutil.RequireStatus(t, f, result.StatusObserved, 3*time.Second)
	_ = m.Wait()

	for _, line := range m.Tail(-1) {
		if strings.HasSuffix(line, "\r") {
			t.Errorf("carriage return not stripped: %q", line)
		}
	}
}

func TestProcessEvents(t *testing.T) {
	testutil.SkipOnWindows(t)

	bus := event.NewBus(nil)
	got := make(chan string, 16)
	bus.Subscribe(event.TypeProcessStarted, func(e event.Event) { got <- e.EventType() })
	bus.Subscribe(event.TypeProcessExited, func(e event.Event) { got <- e.EventType() })

	m, err := New(Config{Command: testutil.WriteScript(t, "echo hi")}, WithBus(bus))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = m.Wait()

	for _, want := range []string{event.TypeProcessStarted, event.TypeProcessExited} {
		select {
		case typ := <-got:
			if typ != want {
				t.Errorf("event = %s, want %s", typ, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing %s event", want)
		}
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateStopped:  "stopped",
		StateStarting: "starting",
		StateRunning:  "running",
		StateExited:   "exited",
		State(42):     "unknown",
	} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
