// Package testutil provides testing utilities for logwait tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/Iron-Ham/logwait/internal/result"
)

// AwaitOutcome waits up to within for f to resolve and fails the test if it
// does not.
func AwaitOutcome(t *testing.T, f *result.Future, within time.Duration) result.Outcome {
	t.Helper()

	o, err := f.GetTimeout(within)
	if err != nil {
		t.Fatalf("future not resolved within %v: %v", within, err)
	}
	return o
}

// RequireStatus waits for f like AwaitOutcome and fails the test unless the
// outcome has the wanted status.
func RequireStatus(t *testing.T, f *result.Future, want result.Status, within time.Duration) result.Outcome {
	t.Helper()

	o := AwaitOutcome(t, f, within)
	if o.Status() != want {
		t.Fatalf("outcome = %v, want %v", o, want)
	}
	return o
}

// RequirePending fails the test if f is already resolved.
func RequirePending(t *testing.T, f *result.Future) {
	t.Helper()

	if o, ok := f.Peek(); ok {
		t.Fatalf("future already resolved: %v", o)
	}
}

// WriteScript writes an executable sh script with the given body to a
// temporary directory and returns its path.
func WriteScript(t *testing.T, body string) string {
	t.Helper()
	SkipIfNoCommand(t, "sh")

	path := filepath.Join(t.TempDir(), "script.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

// SkipIfNoCommand skips the test if name is not in PATH.
func SkipIfNoCommand(t *testing.T, name string) {
	t.Helper()

	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not found in PATH, skipping test", name)
	}
}

// SkipOnWindows skips tests that rely on POSIX signals or shells.
func SkipOnWindows(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("not supported on windows")
	}
}
