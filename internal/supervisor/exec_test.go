//go:build unix

package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestExecRunnerCleanExit(t *testing.T) {
	r := NewRunner()

	exit, err := r.Run(context.Background(), WorkerSpec{
		Command: []string{"/bin/sh", "-c", "exit 0"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exit.Reason() != ReasonClean {
		t.Fatalf("expected clean exit, got %q (%+v)", exit.Reason(), exit)
	}
}

func TestExecRunnerCrashExit(t *testing.T) {
	r := NewRunner()

	exit, err := r.Run(context.Background(), WorkerSpec{
		Command: []string{"/bin/sh", "-c", "exit 7"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exit.Reason() != ReasonCrash || exit.Code != 7 {
		t.Fatalf("expected crash with code 7, got %+v", exit)
	}
}

func TestExecRunnerSignalExit(t *testing.T) {
	r := NewRunner()

	exit, err := r.Run(context.Background(), WorkerSpec{
		Command: []string{"/bin/sh", "-c", "kill -TERM $$"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exit.Reason() != ReasonSignal || exit.Signal != syscall.SIGTERM {
		t.Fatalf("expected SIGTERM death, got %+v", exit)
	}
}

func TestExecRunnerStartFailure(t *testing.T) {
	r := NewRunner()

	exit, err := r.Run(context.Background(), WorkerSpec{
		Command: []string{filepath.Join(t.TempDir(), "missing-binary")},
	})
	if err == nil {
		t.Fatalf("expected error for missing binary")
	}
	if exit.Reason() != ReasonStartFailure {
		t.Fatalf("expected start failure, got %q", exit.Reason())
	}
}

func TestExecRunnerCancellation(t *testing.T) {
	r := NewRunner()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	exit, err := r.Run(ctx, WorkerSpec{
		Command: []string{"/bin/sh", "-c", "sleep 60"},
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if exit.Reason() != ReasonSignal {
		t.Fatalf("expected signal death after cancellation, got %+v", exit)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("cancelled worker took too long to die")
	}
}

func TestExecRunnerWorkingDirAndEnv(t *testing.T) {
	r := NewRunner()

	dir := t.TempDir()
	out := filepath.Join(dir, "out")

	exit, err := r.Run(context.Background(), WorkerSpec{
		Command: []string{"/bin/sh", "-c", `printf '%s %s' "$PWD" "$MARKER" > out`},
		Dir:     dir,
		Env:     map[string]string{"MARKER": "hello"},
	})
	if err != nil || exit.Reason() != ReasonClean {
		t.Fatalf("Run: exit=%+v err=%v", exit, err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	got := string(data)
	if !strings.HasPrefix(got, dir) || !strings.HasSuffix(got, "hello") {
		t.Fatalf("unexpected worker output %q", got)
	}
}

func TestClassifyWaitFailure(t *testing.T) {
	// A Wait error with no exit status means the worker ran but its status
	// was lost. That must read as a crash, not a start failure.
	err := errors.New("waitid: no child processes")

	exit := classify(err)
	if exit.Reason() != ReasonCrash {
		t.Fatalf("expected crash, got %q (%+v)", exit.Reason(), exit)
	}
	if exit.StartErr != nil {
		t.Fatalf("StartErr must stay nil for a worker that started: %v", exit.StartErr)
	}

	if werr := waitErr(err); werr == nil || !errors.Is(werr, err) {
		t.Fatalf("expected wrapped wait error, got %v", werr)
	}
	if waitErr(nil) != nil {
		t.Fatalf("nil wait error must stay nil")
	}
}

func TestVenvEnv(t *testing.T) {
	env := VenvEnv("/opt/bot/venv")
	if env["VIRTUAL_ENV"] != "/opt/bot/venv" {
		t.Fatalf("unexpected VIRTUAL_ENV: %q", env["VIRTUAL_ENV"])
	}
	if !strings.HasPrefix(env["PATH"], "/opt/bot/venv/bin") {
		t.Fatalf("venv bin dir should lead PATH, got %q", env["PATH"])
	}

	if VenvEnv("") != nil {
		t.Fatalf("empty venv dir should disable activation")
	}
}
