package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// killTimeout is how long a cancelled worker gets to honour SIGTERM before
// its process group is SIGKILLed.
const killTimeout = 10 * time.Second

// NewRunner returns the Runner backed by real OS processes.
func NewRunner() Runner {
	return execRunner{}
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, spec WorkerSpec) (Exit, error) {
	if len(spec.Command) == 0 {
		err := errors.New("empty worker command")
		return Exit{StartErr: err}, err
	}

	cmd := osexec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = mergedEnv(spec.Env)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	// Own process group so the whole worker tree can be signalled at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return Exit{StartErr: err}, fmt.Errorf("starting worker: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return classify(err), waitErr(err)
	case <-ctx.Done():
	}

	// Cancelled: stop the process group, escalating if it lingers.
	signalGroup(cmd, syscall.SIGTERM)
	select {
	case err := <-done:
		return classify(err), ctx.Err()
	case <-time.After(killTimeout):
		signalGroup(cmd, syscall.SIGKILL)
		err := <-done
		return classify(err), ctx.Err()
	}
}

func signalGroup(cmd *osexec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		_ = cmd.Process.Signal(sig)
	}
}

// classify maps a Wait error to an Exit. A Wait failure that is not an
// ExitError means the worker ran but its status is unknown; that counts as
// a crash, not a failure to start.
func classify(err error) Exit {
	if err == nil {
		return Exit{}
	}
	var ee *osexec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return Exit{Signal: ws.Signal()}
		}
		return Exit{Code: ee.ExitCode()}
	}
	return Exit{Code: -1}
}

// waitErr surfaces Wait failures that carry no exit status of their own.
func waitErr(err error) error {
	if err == nil {
		return nil
	}
	var ee *osexec.ExitError
	if errors.As(err, &ee) {
		return nil
	}
	return fmt.Errorf("waiting for worker: %w", err)
}

// VenvEnv returns the environment overrides equivalent to sourcing the
// virtualenv's activate script: VIRTUAL_ENV set and its bin directory first
// on PATH. Empty dir means no overrides.
func VenvEnv(dir string) map[string]string {
	if dir == "" {
		return nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return map[string]string{
		"VIRTUAL_ENV": abs,
		"PATH":        filepath.Join(abs, "bin") + string(os.PathListSeparator) + os.Getenv("PATH"),
	}
}

// mergedEnv overlays overrides onto the inherited environment. A nil or
// empty overlay inherits everything untouched.
func mergedEnv(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return nil
	}

	env := os.Environ()
	out := env[:0:0]
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
