// Package supervisor implements the relaunch loop: start the worker, block
// until it exits, wait out the relaunch delay, start it again. No retry
// limit; the loop ends only when the supervisor itself is told to stop.
package supervisor

import (
	"context"
	"log/slog"
	"strings"
	"syscall"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
)

// DefaultDelay is the pause between a worker exit and the next launch.
const DefaultDelay = 5 * time.Second

// WorkerSpec describes the process to supervise.
type WorkerSpec struct {
	// Command is the worker's argv.
	Command []string

	// Dir is the worker's working directory. Empty inherits ours.
	Dir string

	// Env holds extra environment variables, overriding inherited ones.
	Env map[string]string
}

// Reason classifies how a worker run ended.
type Reason string

const (
	ReasonClean        Reason = "clean"
	ReasonCrash        Reason = "crash"
	ReasonSignal       Reason = "signal"
	ReasonStartFailure Reason = "start-failure"
)

// Exit describes a finished worker run.
type Exit struct {
	// Code is the exit status when the worker exited on its own.
	Code int

	// Signal is set when the worker was terminated by a signal.
	Signal syscall.Signal

	// StartErr is set when the worker never started.
	StartErr error
}

// Reason classifies the exit.
func (e Exit) Reason() Reason {
	switch {
	case e.StartErr != nil:
		return ReasonStartFailure
	case e.Signal != 0:
		return ReasonSignal
	case e.Code != 0:
		return ReasonCrash
	default:
		return ReasonClean
	}
}

// Runner launches the worker and blocks until it exits.
type Runner interface {
	Run(ctx context.Context, spec WorkerSpec) (Exit, error)
}

// DelayStrategy returns the relaunch delay policy. Constant delay by
// default; the exponential mode doubles from delay up to max.
func DelayStrategy(delay, max time.Duration, exponential bool) backoff.Strategy {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if exponential {
		return backoff.WithTransforms(
			backoff.Exponential(delay),
			linger.Limiter(delay, max),
		)
	}
	return backoff.Constant(delay)
}

// Supervisor runs the relaunch loop.
type Supervisor struct {
	Spec   WorkerSpec
	Runner Runner

	// Strategy decides the delay before each relaunch. Nil means the
	// constant DefaultDelay.
	Strategy backoff.Strategy

	// StableAfter resets the backoff counter once a run stays up this
	// long. Zero disables the reset.
	StableAfter time.Duration

	Log *slog.Logger
}

// Run supervises the worker until ctx is cancelled. Every exit, whatever its
// reason, leads to a relaunch after the strategy's delay.
func (s *Supervisor) Run(ctx context.Context) error {
	counter := backoff.Counter{Strategy: s.strategy()}

	notifyReady()
	defer notifyStopping()
	stopWatchdog := startWatchdog(ctx)
	defer stopWatchdog()

	command := strings.Join(s.Spec.Command, " ")

	for attempt := 1; ; attempt++ {
		s.log().Info("launching worker", "command", command, "attempt", attempt)

		started := time.Now()
		exit, runErr := s.Runner.Run(ctx, s.Spec)
		if ctx.Err() != nil {
			s.log().Info("supervisor stopping", "uptime", time.Since(started).Round(time.Millisecond))
			return ctx.Err()
		}

		uptime := time.Since(started)
		s.logExit(exit, uptime, runErr)

		if s.StableAfter > 0 && uptime >= s.StableAfter {
			counter.Reset()
		}

		if err := counter.Sleep(ctx, nil); err != nil {
			return err
		}
	}
}

func (s *Supervisor) logExit(exit Exit, uptime time.Duration, runErr error) {
	args := []any{
		"reason", string(exit.Reason()),
		"uptime", uptime.Round(time.Millisecond),
	}
	switch exit.Reason() {
	case ReasonSignal:
		args = append(args, "signal", exit.Signal.String())
	case ReasonStartFailure:
		args = append(args, "error", exit.StartErr)
	default:
		args = append(args, "exit_code", exit.Code)
	}
	if runErr != nil {
		args = append(args, "run_error", runErr)
	}
	s.log().Warn("worker exited", args...)
}

func (s *Supervisor) strategy() backoff.Strategy {
	if s.Strategy != nil {
		return s.Strategy
	}
	return backoff.Constant(DefaultDelay)
}

func (s *Supervisor) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
