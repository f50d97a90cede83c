// Package sweep terminates stale worker and helper processes before the
// supervisor launches a fresh worker. It replaces the usual pkill/killall
// incantations with a process-table scan, so patterns match anywhere in the
// command line.
package sweep

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/shirou/gopsutil/process"
)

// Proc is one candidate process from the process table.
type Proc interface {
	Pid() int32
	Cmdline() (string, error)
	Terminate() error
	Kill() error
}

// Lister enumerates the process table.
type Lister interface {
	Processes(ctx context.Context) ([]Proc, error)
}

// NewLister returns the real process-table lister.
func NewLister() Lister {
	return psutilLister{}
}

type psutilLister struct{}

func (psutilLister) Processes(ctx context.Context) ([]Proc, error) {
	_ = ctx
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]Proc, len(procs))
	for i, p := range procs {
		out[i] = psutilProc{p}
	}
	return out, nil
}

type psutilProc struct {
	p *process.Process
}

func (p psutilProc) Pid() int32               { return p.p.Pid }
func (p psutilProc) Cmdline() (string, error) { return p.p.Cmdline() }
func (p psutilProc) Terminate() error         { return p.p.Terminate() }
func (p psutilProc) Kill() error              { return p.p.Kill() }

// Sweeper terminates processes whose command line matches any pattern.
type Sweeper struct {
	Lister   Lister
	Patterns []string

	// Grace is how long terminated processes get to exit before SIGKILL.
	Grace time.Duration

	Log *slog.Logger
}

// Run performs one sweep: SIGTERM every match, wait out the grace period,
// SIGKILL survivors. The sweep never signals the supervisor's own process.
// It is best effort throughout; per-process errors are logged and skipped.
// Returns the number of processes signalled.
func (s *Sweeper) Run(ctx context.Context) int {
	matched := s.collect(ctx)
	if len(matched) == 0 {
		return 0
	}

	for _, p := range matched {
		if err := p.Terminate(); err != nil {
			s.log().Debug("terminate failed", "pid", p.Pid(), "error", err)
		} else {
			s.log().Info("terminated stale process", "pid", p.Pid())
		}
	}

	if err := linger.Sleep(ctx, s.Grace); err != nil {
		return len(matched)
	}

	// Anything still matching after the grace period gets SIGKILL.
	for _, p := range s.collect(ctx) {
		if err := p.Kill(); err != nil {
			s.log().Debug("kill failed", "pid", p.Pid(), "error", err)
		} else {
			s.log().Warn("killed stubborn process", "pid", p.Pid())
		}
	}

	return len(matched)
}

// collect returns the currently matching processes, excluding our own PID.
func (s *Sweeper) collect(ctx context.Context) []Proc {
	procs, err := s.Lister.Processes(ctx)
	if err != nil {
		s.log().Warn("listing processes", "error", err)
		return nil
	}

	self := int32(os.Getpid())

	var matched []Proc
	for _, p := range procs {
		if p.Pid() == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil {
			continue // gone or unreadable
		}
		if s.matches(cmdline) {
			matched = append(matched, p)
		}
	}
	return matched
}

func (s *Sweeper) matches(cmdline string) bool {
	if cmdline == "" {
		return false
	}
	for _, pat := range s.Patterns {
		if strings.Contains(cmdline, pat) {
			return true
		}
	}
	return false
}

func (s *Sweeper) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
