// Package unitfile renders the systemd service unit that keeps the
// supervisor itself running. Policy fields are fixed: restart always after a
// short pause, no start rate limiting, and a raised file descriptor limit
// for the worker's many parallel connections. Only the identity fields
// (user, working directory, entry point) come from the environment.
package unitfile

import (
	"fmt"
	"io"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"
)

// Fixed policy defaults.
const (
	DefaultRestartSec  = 10
	DefaultLimitNOFILE = 131072
)

// Spec holds the fields of the generated unit.
type Spec struct {
	// Name is the unit file name, e.g. "overseer.service".
	Name string

	Description string

	// User is the account the service runs as. Empty omits the directive
	// (systemd then runs it as root).
	User string

	// WorkingDir is the worker project directory at install time.
	WorkingDir string

	// ExecStart is the full start command, typically the installed
	// overseer binary plus "run".
	ExecStart string

	// RestartSec and LimitNOFILE fall back to the fixed defaults when
	// zero.
	RestartSec  int
	LimitNOFILE int
}

// Validate rejects specs that would render an unusable unit.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("unit name is empty")
	}
	if !strings.HasSuffix(s.Name, ".service") {
		return fmt.Errorf("unit name %q must end in .service", s.Name)
	}
	if s.ExecStart == "" {
		return fmt.Errorf("unit %s has no ExecStart", s.Name)
	}
	return nil
}

// Render produces the unit file bytes. Rendering is deterministic: equal
// specs always produce identical bytes, so reinstalling is idempotent.
func Render(s Spec) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.Description == "" {
		s.Description = "Process supervisor"
	}
	if s.RestartSec <= 0 {
		s.RestartSec = DefaultRestartSec
	}
	if s.LimitNOFILE <= 0 {
		s.LimitNOFILE = DefaultLimitNOFILE
	}

	opts := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", s.Description),
		unit.NewUnitOption("Unit", "After", "network.target"),
		// No rate limit on restart attempts; the service must come back
		// no matter how often the worker dies.
		unit.NewUnitOption("Unit", "StartLimitIntervalSec", "0"),
		unit.NewUnitOption("Service", "Type", "simple"),
	}
	if s.User != "" {
		opts = append(opts, unit.NewUnitOption("Service", "User", s.User))
	}
	if s.WorkingDir != "" {
		opts = append(opts, unit.NewUnitOption("Service", "WorkingDirectory", s.WorkingDir))
	}
	opts = append(opts,
		unit.NewUnitOption("Service", "ExecStart", s.ExecStart),
		unit.NewUnitOption("Service", "Restart", "always"),
		unit.NewUnitOption("Service", "RestartSec", fmt.Sprintf("%d", s.RestartSec)),
		unit.NewUnitOption("Service", "LimitNOFILE", fmt.Sprintf("%d", s.LimitNOFILE)),
		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	)

	data, err := io.ReadAll(unit.Serialize(opts))
	if err != nil {
		return nil, fmt.Errorf("serializing unit: %w", err)
	}
	return data, nil
}
