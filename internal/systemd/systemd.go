// Package systemd talks to the systemd manager over D-Bus. It carries just
// the operations the installer and status commands need; the Fake in this
// package stands in for the real manager in tests.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// UnitState is systemd's ActiveState for a unit.
type UnitState string

const (
	UnitStateActive     UnitState = "active"
	UnitStateActivating UnitState = "activating"
	UnitStateInactive   UnitState = "inactive"
	UnitStateFailed     UnitState = "failed"
)

// Unit is a snapshot of a service unit's properties.
type Unit struct {
	Name        string
	State       UnitState
	Description string
	Started     time.Time
	MainPID     uint32
	WorkingDir  string
	ExitStatus  int32
}

// Manager provides operations on systemd units.
type Manager interface {
	// GetUnit retrieves a single unit's properties.
	GetUnit(ctx context.Context, name string) (*Unit, error)

	// StartUnit starts a unit, blocking until the job completes.
	StartUnit(ctx context.Context, name string) error

	// StopUnit gracefully stops a unit, blocking until complete.
	StopUnit(ctx context.Context, name string) error

	// Reload tells systemd to reload its configuration (daemon-reload).
	Reload(ctx context.Context) error

	// EnableUnits enables unit files so they start on boot.
	EnableUnits(ctx context.Context, units []string) error

	// DisableUnits disables unit files.
	DisableUnits(ctx context.Context, units []string) error

	// ResetFailed clears a unit's failed state so it can start again.
	ResetFailed(ctx context.Context, name string) error

	// Close releases the D-Bus connection.
	Close() error
}

// managerConn implements Manager using go-systemd/dbus.
type managerConn struct {
	conn *dbus.Conn
}

// ConnectSystem connects to the system instance of systemd. Installing
// system units requires root; the connection itself does not.
func ConnectSystem(ctx context.Context) (Manager, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to system systemd: %w", err)
	}
	return &managerConn{conn: conn}, nil
}

func (m *managerConn) Close() error {
	m.conn.Close()
	return nil
}

// GetUnit retrieves a single unit's properties.
func (m *managerConn) GetUnit(ctx context.Context, name string) (*Unit, error) {
	unitProps, err := m.conn.GetUnitPropertiesContext(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("getting unit properties: %w", err)
	}

	u := &Unit{Name: name}

	if state, ok := unitProps["ActiveState"].(string); ok {
		u.State = UnitState(state)
	}
	if desc, ok := unitProps["Description"].(string); ok {
		u.Description = desc
	}
	if ts, ok := unitProps["ActiveEnterTimestamp"].(uint64); ok && ts > 0 {
		u.Started = time.Unix(int64(ts/1000000), int64((ts%1000000)*1000))
	}

	// Service-specific properties fail for non-service units; tolerate that.
	serviceProps, err := m.conn.GetUnitTypePropertiesContext(ctx, name, "Service")
	if err == nil {
		if pid, ok := serviceProps["MainPID"].(uint32); ok {
			u.MainPID = pid
		}
		if wd, ok := serviceProps["WorkingDirectory"].(string); ok {
			u.WorkingDir = wd
		}
		if es, ok := serviceProps["ExecMainStatus"].(int32); ok {
			u.ExitStatus = es
		}
	}

	return u, nil
}

// StartUnit starts a unit, blocking until the job completes.
func (m *managerConn) StartUnit(ctx context.Context, name string) error {
	resultChan := make(chan string, 1)
	_, err := m.conn.StartUnitContext(ctx, name, "replace", resultChan)
	if err != nil {
		return fmt.Errorf("starting unit: %w", err)
	}
	return awaitJob(ctx, "start", resultChan)
}

// StopUnit gracefully stops a unit, blocking until complete.
func (m *managerConn) StopUnit(ctx context.Context, name string) error {
	resultChan := make(chan string, 1)
	_, err := m.conn.StopUnitContext(ctx, name, "replace", resultChan)
	if err != nil {
		return fmt.Errorf("stopping unit: %w", err)
	}
	return awaitJob(ctx, "stop", resultChan)
}

func awaitJob(ctx context.Context, verb string, resultChan <-chan string) error {
	select {
	case result := <-resultChan:
		if result != "done" {
			return fmt.Errorf("%s job failed: %s", verb, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload tells systemd to reload its configuration (daemon-reload).
func (m *managerConn) Reload(ctx context.Context) error {
	return m.conn.ReloadContext(ctx)
}

// EnableUnits enables unit files so they start on boot.
func (m *managerConn) EnableUnits(ctx context.Context, units []string) error {
	_, _, err := m.conn.EnableUnitFilesContext(ctx, units, false, true)
	if err != nil {
		return fmt.Errorf("enabling units: %w", err)
	}
	return nil
}

// DisableUnits disables unit files.
func (m *managerConn) DisableUnits(ctx context.Context, units []string) error {
	_, err := m.conn.DisableUnitFilesContext(ctx, units, false)
	if err != nil {
		return fmt.Errorf("disabling units: %w", err)
	}
	return nil
}

// ResetFailed clears a unit's failed state so it can start again.
func (m *managerConn) ResetFailed(ctx context.Context, name string) error {
	if err := m.conn.ResetFailedUnitContext(ctx, name); err != nil {
		return fmt.Errorf("resetting failed unit: %w", err)
	}
	return nil
}
