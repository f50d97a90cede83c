// Package installer registers the supervisor as a systemd service: it
// writes the unit file, then asks systemd to reload, enable and start it.
// The steps run strictly in sequence with no rollback; a partial failure is
// reported as the failing step's error and leaves earlier steps in place.
package installer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/encodekit/overseer/internal/systemd"
	"github.com/encodekit/overseer/internal/unitfile"
)

// DefaultUnitDir is where system units live. Writing there requires root.
const DefaultUnitDir = "/etc/systemd/system"

// Installer installs and removes the supervisor service.
type Installer struct {
	Manager systemd.Manager

	// UnitDir overrides DefaultUnitDir (used by tests and user installs).
	UnitDir string

	Log *slog.Logger
}

// Install renders the unit, writes it to the unit directory, then performs
// daemon-reload, enable, start. Rewriting an unchanged unit is skipped, so
// reinstalling is idempotent apart from the systemd calls.
func (i *Installer) Install(ctx context.Context, spec unitfile.Spec) error {
	data, err := unitfile.Render(spec)
	if err != nil {
		return err
	}

	path := filepath.Join(i.unitDir(), spec.Name)
	if prev, err := os.ReadFile(path); err == nil && bytes.Equal(prev, data) {
		i.log().Info("unit file unchanged", "path", path)
	} else {
		if err := os.MkdirAll(i.unitDir(), 0o755); err != nil {
			return fmt.Errorf("creating unit dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing unit file: %w", err)
		}
		i.log().Info("wrote unit file", "path", path)
	}

	if err := i.Manager.Reload(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	if err := i.Manager.EnableUnits(ctx, []string{spec.Name}); err != nil {
		return fmt.Errorf("enabling %s: %w", spec.Name, err)
	}
	if err := i.Manager.StartUnit(ctx, spec.Name); err != nil {
		return fmt.Errorf("starting %s: %w", spec.Name, err)
	}

	i.log().Info("service installed", "unit", spec.Name)
	return nil
}

// Uninstall stops and disables the unit, removes its file, and reloads
// systemd. Stop and disable are best effort so a half-installed service can
// still be removed.
func (i *Installer) Uninstall(ctx context.Context, name string) error {
	if err := i.Manager.StopUnit(ctx, name); err != nil {
		i.log().Warn("stopping unit", "unit", name, "error", err)
	}
	if err := i.Manager.DisableUnits(ctx, []string{name}); err != nil {
		i.log().Warn("disabling unit", "unit", name, "error", err)
	}

	path := filepath.Join(i.unitDir(), name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit file: %w", err)
	}

	if err := i.Manager.Reload(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}

	i.log().Info("service removed", "unit", name)
	return nil
}

// Status returns the unit's current state.
func (i *Installer) Status(ctx context.Context, name string) (*systemd.Unit, error) {
	return i.Manager.GetUnit(ctx, name)
}

func (i *Installer) unitDir() string {
	if i.UnitDir != "" {
		return i.UnitDir
	}
	return DefaultUnitDir
}

func (i *Installer) log() *slog.Logger {
	if i.Log != nil {
		return i.Log
	}
	return slog.Default()
}
