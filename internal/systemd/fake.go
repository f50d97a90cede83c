package systemd

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Manager for unit tests. It records every call in
// order and serves unit state from a map.
type Fake struct {
	mu    sync.Mutex
	units map[string]*Unit

	// Calls holds one entry per operation, e.g. "reload",
	// "enable overseer.service".
	Calls []string

	// Fail maps an operation verb ("reload", "enable", "start", "stop",
	// "disable", "reset-failed") to an error to inject.
	Fail map[string]error
}

var _ Manager = (*Fake)(nil)

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{units: make(map[string]*Unit)}
}

// AddUnit seeds the fake with a unit.
func (f *Fake) AddUnit(u Unit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.units[u.Name] = &u
}

// UnitState reports the fake's view of a unit's state.
func (f *Fake) UnitState(name string) UnitState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.units[name]; ok {
		return u.State
	}
	return ""
}

func (f *Fake) record(verb string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := verb
	for _, a := range args {
		call += " " + a
	}
	f.Calls = append(f.Calls, call)
	if err, ok := f.Fail[verb]; ok {
		return err
	}
	return nil
}

func (f *Fake) GetUnit(ctx context.Context, name string) (*Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[name]
	if !ok {
		return nil, fmt.Errorf("unit %s not loaded", name)
	}
	copied := *u
	return &copied, nil
}

func (f *Fake) StartUnit(ctx context.Context, name string) error {
	if err := f.record("start", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[name]
	if !ok {
		u = &Unit{Name: name}
		f.units[name] = u
	}
	u.State = UnitStateActive
	return nil
}

func (f *Fake) StopUnit(ctx context.Context, name string) error {
	if err := f.record("stop", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.units[name]; ok {
		u.State = UnitStateInactive
	}
	return nil
}

func (f *Fake) Reload(ctx context.Context) error {
	return f.record("reload")
}

func (f *Fake) EnableUnits(ctx context.Context, units []string) error {
	return f.record("enable", units...)
}

func (f *Fake) DisableUnits(ctx context.Context, units []string) error {
	return f.record("disable", units...)
}

func (f *Fake) ResetFailed(ctx context.Context, name string) error {
	if err := f.record("reset-failed", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.units[name]; ok && u.State == UnitStateFailed {
		u.State = UnitStateInactive
	}
	return nil
}

func (f *Fake) Close() error {
	return f.record("close")
}
