package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	c := Default()

	if got := c.Worker.Command; len(got) != 2 || got[0] != "python3" || got[1] != "main.py" {
		t.Fatalf("unexpected default worker command: %v", got)
	}
	if c.Restart.Delay != 5*time.Second {
		t.Fatalf("expected 5s restart delay, got %s", c.Restart.Delay)
	}
	if c.Restart.Exponential {
		t.Fatalf("exponential backoff should be off by default")
	}
	if c.Unit.RestartSec != 10 {
		t.Fatalf("expected RestartSec 10, got %d", c.Unit.RestartSec)
	}
	if c.Unit.LimitNOFILE != 131072 {
		t.Fatalf("expected LimitNOFILE 131072, got %d", c.Unit.LimitNOFILE)
	}
	if len(c.Sweep.Patterns) != 2 {
		t.Fatalf("expected 2 default sweep patterns, got %v", c.Sweep.Patterns)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overseer.yaml")

	data := `
worker:
  command: ["/opt/bot/venv/bin/python", "bot.py"]
  dir: /opt/bot
  venv: /opt/bot/venv
restart:
  delay: 3s
  exponential: true
  max_delay: 30s
sweep:
  patterns: ["bot.py"]
unit:
  name: encoder-bot.service
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if c.Worker.Command[0] != "/opt/bot/venv/bin/python" {
		t.Fatalf("unexpected worker command: %v", c.Worker.Command)
	}
	if c.Worker.Dir != "/opt/bot" {
		t.Fatalf("unexpected worker dir: %q", c.Worker.Dir)
	}
	if c.Restart.Delay != 3*time.Second {
		t.Fatalf("expected 3s delay, got %s", c.Restart.Delay)
	}
	if !c.Restart.Exponential || c.Restart.MaxDelay != 30*time.Second {
		t.Fatalf("exponential settings not loaded: %+v", c.Restart)
	}
	if len(c.Sweep.Patterns) != 1 || c.Sweep.Patterns[0] != "bot.py" {
		t.Fatalf("unexpected sweep patterns: %v", c.Sweep.Patterns)
	}
	if c.Unit.Name != "encoder-bot.service" {
		t.Fatalf("unexpected unit name: %q", c.Unit.Name)
	}

	// Unset fields still get defaults.
	if c.Unit.RestartSec != 10 || c.Unit.LimitNOFILE != 131072 {
		t.Fatalf("unit defaults not applied: %+v", c.Unit)
	}
	if c.Sweep.Grace != 2*time.Second {
		t.Fatalf("sweep grace default not applied: %s", c.Sweep.Grace)
	}
}

func TestLoadRejectsBadBackoff(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overseer.yaml")

	data := `
restart:
  delay: 10s
  exponential: true
  max_delay: 1s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for max_delay < delay")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestFromEnvEmpty(t *testing.T) {
	t.Setenv(EnvConfig, "")
	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if c.Unit.Name != "overseer.service" {
		t.Fatalf("expected defaults, got unit %q", c.Unit.Name)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvDelay, "9s")
	t.Setenv(EnvUnit, "bot.service")
	t.Setenv(EnvUnitDir, "/run/systemd/system")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if c.Restart.Delay != 9*time.Second {
		t.Fatalf("%s ignored: got %s, want 9s", EnvDelay, c.Restart.Delay)
	}
	if c.Unit.Name != "bot.service" {
		t.Fatalf("%s ignored: got %q", EnvUnit, c.Unit.Name)
	}
	if c.Unit.Dir != "/run/systemd/system" {
		t.Fatalf("%s ignored: got %q", EnvUnitDir, c.Unit.Dir)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overseer.yaml")
	data := `
restart:
  delay: 3s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	t.Setenv(EnvDelay, "7s")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Restart.Delay != 7*time.Second {
		t.Fatalf("env should override the file: got %s, want 7s", c.Restart.Delay)
	}
}

func TestEnvDelayInvalid(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvDelay, "soon")

	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for unparseable %s", EnvDelay)
	}
}
