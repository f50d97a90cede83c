// Package config loads overseer's configuration from a YAML file and the
// environment. Zero values fall back to defaults that match the encoder bot
// deployment this tool was built around: a Python worker in the current
// directory with a virtualenv, plus an aria2c download daemon.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Worker describes the process being supervised.
type Worker struct {
	// Command is the worker's argv.
	Command []string `yaml:"command"`

	// Dir is the working directory for the worker. Empty means the
	// supervisor's own working directory.
	Dir string `yaml:"dir"`

	// Venv is a Python virtualenv directory to activate before launching.
	// Empty disables activation.
	Venv string `yaml:"venv"`
}

// Restart controls the relaunch policy.
type Restart struct {
	// Delay is the pause between a worker exit and the next launch.
	Delay time.Duration `yaml:"delay"`

	// Exponential switches from a constant delay to bounded exponential
	// backoff starting at Delay and capped at MaxDelay.
	Exponential bool          `yaml:"exponential"`
	MaxDelay    time.Duration `yaml:"max_delay"`

	// StableAfter resets the backoff counter once a run has stayed up
	// this long.
	StableAfter time.Duration `yaml:"stable_after"`
}

// Sweep controls the startup kill sweep of prior instances.
type Sweep struct {
	// Patterns are command-line substrings identifying stale worker and
	// helper processes.
	Patterns []string `yaml:"patterns"`

	// Grace is how long terminated processes get before SIGKILL.
	Grace time.Duration `yaml:"grace"`

	// Settle is the pause after the sweep before the first launch.
	Settle time.Duration `yaml:"settle"`
}

// Unit describes the generated systemd service.
type Unit struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Dir         string `yaml:"dir"`
	RestartSec  int    `yaml:"restart_sec"`
	LimitNOFILE int    `yaml:"limit_nofile"`
}

// Config is the full overseer configuration.
type Config struct {
	Worker  Worker  `yaml:"worker"`
	Restart Restart `yaml:"restart"`
	Sweep   Sweep   `yaml:"sweep"`
	Unit    Unit    `yaml:"unit"`
}

// Environment variables overriding individual settings. They apply on top
// of the file (and the defaults) whenever a config is loaded.
const (
	EnvConfig  = "OVERSEER_CONFIG"
	EnvDelay   = "OVERSEER_DELAY"
	EnvUnit    = "OVERSEER_UNIT"
	EnvUnitDir = "OVERSEER_UNIT_DIR"
)

// Default returns the configuration used when no file is given and no
// OVERSEER_* variables are set.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load reads a YAML config file, fills in defaults, and applies the
// OVERSEER_* environment overrides. path == "" skips the file and loads
// defaults plus overrides.
func Load(path string) (Config, error) {
	var c Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}

	c.applyDefaults()
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// FromEnv resolves the config path from OVERSEER_CONFIG and loads it.
func FromEnv() (Config, error) {
	return Load(os.Getenv(EnvConfig))
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDelay); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvDelay, err)
		}
		c.Restart.Delay = d
	}
	if v := os.Getenv(EnvUnit); v != "" {
		c.Unit.Name = v
	}
	if v := os.Getenv(EnvUnitDir); v != "" {
		c.Unit.Dir = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Worker.Command) == 0 {
		c.Worker.Command = []string{"python3", "main.py"}
	}
	if c.Worker.Venv == "" {
		c.Worker.Venv = "venv"
	}

	if c.Restart.Delay <= 0 {
		c.Restart.Delay = 5 * time.Second
	}
	if c.Restart.MaxDelay <= 0 {
		c.Restart.MaxDelay = time.Minute
	}
	if c.Restart.StableAfter <= 0 {
		c.Restart.StableAfter = time.Minute
	}

	if len(c.Sweep.Patterns) == 0 {
		c.Sweep.Patterns = []string{"main.py", "aria2c"}
	}
	if c.Sweep.Grace <= 0 {
		c.Sweep.Grace = 2 * time.Second
	}
	if c.Sweep.Settle <= 0 {
		c.Sweep.Settle = 2 * time.Second
	}

	if c.Unit.Name == "" {
		c.Unit.Name = "overseer.service"
	}
	if c.Unit.Description == "" {
		c.Unit.Description = "Encoder bot supervisor"
	}
	if c.Unit.Dir == "" {
		c.Unit.Dir = "/etc/systemd/system"
	}
	if c.Unit.RestartSec <= 0 {
		c.Unit.RestartSec = 10
	}
	if c.Unit.LimitNOFILE <= 0 {
		c.Unit.LimitNOFILE = 131072
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if len(c.Worker.Command) == 0 || c.Worker.Command[0] == "" {
		return fmt.Errorf("worker command is empty")
	}
	if c.Restart.Exponential && c.Restart.MaxDelay < c.Restart.Delay {
		return fmt.Errorf("restart max_delay %s is below delay %s", c.Restart.MaxDelay, c.Restart.Delay)
	}
	for _, p := range c.Sweep.Patterns {
		if p == "" {
			return fmt.Errorf("empty sweep pattern")
		}
	}
	return nil
}
