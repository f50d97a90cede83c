// overseer - keep the encoder bot running
//
// Usage:
//
//	overseer run          Supervise the worker in the foreground
//	overseer install      Install the supervision loop as a systemd service
//	overseer uninstall    Stop and remove the systemd service
//	overseer status       Show the service's state
//	overseer              Same as status
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dogmatiq/linger"
	flag "github.com/spf13/pflag"

	"github.com/encodekit/overseer/internal/config"
	"github.com/encodekit/overseer/internal/installer"
	"github.com/encodekit/overseer/internal/logging"
	"github.com/encodekit/overseer/internal/priority"
	"github.com/encodekit/overseer/internal/supervisor"
	"github.com/encodekit/overseer/internal/sweep"
	"github.com/encodekit/overseer/internal/systemd"
	"github.com/encodekit/overseer/internal/unitfile"
)

var (
	configFlag     string
	delayFlag      time.Duration
	unitFlag       string
	unitDirFlag    string
	noSweepFlag    bool
	noPriorityFlag bool
)

func main() {
	flag.StringVarP(&configFlag, "config", "c", "", "Path to YAML config (overrides OVERSEER_CONFIG)")
	flag.DurationVar(&delayFlag, "delay", 0, "Override the relaunch delay")
	flag.StringVar(&unitFlag, "unit", "", "Override the systemd unit name")
	flag.StringVar(&unitDirFlag, "unit-dir", "", "Override the unit file directory")
	flag.BoolVar(&noSweepFlag, "no-sweep", false, "Skip the startup kill sweep")
	flag.BoolVar(&noPriorityFlag, "no-priority", false, "Skip raising CPU/IO priority")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `overseer - keep the encoder bot running

Usage:
  overseer run          Supervise the worker in the foreground
  overseer install      Install the supervision loop as a systemd service
  overseer uninstall    Stop and remove the systemd service
  overseer status       Show the service's state

Flags:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	cmd := "status"
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "run":
		cmdRun()
	case "install":
		cmdInstall()
	case "uninstall":
		cmdUninstall()
	case "status":
		cmdStatus()
	default:
		fatal("unknown command: %s", cmd)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func loadConfig() config.Config {
	var (
		cfg config.Config
		err error
	)
	if configFlag != "" {
		cfg, err = config.Load(configFlag)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		fatal("%v", err)
	}
	if delayFlag > 0 {
		cfg.Restart.Delay = delayFlag
	}
	if unitFlag != "" {
		cfg.Unit.Name = unitFlag
	}
	if unitDirFlag != "" {
		cfg.Unit.Dir = unitDirFlag
	}
	return cfg
}

func cmdRun() {
	cfg := loadConfig()
	log := logging.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !noSweepFlag {
		sw := &sweep.Sweeper{
			Lister:   sweep.NewLister(),
			Patterns: cfg.Sweep.Patterns,
			Grace:    cfg.Sweep.Grace,
			Log:      log,
		}
		if n := sw.Run(ctx); n > 0 {
			// Give the swept processes time to release ports and locks.
			if err := linger.Sleep(ctx, cfg.Sweep.Settle); err != nil {
				return
			}
		}
	}

	if !noPriorityFlag {
		if err := priority.Raise(); err != nil {
			log.Warn("raising scheduling priority", "error", err)
		} else {
			log.Info("raised scheduling priority")
		}
	}

	sup := &supervisor.Supervisor{
		Spec: supervisor.WorkerSpec{
			Command: cfg.Worker.Command,
			Dir:     cfg.Worker.Dir,
			Env:     supervisor.VenvEnv(cfg.Worker.Venv),
		},
		Runner:      supervisor.NewRunner(),
		Strategy:    supervisor.DelayStrategy(cfg.Restart.Delay, cfg.Restart.MaxDelay, cfg.Restart.Exponential),
		StableAfter: cfg.Restart.StableAfter,
		Log:         log,
	}

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		fatal("%v", err)
	}
}

func cmdInstall() {
	cfg := loadConfig()

	if !systemd.Available() {
		fatal("no systemd manager on the system bus")
	}

	exe, err := os.Executable()
	if err != nil {
		fatal("finding executable: %v", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		fatal("resolving executable path: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		fatal("getting working directory: %v", err)
	}

	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	// The service won't inherit OVERSEER_CONFIG, so bake the path in.
	cfgPath := configFlag
	if cfgPath == "" {
		cfgPath = os.Getenv(config.EnvConfig)
	}
	execStart := exe + " run"
	if cfgPath != "" {
		abs, err := filepath.Abs(cfgPath)
		if err != nil {
			fatal("resolving config path: %v", err)
		}
		execStart = fmt.Sprintf("%s --config %s run", exe, abs)
	}

	spec := unitfile.Spec{
		Name:        cfg.Unit.Name,
		Description: cfg.Unit.Description,
		User:        username,
		WorkingDir:  wd,
		ExecStart:   execStart,
		RestartSec:  cfg.Unit.RestartSec,
		LimitNOFILE: cfg.Unit.LimitNOFILE,
	}

	ctx := context.Background()
	sd, err := systemd.ConnectSystem(ctx)
	if err != nil {
		fatal("connecting to systemd: %v", err)
	}
	defer sd.Close()

	inst := &installer.Installer{Manager: sd, UnitDir: cfg.Unit.Dir, Log: logging.New()}
	if err := inst.Install(ctx, spec); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("installed and started %s\n", cfg.Unit.Name)
}

func cmdUninstall() {
	cfg := loadConfig()

	ctx := context.Background()
	sd, err := systemd.ConnectSystem(ctx)
	if err != nil {
		fatal("connecting to systemd: %v", err)
	}
	defer sd.Close()

	inst := &installer.Installer{Manager: sd, UnitDir: cfg.Unit.Dir, Log: logging.New()}
	if err := inst.Uninstall(ctx, cfg.Unit.Name); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("removed %s\n", cfg.Unit.Name)
}

func cmdStatus() {
	cfg := loadConfig()

	ctx := context.Background()
	sd, err := systemd.ConnectSystem(ctx)
	if err != nil {
		fatal("connecting to systemd: %v", err)
	}
	defer sd.Close()

	u, err := sd.GetUnit(ctx, cfg.Unit.Name)
	if err != nil {
		fmt.Printf("%s: not installed\n", cfg.Unit.Name)
		return
	}

	fmt.Printf("%s: %s", u.Name, u.State)
	if u.MainPID != 0 {
		fmt.Printf(" (PID %d)", u.MainPID)
	}
	if !u.Started.IsZero() {
		fmt.Printf(" since %s", u.Started.Format(time.DateTime))
	}
	fmt.Println()
	if u.WorkingDir != "" {
		fmt.Printf("  working dir: %s\n", u.WorkingDir)
	}
	if u.State == systemd.UnitStateFailed {
		fmt.Printf("  last exit status: %d\n", u.ExitStatus)
	}
}
