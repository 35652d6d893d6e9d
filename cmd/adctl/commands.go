package main

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/GoldLion7288/advertisement/internal/config"
	"github.com/GoldLion7288/advertisement/internal/control"
	"github.com/GoldLion7288/advertisement/internal/player"
	"github.com/GoldLion7288/advertisement/internal/session"
)

// commandSender is the control-channel surface the subcommands need.
type commandSender interface {
	Send(ctx context.Context, msg control.Message) error
	Ping(ctx context.Context) error
}

// playerSupervisor is the lifecycle surface the start and exit paths need.
type playerSupervisor interface {
	EnsureStarted(ctx context.Context, background string, env []string) (player.Handle, error)
	WaitReady(ctx context.Context, handle player.Handle, timeout time.Duration) (player.Outcome, error)
	ConfirmExit(ctx context.Context, grace time.Duration) (bool, error)
}

// Seams for tests; production wiring stays in these defaults.
var (
	statFn     = os.Stat
	lookPathFn = exec.LookPath
	environFn  = os.Environ

	newSenderFn = func(cfg *config.Config) (commandSender, error) {
		return control.NewClient(cfg.SocketPath, control.ClientOptions{
			DialTimeout:     cfg.ResponseTimeout,
			ResponseTimeout: cfg.ResponseTimeout,
		})
	}

	newSupervisorFn = func(cfg *config.Config, client commandSender) (playerSupervisor, error) {
		return player.New(player.Options{
			Launcher: player.ExecLauncher{
				Path:       cfg.LauncherPath,
				ExtraArgs:  cfg.LauncherArgs,
				SocketPath: cfg.SocketPath,
			},
			Client:         client,
			ProcessPattern: cfg.ProcessPattern,
			ReadyTimeout:   cfg.ReadyTimeout,
			PollInterval:   cfg.PollInterval,
			DrainWait:      cfg.ExitGracePeriod,
		})
	}

	resolveSessionFn = func(ctx context.Context, cfg *config.Config) (session.Context, error) {
		return session.NewResolver(session.Options{DeviceNode: cfg.DeviceNode}).Resolve(ctx)
	}
)
