package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/GoldLion7288/advertisement/internal/config"
	"github.com/GoldLion7288/advertisement/internal/events"
	"github.com/GoldLion7288/advertisement/internal/player"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

func newStartCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "start <background-image>",
		Short: "Start or restart the player with a background image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), cfg, logger, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runStart(
	ctx context.Context,
	cfg *config.Config,
	logger *log.Logger,
	background string,
	out io.Writer,
	errOut io.Writer,
) error {
	background = strings.TrimSpace(background)
	if background != "" {
		if _, err := statFn(background); err != nil {
			// The player tolerates a missing background, so this only warns.
			fmt.Fprintf(errOut, "warning: background image %s unavailable: %v\n", background, err)
			logger.With("path", background).Warn("background image unavailable")
		}
	}

	if _, err := lookPathFn(cfg.LauncherPath); err != nil {
		return &exitError{code: exitCodeConfig, err: fmt.Errorf("locate launcher %q: %w", cfg.LauncherPath, err)}
	}

	env := environFn()
	sessionCtx, err := resolveSessionFn(ctx, cfg)
	if err != nil {
		fmt.Fprintf(errOut, "warning: session discovery failed, keeping inherited environment: %v\n", err)
		logger.With("error", err.Error()).Warn("session discovery failed")
	} else if sessionCtx.Applicable() {
		logger.With(
			"display", sessionCtx.Display,
			"owner", sessionCtx.Owner,
		).Info("resolved graphical session")
	}
	env = sessionCtx.Apply(env)

	client, err := newSenderFn(cfg)
	if err != nil {
		return &exitError{code: exitCodeConfig, err: err}
	}
	supervisor, err := newSupervisorFn(cfg, client)
	if err != nil {
		return &exitError{code: exitCodeConfig, err: err}
	}

	bus := events.New(events.WithLogger(logger.StandardLog()))
	bus.SubscribeAll(func(event events.Event) {
		logger.With("event", event.Type, "source", event.Source).Info("player lifecycle")
	})

	fmt.Fprintln(out, "starting player...")
	handle, err := supervisor.EnsureStarted(ctx, background, env)
	if err != nil {
		return &exitError{code: exitCodeDied, err: fmt.Errorf("start player: %w", err)}
	}
	bus.Publish(events.Event{
		Type:      events.EventTypePlayerStarted,
		Timestamp: time.Now(),
		Source:    fmt.Sprintf("pid:%d", handle.PID),
		Severity:  events.SeverityInfo,
	})
	logger.With("pid", handle.PID).Info("player launched")

	outcome, err := supervisor.WaitReady(ctx, handle, cfg.ReadyTimeout)
	if err != nil {
		return &exitError{code: exitCodeTransport, err: fmt.Errorf("wait for readiness: %w", err)}
	}
	switch outcome {
	case player.OutcomeReady:
		bus.Publish(events.Event{
			Type:      events.EventTypePlayerReady,
			Timestamp: time.Now(),
			Source:    fmt.Sprintf("pid:%d", handle.PID),
			Severity:  events.SeverityInfo,
		})
		logger.With("pid", handle.PID).Info("player ready")
		fmt.Fprintf(out, "player ready (pid %d)\n", handle.PID)
		return nil
	case player.OutcomeDied:
		return &exitError{
			code: exitCodeDied,
			err:  fmt.Errorf("player pid %d exited before becoming ready; check its log output", handle.PID),
		}
	default:
		return &exitError{
			code: exitCodeTimedOut,
			err: fmt.Errorf("player pid %d still not answering after %s; it is alive but not listening",
				handle.PID, cfg.ReadyTimeout),
		}
	}
}
