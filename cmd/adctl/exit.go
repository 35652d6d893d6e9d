package main

import (
	"context"
	"fmt"
	"io"

	"github.com/GoldLion7288/advertisement/internal/config"
	"github.com/GoldLion7288/advertisement/internal/control"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

func newExitCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "exit",
		Short: "Ask the player to shut down and wait for it to leave",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExit(cmd.Context(), cfg, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// runExit delivers EXIT, waits the grace period, and reports a lingering
// instance without escalating to a forced kill. Always exits zero.
func runExit(ctx context.Context, cfg *config.Config, logger *log.Logger, out, errOut io.Writer) error {
	client, err := newSenderFn(cfg)
	if err != nil {
		return &exitError{code: exitCodeConfig, err: err}
	}

	if err := client.Send(ctx, control.Exit()); err != nil {
		fmt.Fprintf(errOut, "warning: exit not delivered: %v\n", err)
		logger.With("error", err.Error()).Warn("exit not delivered")
		return nil
	}

	supervisor, err := newSupervisorFn(cfg, client)
	if err != nil {
		return &exitError{code: exitCodeConfig, err: err}
	}
	gone, err := supervisor.ConfirmExit(ctx, cfg.ExitGracePeriod)
	if err != nil {
		fmt.Fprintf(errOut, "warning: could not confirm shutdown: %v\n", err)
		logger.With("error", err.Error()).Warn("shutdown confirmation failed")
		return nil
	}
	if !gone {
		fmt.Fprintf(errOut, "warning: player still running after %s grace period\n", cfg.ExitGracePeriod)
		logger.Warn("player lingering after exit grace period")
		return nil
	}

	logger.Info("player exited")
	fmt.Fprintln(out, "player exited")
	return nil
}
