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

func newStopCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Return the player to its background image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStop(cmd.Context(), cfg, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// runStop soft-fails: stopping when nothing plays, or when no instance is
// running at all, is not an error.
func runStop(ctx context.Context, cfg *config.Config, logger *log.Logger, out, errOut io.Writer) error {
	client, err := newSenderFn(cfg)
	if err != nil {
		return &exitError{code: exitCodeConfig, err: err}
	}

	if err := client.Send(ctx, control.Stop()); err != nil {
		fmt.Fprintf(errOut, "warning: stop not delivered: %v\n", err)
		logger.With("error", err.Error()).Warn("stop not delivered")
		return nil
	}

	logger.Info("stop command accepted")
	fmt.Fprintln(out, "playback stopped")
	return nil
}
