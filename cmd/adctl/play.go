package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/GoldLion7288/advertisement/internal/config"
	"github.com/GoldLion7288/advertisement/internal/control"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

func newPlayCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "play <media-file> <duration-seconds>",
		Short: "Play a media file for a number of seconds",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), cfg, logger, args[0], args[1], cmd.OutOrStdout())
		},
	}
}

// runPlay validates its arguments fully before touching the control channel:
// a missing file or bad duration must never dial the endpoint.
func runPlay(
	ctx context.Context,
	cfg *config.Config,
	logger *log.Logger,
	mediaPath string,
	durationArg string,
	out io.Writer,
) error {
	mediaPath = strings.TrimSpace(mediaPath)
	if mediaPath == "" {
		return &exitError{code: exitCodeConfig, err: errors.New("media file path is required")}
	}
	if _, err := statFn(mediaPath); err != nil {
		return &exitError{code: exitCodeConfig, err: fmt.Errorf("media file %s: %w", mediaPath, err)}
	}

	duration, err := strconv.Atoi(strings.TrimSpace(durationArg))
	if err != nil {
		return &exitError{code: exitCodeConfig, err: fmt.Errorf("duration %q is not a whole number of seconds", durationArg)}
	}
	if duration < 0 {
		return &exitError{code: exitCodeConfig, err: fmt.Errorf("duration must not be negative, got %d", duration)}
	}

	client, err := newSenderFn(cfg)
	if err != nil {
		return &exitError{code: exitCodeConfig, err: err}
	}

	if err := client.Send(ctx, control.Play(mediaPath, duration)); err != nil {
		return &exitError{code: exitCodeTransport, err: fmt.Errorf("send play command: %w", err)}
	}

	logger.With("file", mediaPath, "duration_s", duration).Info("play command accepted")
	fmt.Fprintf(out, "playing %s for %ds\n", mediaPath, duration)
	return nil
}
