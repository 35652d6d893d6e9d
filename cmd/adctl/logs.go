package main

import (
	"context"
	"fmt"
	"io"

	"github.com/GoldLion7288/advertisement/internal/config"
	"github.com/GoldLion7288/advertisement/internal/events"
	"github.com/GoldLion7288/advertisement/internal/logtail"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

func newLogsCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print new player log output since the previous read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tailer := logtail.NewTailer()
			if follow {
				return followLogs(cmd.Context(), cfg, logger, tailer, cmd.OutOrStdout())
			}
			return printLogDeltas(cfg, tailer, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling and print new output as it appears")
	return cmd
}

func printLogDeltas(cfg *config.Config, tailer *logtail.Tailer, out, errOut io.Writer) error {
	for _, path := range cfg.PlayerLogPaths {
		delta, err := tailer.Delta(path)
		if err != nil {
			return &exitError{code: exitCodeConfig, err: err}
		}
		switch delta.State {
		case logtail.StateNotCreated:
			fmt.Fprintf(errOut, "%s: not created yet\n", path)
		case logtail.StateNoNewData:
			fmt.Fprintf(errOut, "%s: no new entries\n", path)
		case logtail.StateRotated:
			fmt.Fprintf(errOut, "%s: rotated, rereading from start\n", path)
			fmt.Fprint(out, string(delta.Data))
		default:
			fmt.Fprint(out, string(delta.Data))
		}
	}
	return nil
}

func followLogs(
	ctx context.Context,
	cfg *config.Config,
	logger *log.Logger,
	tailer *logtail.Tailer,
	out io.Writer,
) error {
	bus := events.New(events.WithLogger(logger.StandardLog()))
	bus.Subscribe(events.EventTypeLogChunk, func(event events.Event) {
		chunk, ok := event.Payload.(logtail.Chunk)
		if !ok {
			return
		}
		if chunk.Rotated {
			fmt.Fprintf(out, "%s: rotated, rereading from start\n", chunk.Path)
		}
		fmt.Fprint(out, chunk.Data)
	})

	logger.With("paths", cfg.PlayerLogPaths).Info("following player logs")
	if err := tailer.Follow(ctx, cfg.PlayerLogPaths, cfg.FollowInterval, bus); err != nil {
		return &exitError{code: exitCodeConfig, err: err}
	}
	return nil
}
