package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/GoldLion7288/advertisement/internal/config"
	"github.com/GoldLion7288/advertisement/internal/logging"
	"github.com/GoldLion7288/advertisement/internal/telemetry"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// Exit statuses of the command surface. Every failure class gets its own
// status so a calling driver can distinguish remediation paths.
const (
	exitCodeConfig    = 1
	exitCodeDied      = 2
	exitCodeTimedOut  = 3
	exitCodeTransport = 4
)

// exitError carries the process exit status a failed command maps to.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func exitCodeFor(err error) int {
	var coded *exitError
	if errors.As(err, &coded) {
		return coded.code
	}
	return exitCodeConfig
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodeConfig
	}

	logger, err := logging.New(ctx,
		logging.WithRunID(uuid.NewString()),
		logging.WithCommand(resolveCommandName(args)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: initialize logging: %v\n", err)
		return exitCodeConfig
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	shutdownTelemetry, err := telemetry.Init(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: telemetry disabled: %v\n", err)
	} else {
		defer shutdownTelemetry()
	}

	cmd := newRootCommand(cfg, logger.Logger)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		logger.Logger.With("error", err.Error()).Error("command failed")
		return exitCodeFor(err)
	}
	return 0
}

func newRootCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "adctl",
		Short:         "Signage player process and playback control",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(
		newStartCommand(cfg, logger),
		newPlayCommand(cfg, logger),
		newStopCommand(cfg, logger),
		newExitCommand(cfg, logger),
		newLogsCommand(cfg, logger),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if logger == nil {
			return errors.New("logger is required")
		}
		if cfg == nil {
			return errors.New("config is required")
		}
		logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	return root
}

// resolveCommandName picks the subcommand out of raw args for log scoping,
// before cobra has parsed anything.
func resolveCommandName(args []string) string {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		return arg
	}
	return "root"
}
