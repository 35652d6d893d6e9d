// Package player supervises the long-lived display process: single-instance
// launch, liveness checks, readiness polling, and restart-on-start.
package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/GoldLion7288/advertisement/internal/control"
	"github.com/GoldLion7288/advertisement/internal/tracing"
)

const (
	// DefaultReadyTimeout bounds the whole readiness wait after a launch.
	DefaultReadyTimeout = 30 * time.Second
	// DefaultPollInterval is the sleep between readiness probe rounds.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultDrainWait bounds the wait for an old instance to leave during
	// restart-on-start.
	DefaultDrainWait = 5 * time.Second
)

// ErrLaunchFailed indicates the player exited before its first liveness check.
var ErrLaunchFailed = errors.New("player process exited during launch")

const tracerName = "advertisement/player"

// Handle identifies one launched player instance. Liveness is always
// re-derived from the pid; nothing about the instance is cached across
// invocations.
type Handle struct {
	PID       int
	StartedAt time.Time
}

// Outcome is the result of one readiness wait.
type Outcome int

const (
	// OutcomeReady means the instance answered the control endpoint probe.
	OutcomeReady Outcome = iota
	// OutcomeDied means the process exited before becoming reachable.
	OutcomeDied
	// OutcomeTimedOut means the process is alive but never became reachable.
	OutcomeTimedOut
)

// String renders the outcome for diagnostics.
func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeDied:
		return "died"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ControlClient is the slice of the control channel the supervisor needs.
type ControlClient interface {
	Ping(ctx context.Context) error
	Send(ctx context.Context, msg control.Message) error
}

// ProcessChecker checks whether a process is still alive.
type ProcessChecker interface {
	Alive(pid int) (bool, error)
}

// ProcessSignaler sends unix signals to a process ID.
type ProcessSignaler interface {
	Signal(pid int, signal syscall.Signal) error
}

// CommandRunner executes process-listing commands for the kill fallback.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type defaultProcessChecker struct{}

func (defaultProcessChecker) Alive(pid int) (bool, error) {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, syscall.ESRCH) {
		return false, nil
	}
	if errors.Is(err, syscall.EPERM) {
		return true, nil
	}
	return false, err
}

type defaultProcessSignaler struct{}

func (defaultProcessSignaler) Signal(pid int, signal syscall.Signal) error {
	return syscall.Kill(pid, signal)
}

type defaultCommandRunner struct{}

func (defaultCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return tracing.Run(ctx, name, args...)
}

// Options configures a supervisor.
type Options struct {
	Launcher       Launcher
	Client         ControlClient
	Checker        ProcessChecker
	Signaler       ProcessSignaler
	Runner         CommandRunner
	ProcessPattern string
	ReadyTimeout   time.Duration
	PollInterval   time.Duration
	DrainWait      time.Duration
}

// Supervisor owns the launch and readiness lifecycle of the player process.
type Supervisor struct {
	launcher       Launcher
	client         ControlClient
	checker        ProcessChecker
	signaler       ProcessSignaler
	runner         CommandRunner
	processPattern string
	readyTimeout   time.Duration
	pollInterval   time.Duration
	drainWait      time.Duration
	now            func() time.Time
	sleep          func(time.Duration)
}

// New creates a supervisor with default dependencies where omitted.
func New(opts Options) (*Supervisor, error) {
	if opts.Launcher == nil {
		return nil, errors.New("launcher is required")
	}
	if opts.Client == nil {
		return nil, errors.New("control client is required")
	}

	checker := opts.Checker
	if checker == nil {
		checker = defaultProcessChecker{}
	}
	signaler := opts.Signaler
	if signaler == nil {
		signaler = defaultProcessSignaler{}
	}
	runner := opts.Runner
	if runner == nil {
		runner = defaultCommandRunner{}
	}

	readyTimeout := opts.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	drainWait := opts.DrainWait
	if drainWait <= 0 {
		drainWait = DefaultDrainWait
	}

	return &Supervisor{
		launcher:       opts.Launcher,
		client:         opts.Client,
		checker:        checker,
		signaler:       signaler,
		runner:         runner,
		processPattern: strings.TrimSpace(opts.ProcessPattern),
		readyTimeout:   readyTimeout,
		pollInterval:   pollInterval,
		drainWait:      drainWait,
		now:            time.Now,
		sleep:          time.Sleep,
	}, nil
}

// Alive re-derives process liveness from the pid.
func (s *Supervisor) Alive(pid int) (bool, error) {
	if s == nil {
		return false, errors.New("supervisor is nil")
	}
	if pid <= 0 {
		return false, nil
	}
	return s.checker.Alive(pid)
}

// EnsureStarted launches the player, restarting any instance already bound to
// the control endpoint. It returns once the new process has survived its
// first liveness check; readiness is a separate WaitReady call.
func (s *Supervisor) EnsureStarted(ctx context.Context, background string, env []string) (Handle, error) {
	if s == nil {
		return Handle{}, errors.New("supervisor is nil")
	}

	spanCtx, span := otel.Tracer(tracerName).Start(ctx, "player.ensure_started")
	defer span.End()
	span.SetAttributes(attribute.String("background", background))

	if pingErr := s.client.Ping(spanCtx); pingErr == nil {
		span.SetAttributes(attribute.Bool("restarted_existing", true))
		if err := s.terminateExisting(spanCtx); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Handle{}, err
		}
	}

	pid, err := s.launcher.Launch(background, env)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Handle{}, err
	}
	handle := Handle{PID: pid, StartedAt: s.now().UTC()}
	span.SetAttributes(attribute.Int("pid", pid))

	alive, err := s.checker.Alive(pid)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return handle, fmt.Errorf("check player pid %d: %w", pid, err)
	}
	if !alive {
		span.SetStatus(codes.Error, ErrLaunchFailed.Error())
		return handle, fmt.Errorf("%w: pid %d", ErrLaunchFailed, pid)
	}
	return handle, nil
}

// WaitReady polls until the instance answers a control-channel PING, dies, or
// the timeout elapses. A dead process is reported immediately; the poller
// never waits out the remaining timeout against a corpse.
func (s *Supervisor) WaitReady(ctx context.Context, handle Handle, timeout time.Duration) (Outcome, error) {
	if s == nil {
		return OutcomeTimedOut, errors.New("supervisor is nil")
	}
	if timeout <= 0 {
		timeout = s.readyTimeout
	}

	_, span := otel.Tracer(tracerName).Start(ctx, "player.wait_ready")
	defer span.End()
	span.SetAttributes(attribute.Int("pid", handle.PID))

	deadline := s.now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return OutcomeTimedOut, err
		}

		alive, err := s.checker.Alive(handle.PID)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return OutcomeDied, fmt.Errorf("check player pid %d: %w", handle.PID, err)
		}
		if !alive {
			span.SetAttributes(attribute.String("outcome", OutcomeDied.String()))
			return OutcomeDied, nil
		}

		if pingErr := s.client.Ping(ctx); pingErr == nil {
			span.SetAttributes(attribute.String("outcome", OutcomeReady.String()))
			return OutcomeReady, nil
		}

		if !s.now().Before(deadline) {
			span.SetAttributes(attribute.String("outcome", OutcomeTimedOut.String()))
			return OutcomeTimedOut, nil
		}
		s.sleep(s.pollInterval)
	}
}

// ConfirmExit polls the control endpoint after an EXIT command until it stops
// answering or the grace period elapses. It reports, never force-kills.
func (s *Supervisor) ConfirmExit(ctx context.Context, grace time.Duration) (bool, error) {
	if s == nil {
		return false, errors.New("supervisor is nil")
	}
	if grace <= 0 {
		grace = s.drainWait
	}

	deadline := s.now().Add(grace)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if pingErr := s.client.Ping(ctx); pingErr != nil {
			return true, nil
		}
		if !s.now().Before(deadline) {
			return false, nil
		}
		s.sleep(s.pollInterval)
	}
}

// terminateExisting asks the running instance to exit, waits a bounded drain,
// then falls back to killing any surviving player processes by pattern.
func (s *Supervisor) terminateExisting(ctx context.Context) error {
	// A rejected or lost EXIT is not fatal; the kill fallback covers it.
	_ = s.client.Send(ctx, control.Exit())

	gone, err := s.ConfirmExit(ctx, s.drainWait)
	if err != nil {
		return err
	}
	if gone {
		return nil
	}
	return s.killByPattern(ctx)
}

func (s *Supervisor) killByPattern(ctx context.Context) error {
	if s.processPattern == "" {
		return errors.New("existing player did not exit and no process pattern is configured")
	}

	out, err := s.runner.Run(ctx, "pgrep", "-f", s.processPattern)
	if err != nil {
		// pgrep exits non-zero when nothing matches; treat as drained.
		return nil
	}

	ownPID := os.Getpid()
	for _, field := range strings.Fields(string(out)) {
		pid, parseErr := strconv.Atoi(field)
		if parseErr != nil || pid == ownPID {
			continue
		}
		if signalErr := s.signaler.Signal(pid, syscall.SIGKILL); signalErr != nil && !errors.Is(signalErr, syscall.ESRCH) {
			return fmt.Errorf("kill stale player pid %d: %w", pid, signalErr)
		}
	}
	return nil
}

var _ ProcessChecker = defaultProcessChecker{}
var _ ProcessSignaler = defaultProcessSignaler{}
var _ CommandRunner = defaultCommandRunner{}
