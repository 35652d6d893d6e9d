package tracing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxOutputEventBytes = 1024

// Run executes an external command, captures its combined output, and
// records a span describing the invocation. Session lookup and process
// cleanup both shell out through here so every loginctl, pgrep, and kill
// call shows up in traces with its exit code.
func Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("command name must not be empty")
	}

	_, span := otel.Tracer("advertisement/exec").Start(
		ctx,
		"exec.command",
		trace.WithAttributes(
			attribute.String("command", name),
			attribute.String("args", strings.Join(args, " ")),
		),
	)

	started := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int64("duration_ms", time.Since(started).Milliseconds()))
		span.End()
	}()

	cmd := exec.CommandContext(ctx, name, args...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	exitCode := resolveExitCode(cmd, err, ctx)
	span.SetAttributes(attribute.Int("exit_code", exitCode))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		trimmed := strings.TrimSpace(output.String())
		if trimmed != "" {
			span.AddEvent(
				"exec.output",
				trace.WithAttributes(attribute.String("output", truncateOutput(trimmed, maxOutputEventBytes))),
			)
			return nil, fmt.Errorf("run %s: %w (%s)", FormatCommand(name, args), err, trimmed)
		}
		return nil, fmt.Errorf("run %s: %w", FormatCommand(name, args), err)
	}

	span.SetStatus(codes.Ok, "command completed")
	return output.Bytes(), nil
}

func resolveExitCode(cmd *exec.Cmd, runErr error, ctx context.Context) int {
	if runErr == nil {
		return 0
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return -1
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd != nil && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return 0
}

func truncateOutput(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	const marker = "...[truncated]"
	if limit <= len(marker) {
		return value[:limit]
	}
	return value[:limit-len(marker)] + marker
}

// FormatCommand returns a deterministic command preview for traces and logs.
func FormatCommand(name string, args []string) string {
	parts := append([]string{strings.TrimSpace(name)}, args...)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, " ")
}
