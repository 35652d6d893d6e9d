package player

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// Launcher spawns one detached player process and returns its pid.
type Launcher interface {
	Launch(background string, env []string) (int, error)
}

// ExecLauncher launches the configured player executable. The child is
// detached into its own process group and its handle released so the caller
// can exit while the player keeps running. Stdio stays disconnected; the
// player writes structured output to its own log files, never to the
// caller's streams.
type ExecLauncher struct {
	Path       string
	ExtraArgs  []string
	SocketPath string
}

// Launch starts the player with the control endpoint and optional background
// asset on its command line.
func (l ExecLauncher) Launch(background string, env []string) (int, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return 0, errors.New("launcher path is required")
	}

	args := append([]string(nil), l.ExtraArgs...)
	args = append(args, "--socket", l.SocketPath)
	if strings.TrimSpace(background) != "" {
		args = append(args, "--background", background)
	}

	// Deliberately not CommandContext: the player must outlive this
	// invocation's context.
	cmd := exec.Command(path, args...)
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launch player %s: %w", path, err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release player process %d: %w", pid, err)
	}
	return pid, nil
}
