// Package session resolves the graphical-session environment a privileged,
// sessionless invocation must hand to the player process: display identity,
// X authority file, runtime directory, and session bus address.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/GoldLion7288/advertisement/internal/tracing"
)

// DefaultDeviceNode is the fallback device whose owner identifies the
// graphical session when the session manager is unavailable. The X server of
// the primary seat conventionally runs on tty7.
const DefaultDeviceNode = "/dev/tty7"

const defaultDisplay = ":0"

// Vars overridden (or cleared) in the player environment.
const (
	envDisplay    = "DISPLAY"
	envAuthority  = "XAUTHORITY"
	envRuntimeDir = "XDG_RUNTIME_DIR"
	envBusAddress = "DBUS_SESSION_BUS_ADDRESS"
	envQtPlatform = "QT_QPA_PLATFORM"
)

// Context is the resolved session environment. The zero value means "no
// override": the caller already owns a session and inherited values stand.
type Context struct {
	Display       string
	AuthorityFile string
	RuntimeDir    string
	BusAddress    string
	Owner         string
	OwnerUID      int
}

// Applicable reports whether the context carries an override.
func (c Context) Applicable() bool {
	return c.Display != "" || c.RuntimeDir != ""
}

// Apply merges the context into a base environment and returns the result.
// The base is never mutated and neither is the ambient process environment.
// QT_QPA_PLATFORM is always dropped so the player discovers its platform
// plugin itself.
func (c Context) Apply(base []string) []string {
	overridden := map[string]bool{envQtPlatform: true}
	if c.Applicable() {
		overridden[envDisplay] = true
		overridden[envAuthority] = true
		overridden[envRuntimeDir] = true
		overridden[envBusAddress] = true
	}

	merged := make([]string, 0, len(base)+4)
	for _, entry := range base {
		key, _, found := strings.Cut(entry, "=")
		if found && overridden[key] {
			continue
		}
		merged = append(merged, entry)
	}
	if !c.Applicable() {
		return merged
	}

	merged = append(merged, envDisplay+"="+c.Display)
	if c.AuthorityFile != "" {
		merged = append(merged, envAuthority+"="+c.AuthorityFile)
	}
	if c.RuntimeDir != "" {
		merged = append(merged, envRuntimeDir+"="+c.RuntimeDir)
	}
	if c.BusAddress != "" {
		merged = append(merged, envBusAddress+"="+c.BusAddress)
	}
	return merged
}

// CommandRunner executes session-manager commands.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type defaultCommandRunner struct{}

func (defaultCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return tracing.Run(ctx, name, args...)
}

// Options configures a resolver; zero-value fields fall back to real system
// facilities.
type Options struct {
	Runner       CommandRunner
	EffectiveUID func() int
	LookupUser   func(username string) (*user.User, error)
	LookupUserID func(uid string) (*user.User, error)
	DeviceOwner  func(path string) (int, error)
	DeviceNode   string
}

// Resolver discovers the active graphical session for elevated invocations.
type Resolver struct {
	runner       CommandRunner
	effectiveUID func() int
	lookupUser   func(username string) (*user.User, error)
	lookupUserID func(uid string) (*user.User, error)
	deviceOwner  func(path string) (int, error)
	deviceNode   string
}

// NewResolver constructs a resolver with default dependencies where omitted.
func NewResolver(opts Options) *Resolver {
	runner := opts.Runner
	if runner == nil {
		runner = defaultCommandRunner{}
	}
	effectiveUID := opts.EffectiveUID
	if effectiveUID == nil {
		effectiveUID = os.Geteuid
	}
	lookupUser := opts.LookupUser
	if lookupUser == nil {
		lookupUser = user.Lookup
	}
	lookupUserID := opts.LookupUserID
	if lookupUserID == nil {
		lookupUserID = user.LookupId
	}
	deviceOwner := opts.DeviceOwner
	if deviceOwner == nil {
		deviceOwner = statOwnerUID
	}
	deviceNode := strings.TrimSpace(opts.DeviceNode)
	if deviceNode == "" {
		deviceNode = DefaultDeviceNode
	}
	return &Resolver{
		runner:       runner,
		effectiveUID: effectiveUID,
		lookupUser:   lookupUser,
		lookupUserID: lookupUserID,
		deviceOwner:  deviceOwner,
		deviceNode:   deviceNode,
	}
}

// Resolve returns the session context for the current invocation. A
// non-elevated caller gets the zero context: its inherited environment is
// already correct. Discovery failures are returned as errors; callers treat
// them as recoverable because some schedulers pre-populate the variables.
func (r *Resolver) Resolve(ctx context.Context) (Context, error) {
	if r == nil {
		return Context{}, errors.New("session resolver is nil")
	}
	if r.effectiveUID() != 0 {
		return Context{}, nil
	}

	owner, display, err := r.discoverSessionOwner(ctx)
	if err != nil {
		owner, err = r.deviceNodeOwner()
		if err != nil {
			return Context{}, err
		}
		display = defaultDisplay
	}
	if display == "" {
		display = defaultDisplay
	}

	uid, err := strconv.Atoi(owner.Uid)
	if err != nil {
		return Context{}, fmt.Errorf("parse uid %q for user %s: %w", owner.Uid, owner.Username, err)
	}
	runtimeDir := fmt.Sprintf("/run/user/%d", uid)
	return Context{
		Display:       display,
		AuthorityFile: filepath.Join(owner.HomeDir, ".Xauthority"),
		RuntimeDir:    runtimeDir,
		BusAddress:    "unix:path=" + runtimeDir + "/bus",
		Owner:         owner.Username,
		OwnerUID:      uid,
	}, nil
}

// discoverSessionOwner asks logind for active sessions, preferring seat0.
func (r *Resolver) discoverSessionOwner(ctx context.Context) (*user.User, string, error) {
	out, err := r.runner.Run(ctx, "loginctl", "list-sessions", "--no-legend")
	if err != nil {
		return nil, "", fmt.Errorf("list sessions: %w", err)
	}

	sessions := parseSessionList(string(out))
	if len(sessions) == 0 {
		return nil, "", errors.New("no active sessions reported")
	}
	chosen := chooseSession(sessions)

	display := ""
	if out, err := r.runner.Run(ctx, "loginctl", "show-session", chosen.id, "--property=Display"); err == nil {
		display = parseProperty(string(out), "Display")
	}

	owner, err := r.lookupUser(chosen.username)
	if err != nil {
		return nil, "", fmt.Errorf("look up session owner %s: %w", chosen.username, err)
	}
	return owner, display, nil
}

func (r *Resolver) deviceNodeOwner() (*user.User, error) {
	uid, err := r.deviceOwner(r.deviceNode)
	if err != nil {
		return nil, fmt.Errorf("resolve owner of %s: %w", r.deviceNode, err)
	}
	owner, err := r.lookupUserID(strconv.Itoa(uid))
	if err != nil {
		return nil, fmt.Errorf("look up uid %d: %w", uid, err)
	}
	return owner, nil
}

type sessionEntry struct {
	id       string
	username string
	seat     string
}

// parseSessionList parses `loginctl list-sessions --no-legend` output. Each
// line is: SESSION UID USER SEAT TTY.
func parseSessionList(text string) []sessionEntry {
	entries := make([]sessionEntry, 0)
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		entry := sessionEntry{id: fields[0], username: fields[2]}
		if len(fields) >= 4 {
			entry.seat = fields[3]
		}
		entries = append(entries, entry)
	}
	return entries
}

func chooseSession(sessions []sessionEntry) sessionEntry {
	for _, session := range sessions {
		if session.seat == "seat0" && session.username != "root" {
			return session
		}
	}
	for _, session := range sessions {
		if session.username != "root" {
			return session
		}
	}
	return sessions[0]
}

// parseProperty extracts one value from `loginctl show-session` key=value output.
func parseProperty(text string, key string) string {
	for _, line := range strings.Split(text, "\n") {
		name, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if found && name == key {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func statOwnerUID(path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("no ownership information for %s", path)
	}
	return int(stat.Uid), nil
}
