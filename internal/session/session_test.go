package session

import (
	"context"
	"errors"
	"os/user"
	"strings"
	"testing"
)

func TestResolveNoOpForUnprivilegedCaller(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(Options{
		Runner:       &fakeRunner{},
		EffectiveUID: func() int { return 1000 },
	})

	resolved, err := resolver.Resolve(context.Background())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Applicable() {
		t.Fatalf("context = %+v, want zero context for non-root caller", resolved)
	}
}

func TestResolvePrefersSeatZeroSession(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		outputs: map[string][]byte{
			"loginctl list-sessions --no-legend": []byte(
				"c1 112 gdm seat0 tty1\n" +
					"3 1000 kiosk seat0 tty7\n" +
					"5 1001 remote - pts/0\n",
			),
			"loginctl show-session 3 --property=Display": []byte("Display=:0\n"),
		},
	}
	resolver := NewResolver(Options{
		Runner:       runner,
		EffectiveUID: func() int { return 0 },
		LookupUser:   fakeLookupUser,
	})

	resolved, err := resolver.Resolve(context.Background())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Owner != "kiosk" {
		t.Fatalf("owner = %q, want kiosk", resolved.Owner)
	}
	if resolved.Display != ":0" {
		t.Fatalf("display = %q, want :0", resolved.Display)
	}
	if resolved.AuthorityFile != "/home/kiosk/.Xauthority" {
		t.Fatalf("authority file = %q", resolved.AuthorityFile)
	}
	if resolved.RuntimeDir != "/run/user/1000" {
		t.Fatalf("runtime dir = %q", resolved.RuntimeDir)
	}
	if resolved.BusAddress != "unix:path=/run/user/1000/bus" {
		t.Fatalf("bus address = %q", resolved.BusAddress)
	}
}

func TestResolveFallsBackToFirstNonRootSession(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		outputs: map[string][]byte{
			"loginctl list-sessions --no-legend": []byte(
				"1 0 root - pts/0\n" +
					"7 1000 kiosk - tty2\n",
			),
		},
	}
	resolver := NewResolver(Options{
		Runner:       runner,
		EffectiveUID: func() int { return 0 },
		LookupUser:   fakeLookupUser,
	})

	resolved, err := resolver.Resolve(context.Background())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Owner != "kiosk" {
		t.Fatalf("owner = %q, want kiosk", resolved.Owner)
	}
	if resolved.Display != ":0" {
		t.Fatalf("display = %q, want default :0", resolved.Display)
	}
}

func TestResolveUsesDeviceNodeOwnerWhenLoginctlUnavailable(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		errors: map[string]error{
			"loginctl list-sessions --no-legend": errors.New("loginctl: command not found"),
		},
	}
	resolver := NewResolver(Options{
		Runner:       runner,
		EffectiveUID: func() int { return 0 },
		LookupUserID: func(uid string) (*user.User, error) {
			if uid != "1000" {
				return nil, errors.New("unknown uid " + uid)
			}
			return &user.User{Uid: "1000", Username: "kiosk", HomeDir: "/home/kiosk"}, nil
		},
		DeviceOwner: func(path string) (int, error) {
			if path != DefaultDeviceNode {
				t.Fatalf("device path = %q, want %q", path, DefaultDeviceNode)
			}
			return 1000, nil
		},
	})

	resolved, err := resolver.Resolve(context.Background())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.Applicable() {
		t.Fatal("expected fallback context")
	}
	if resolved.Owner != "kiosk" {
		t.Fatalf("owner = %q, want kiosk", resolved.Owner)
	}
	if resolved.OwnerUID != 1000 {
		t.Fatalf("owner uid = %d, want 1000", resolved.OwnerUID)
	}
}

func TestResolveFailsWhenNoDiscoveryWorks(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(Options{
		Runner: &fakeRunner{
			errors: map[string]error{
				"loginctl list-sessions --no-legend": errors.New("unavailable"),
			},
		},
		EffectiveUID: func() int { return 0 },
		DeviceOwner: func(string) (int, error) {
			return 0, errors.New("no such device")
		},
	})

	if _, err := resolver.Resolve(context.Background()); err == nil {
		t.Fatal("expected discovery error")
	}
}

func TestApplyOverridesSessionVarsAndClearsPlatformPlugin(t *testing.T) {
	t.Parallel()

	resolved := Context{
		Display:       ":0",
		AuthorityFile: "/home/kiosk/.Xauthority",
		RuntimeDir:    "/run/user/1000",
		BusAddress:    "unix:path=/run/user/1000/bus",
	}
	base := []string{
		"PATH=/usr/bin",
		"DISPLAY=:99",
		"QT_QPA_PLATFORM=offscreen",
		"XDG_RUNTIME_DIR=/run/user/0",
	}

	merged := resolved.Apply(base)

	assertHas(t, merged, "PATH=/usr/bin")
	assertHas(t, merged, "DISPLAY=:0")
	assertHas(t, merged, "XAUTHORITY=/home/kiosk/.Xauthority")
	assertHas(t, merged, "XDG_RUNTIME_DIR=/run/user/1000")
	assertHas(t, merged, "DBUS_SESSION_BUS_ADDRESS=unix:path=/run/user/1000/bus")
	for _, entry := range merged {
		if entry == "DISPLAY=:99" || entry == "XDG_RUNTIME_DIR=/run/user/0" {
			t.Fatalf("stale entry %q survived merge", entry)
		}
		if strings.HasPrefix(entry, "QT_QPA_PLATFORM=") {
			t.Fatalf("platform plugin override %q must be cleared", entry)
		}
	}

	if base[1] != "DISPLAY=:99" {
		t.Fatal("apply mutated the base environment")
	}
}

func TestApplyZeroContextOnlyClearsPlatformPlugin(t *testing.T) {
	t.Parallel()

	base := []string{"DISPLAY=:1", "QT_QPA_PLATFORM=minimal"}
	merged := Context{}.Apply(base)

	assertHas(t, merged, "DISPLAY=:1")
	if len(merged) != 1 {
		t.Fatalf("merged = %v, want DISPLAY only", merged)
	}
}

func assertHas(t *testing.T, env []string, want string) {
	t.Helper()

	for _, entry := range env {
		if entry == want {
			return
		}
	}
	t.Fatalf("environment %v missing %q", env, want)
}

func fakeLookupUser(username string) (*user.User, error) {
	switch username {
	case "kiosk":
		return &user.User{Uid: "1000", Username: "kiosk", HomeDir: "/home/kiosk"}, nil
	case "gdm":
		return &user.User{Uid: "112", Username: "gdm", HomeDir: "/var/lib/gdm"}, nil
	default:
		return nil, errors.New("unknown user " + username)
	}
}

type fakeRunner struct {
	outputs map[string][]byte
	errors  map[string]error
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, key)
	if err, ok := f.errors[key]; ok {
		return nil, err
	}
	if out, ok := f.outputs[key]; ok {
		return out, nil
	}
	return []byte{}, nil
}
