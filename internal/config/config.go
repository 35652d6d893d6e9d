package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultLauncherPath    = "adplayer"
	defaultSocketPath      = "/tmp/adplayer.sock"
	defaultProcessPattern  = "adplayer"
	defaultDeviceNode      = "/dev/tty7"
	defaultReadyTimeout    = 30 * time.Second
	defaultPollInterval    = 250 * time.Millisecond
	defaultResponseTimeout = 2 * time.Second
	defaultExitGracePeriod = 2 * time.Second
	defaultFollowInterval  = 500 * time.Millisecond
)

var defaultPlayerLogPaths = []string{"/tmp/adplayer.log"}

// Config stores runtime settings loaded from TOML files.
type Config struct {
	LauncherPath    string
	LauncherArgs    []string
	SocketPath      string
	ProcessPattern  string
	DeviceNode      string
	ReadyTimeout    time.Duration
	PollInterval    time.Duration
	ResponseTimeout time.Duration
	ExitGracePeriod time.Duration
	PlayerLogPaths  []string
	FollowInterval  time.Duration
}

type fileConfig struct {
	LauncherPath    *string  `toml:"launcher_path"`
	LauncherArgs    []string `toml:"launcher_args"`
	SocketPath      *string  `toml:"socket_path"`
	ProcessPattern  *string  `toml:"process_pattern"`
	DeviceNode      *string  `toml:"device_node"`
	ReadyTimeout    *string  `toml:"ready_timeout"`
	PollInterval    *string  `toml:"poll_interval"`
	ResponseTimeout *string  `toml:"response_timeout"`
	ExitGracePeriod *string  `toml:"exit_grace_period"`
	PlayerLogPaths  []string `toml:"player_log_paths"`
	FollowInterval  *string  `toml:"follow_interval"`
}

// Load reads config from ~/.adctl/config.toml and overlays a project-local
// .adctl/config.toml.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, ".adctl", "config.toml"),
		filepath.Join(workingDir, ".adctl", "config.toml"),
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	_ = ctx
	return &cfg, nil
}

func defaults() Config {
	return Config{
		LauncherPath:    defaultLauncherPath,
		LauncherArgs:    []string{},
		SocketPath:      defaultSocketPath,
		ProcessPattern:  defaultProcessPattern,
		DeviceNode:      defaultDeviceNode,
		ReadyTimeout:    defaultReadyTimeout,
		PollInterval:    defaultPollInterval,
		ResponseTimeout: defaultResponseTimeout,
		ExitGracePeriod: defaultExitGracePeriod,
		PlayerLogPaths:  append([]string(nil), defaultPlayerLogPaths...),
		FollowInterval:  defaultFollowInterval,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	applyStringOverrides(cfg, decoded)
	if err := applyDurationOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if decoded.LauncherArgs != nil {
		cfg.LauncherArgs = append([]string(nil), decoded.LauncherArgs...)
	}
	if decoded.PlayerLogPaths != nil {
		cfg.PlayerLogPaths = cleanPaths(decoded.PlayerLogPaths)
	}
	return nil
}

func applyStringOverrides(cfg *Config, decoded fileConfig) {
	if decoded.LauncherPath != nil {
		cfg.LauncherPath = strings.TrimSpace(*decoded.LauncherPath)
	}
	if decoded.SocketPath != nil {
		cfg.SocketPath = strings.TrimSpace(*decoded.SocketPath)
	}
	if decoded.ProcessPattern != nil {
		cfg.ProcessPattern = strings.TrimSpace(*decoded.ProcessPattern)
	}
	if decoded.DeviceNode != nil {
		cfg.DeviceNode = strings.TrimSpace(*decoded.DeviceNode)
	}
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	overrides := []struct {
		value  *string
		key    string
		target *time.Duration
	}{
		{decoded.ReadyTimeout, "ready_timeout", &cfg.ReadyTimeout},
		{decoded.PollInterval, "poll_interval", &cfg.PollInterval},
		{decoded.ResponseTimeout, "response_timeout", &cfg.ResponseTimeout},
		{decoded.ExitGracePeriod, "exit_grace_period", &cfg.ExitGracePeriod},
		{decoded.FollowInterval, "follow_interval", &cfg.FollowInterval},
	}
	for _, override := range overrides {
		if override.value == nil {
			continue
		}
		parsed, err := parseDuration(*override.value, override.key, path)
		if err != nil {
			return err
		}
		if parsed <= 0 {
			return fmt.Errorf("parse %s in %q: must be positive", override.key, path)
		}
		*override.target = parsed
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}

func cleanPaths(paths []string) []string {
	cleaned := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		cleaned = append(cleaned, path)
	}
	return cleaned
}

// Validate checks the loaded configuration for values the command surface
// cannot work with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	if strings.TrimSpace(c.LauncherPath) == "" {
		return errors.New("launcher_path must not be empty")
	}
	if strings.TrimSpace(c.SocketPath) == "" {
		return errors.New("socket_path must not be empty")
	}
	return nil
}
