package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/system"
)

// RuntimeType identifies which container runtime to use
type RuntimeType string

const (
	RuntimeDocker RuntimeType = "docker"
	RuntimePodman RuntimeType = "podman"
	RuntimeEngine RuntimeType = "engine"
	RuntimeMock   RuntimeType = "mock"
	RuntimeAuto   RuntimeType = "auto"
)

// Config holds runtime configuration
type Config struct {
	// Type specifies which runtime to use (or "auto" for auto-detection)
	Type RuntimeType

	// ContainerPrefix is prepended to sandbox ids
	ContainerPrefix string

	// Image is the default container image.
	Image string

	// Command is the container command as a shell-quoted string.
	Command string

	BootTimeout  time.Duration
	PollInterval time.Duration
	StopTimeout  time.Duration

	CPUs     float64
	MemoryMB int

	// ExtraArgs are extra CLI create arguments as a shell-quoted string.
	ExtraArgs string

	// Executor runs CLI commands. Nil means system.DefaultExecutor().
	Executor system.CommandExecutor
}

// DefaultConfig returns the default runtime configuration
func DefaultConfig() *Config {
	return &Config{
		Type:            RuntimeAuto,
		ContainerPrefix: "sandboxd-",
		Image:           "docker.io/library/alpine:3",
		Command:         "sleep infinity",
		BootTimeout:     DefaultBootTimeout,
		PollInterval:    DefaultPollInterval,
		StopTimeout:     DefaultStopTimeout,
	}
}

// Detect determines which container CLI is available, preferring podman.
func Detect(exec system.CommandExecutor) (RuntimeType, error) {
	if exec == nil {
		exec = system.DefaultExecutor()
	}

	if _, err := exec.LookPath("podman"); err == nil {
		logging.Debug("detected podman")
		return RuntimePodman, nil
	}

	if _, err := exec.LookPath("docker"); err == nil {
		logging.Debug("detected docker")
		return RuntimeDocker, nil
	}

	return "", errors.RuntimeUnreachable(fmt.Errorf("no supported container runtime found (tried: podman, docker)"))
}

// New creates a new Runtime based on the configuration.
// If Type is RuntimeAuto, it auto-detects the best runtime.
func New(cfg *Config) (Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	cmd, err := shellquote.Split(cfg.Command)
	if err != nil {
		return nil, errors.ConfigError("invalid runtime command", err)
	}
	extra, err := shellquote.Split(cfg.ExtraArgs)
	if err != nil {
		return nil, errors.ConfigError("invalid runtime extra_args", err)
	}

	runtimeType := cfg.Type
	if runtimeType == "" || runtimeType == RuntimeAuto {
		detected, err := Detect(cfg.Executor)
		if err != nil {
			return nil, err
		}
		runtimeType = detected
	}

	logging.Debug("creating runtime", "type", runtimeType)

	switch runtimeType {
	case RuntimeDocker, RuntimePodman:
		rt := NewDockerRuntime(string(runtimeType), cfg.ContainerPrefix)
		rt.Image = cfg.Image
		rt.Cmd = cmd
		rt.CPUs = cfg.CPUs
		rt.MemoryMB = cfg.MemoryMB
		rt.ExtraArgs = extra
		rt.Executor = cfg.Executor
		applyTimeouts(&rt.BootTimeout, &rt.PollInterval, &rt.StopTimeout, cfg)
		return rt, nil

	case RuntimeEngine:
		if len(extra) > 0 {
			logging.Warn("extra_args are ignored by the engine runtime")
		}
		rt, err := NewEngineRuntime(cfg.ContainerPrefix)
		if err != nil {
			return nil, err
		}
		rt.Image = cfg.Image
		rt.Cmd = cmd
		rt.CPUs = cfg.CPUs
		rt.MemoryMB = cfg.MemoryMB
		applyTimeouts(&rt.BootTimeout, &rt.PollInterval, &rt.StopTimeout, cfg)
		return rt, nil

	case RuntimeMock:
		m := NewMockRuntime()
		m.BootTimeout = cfg.BootTimeout
		return m, nil

	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown runtime type: %s", runtimeType), nil)
	}
}

func applyTimeouts(boot, poll, stop *time.Duration, cfg *Config) {
	if cfg.BootTimeout > 0 {
		*boot = cfg.BootTimeout
	}
	if cfg.PollInterval > 0 {
		*poll = cfg.PollInterval
	}
	if cfg.StopTimeout > 0 {
		*stop = cfg.StopTimeout
	}
}

// Available returns the container CLIs found on this system
func Available(exec system.CommandExecutor) []RuntimeType {
	if exec == nil {
		exec = system.DefaultExecutor()
	}

	var available []RuntimeType
	if _, err := exec.LookPath("podman"); err == nil {
		available = append(available, RuntimePodman)
	}
	if _, err := exec.LookPath("docker"); err == nil {
		available = append(available, RuntimeDocker)
	}
	return available
}

// CheckAvailability verifies that rt can reach its engine.
func CheckAvailability(ctx context.Context, rt Runtime) error {
	if err := rt.Ping(ctx); err != nil {
		return fmt.Errorf("%s runtime is not available: %w", rt.Name(), err)
	}
	return nil
}
