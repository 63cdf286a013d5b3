package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kballard/go-shellquote"

	"github.com/firefly-engineering/sandboxd/internal/errors"
)

const (
	DefaultConfigPath = "/etc/sandboxd/sandboxd.toml"
	DefaultStateDir   = "/var/lib/sandboxd"
	ContainerPrefix   = "sandboxd-"

	// EnvConfigPath names the config file when --config is not given.
	EnvConfigPath = "SANDBOXD_CONFIG"
)

// Duration is a time.Duration that decodes from TOML strings such as "45s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the sandboxd configuration file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
	Runtime RuntimeConfig `toml:"runtime"`
	Sandbox SandboxConfig `toml:"sandbox"`
	Reaper  ReaperConfig  `toml:"reaper"`
	Redis   RedisConfig   `toml:"redis"`
	Session SessionConfig `toml:"session"`
	Audit   AuditConfig   `toml:"audit"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
	SessionCookie  string   `toml:"session_cookie"`
	// TrustAuthHeaders accepts X-Auth-User and X-Auth-Role from an
	// authenticating proxy in front of sandboxd.
	TrustAuthHeaders bool `toml:"trust_auth_headers"`
}

// StoreConfig selects the record database.
type StoreConfig struct {
	Driver       string `toml:"driver"`
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// RuntimeConfig selects and tunes the container runtime.
type RuntimeConfig struct {
	Type            string   `toml:"type"`
	Image           string   `toml:"image"`
	Command         string   `toml:"command"`
	ContainerPrefix string   `toml:"container_prefix"`
	BootTimeout     Duration `toml:"boot_timeout"`
	StopTimeout     Duration `toml:"stop_timeout"`
	CPUs            float64  `toml:"cpus"`
	MemoryMB        int      `toml:"memory_mb"`
	ExtraArgs       string   `toml:"extra_args"`
}

// SandboxConfig holds lifecycle policy.
type SandboxConfig struct {
	VisitorTTL     Duration `toml:"visitor_ttl"`
	ProvisionGrace Duration `toml:"provision_grace"`
	// WorkspacesDir, when set, gives each sandbox a host directory mounted
	// at /workspace.
	WorkspacesDir string `toml:"workspaces_dir"`
}

// ReaperConfig configures the background expiry sweep.
type ReaperConfig struct {
	Interval       Duration `toml:"interval"`
	ReclaimOrphans bool     `toml:"reclaim_orphans"`
}

// RedisConfig enables the Redis session store and sandbox cache.
type RedisConfig struct {
	URL       string `toml:"url"`
	KeyPrefix string `toml:"key_prefix"`
}

// SessionConfig configures visitor sessions.
type SessionConfig struct {
	TTL Duration `toml:"ttl"`
}

// AuditConfig configures the runtime audit log.
type AuditConfig struct {
	Dir string `toml:"dir"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":8080",
			SessionCookie: "sandboxd_session",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    DefaultStateDir + "/sandboxd.db",
		},
		Runtime: RuntimeConfig{
			Type:            "auto",
			Image:           "docker.io/library/alpine:3",
			Command:         "sleep infinity",
			ContainerPrefix: ContainerPrefix,
			BootTimeout:     Duration{45 * time.Second},
			StopTimeout:     Duration{10 * time.Second},
		},
		Sandbox: SandboxConfig{
			VisitorTTL:     Duration{time.Hour},
			ProvisionGrace: Duration{2 * time.Minute},
		},
		Reaper: ReaperConfig{
			Interval: Duration{time.Minute},
		},
		Redis: RedisConfig{
			KeyPrefix: "sandboxd:",
		},
		Session: SessionConfig{
			TTL: Duration{24 * time.Hour},
		},
		Audit: AuditConfig{
			Dir: DefaultStateDir + "/audit",
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins), then
// validates the result. A missing file is not an error; an unreadable or
// malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, errors.ConfigError(fmt.Sprintf("failed to parse %s", path), err)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.ConfigError(fmt.Sprintf("failed to read %s", path), err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv applies SANDBOXD_* environment overrides.
func (c *Config) applyEnv() error {
	if v := os.Getenv("SANDBOXD_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("SANDBOXD_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("SANDBOXD_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("SANDBOXD_RUNTIME"); v != "" {
		c.Runtime.Type = v
	}
	if v := os.Getenv("SANDBOXD_IMAGE"); v != "" {
		c.Runtime.Image = v
	}
	if v := os.Getenv("SANDBOXD_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("SANDBOXD_VISITOR_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.ConfigError("invalid SANDBOXD_VISITOR_TTL", err)
		}
		c.Sandbox.VisitorTTL = Duration{d}
	}
	if v := os.Getenv("SANDBOXD_WORKSPACES_DIR"); v != "" {
		c.Sandbox.WorkspacesDir = v
	}
	if v := os.Getenv("SANDBOXD_AUDIT_DIR"); v != "" {
		c.Audit.Dir = v
	}
	if v := os.Getenv("SANDBOXD_TRUST_AUTH_HEADERS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.ConfigError("invalid SANDBOXD_TRUST_AUTH_HEADERS", err)
		}
		c.Server.TrustAuthHeaders = b
	}
	return nil
}

// Validate checks that the Config is usable.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "sqlite3", "postgres", "postgresql", "pgx":
		if c.Store.DSN == "" {
			return errors.ConfigError(fmt.Sprintf("store.dsn is required for driver %q", c.Store.Driver), nil)
		}
	case "memory":
	default:
		return errors.ConfigError(fmt.Sprintf("unknown store driver %q (must be sqlite, postgres or memory)", c.Store.Driver), nil)
	}

	switch c.Runtime.Type {
	case "auto", "docker", "podman", "engine", "mock":
	default:
		return errors.ConfigError(fmt.Sprintf("unknown runtime type %q (must be auto, docker, podman or engine)", c.Runtime.Type), nil)
	}

	if _, err := shellquote.Split(c.Runtime.Command); err != nil {
		return errors.ConfigError("runtime.command is not valid shell syntax", err)
	}
	if _, err := shellquote.Split(c.Runtime.ExtraArgs); err != nil {
		return errors.ConfigError("runtime.extra_args is not valid shell syntax", err)
	}
	if c.Runtime.Image == "" {
		return errors.ConfigError("runtime.image is required", nil)
	}
	if c.Runtime.BootTimeout.Duration <= 0 {
		return errors.ConfigError("runtime.boot_timeout must be positive", nil)
	}
	if c.Runtime.CPUs < 0 || c.Runtime.MemoryMB < 0 {
		return errors.ConfigError("runtime limits cannot be negative", nil)
	}

	if c.Sandbox.VisitorTTL.Duration <= 0 {
		return errors.ConfigError("sandbox.visitor_ttl must be positive", nil)
	}
	if c.Sandbox.ProvisionGrace.Duration <= 0 {
		return errors.ConfigError("sandbox.provision_grace must be positive", nil)
	}
	if c.Reaper.Interval.Duration <= 0 {
		return errors.ConfigError("reaper.interval must be positive", nil)
	}

	if c.Server.SessionCookie == "" {
		return errors.ConfigError("server.session_cookie cannot be empty", nil)
	}

	return nil
}
