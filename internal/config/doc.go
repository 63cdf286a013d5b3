// Package config provides configuration types and loading for sandboxd.
//
// # Configuration File
//
// Configuration is a single TOML file, /etc/sandboxd/sandboxd.toml by
// default, overridden by --config or $SANDBOXD_CONFIG:
//
//	[server]
//	addr = ":8080"
//	allowed_origins = ["https://editor.example.com"]
//	trust_auth_headers = true
//
//	[store]
//	driver = "postgres"
//	dsn = "postgres://sandboxd@db/sandboxd"
//
//	[runtime]
//	type = "podman"
//	image = "ghcr.io/example/editor-sandbox:latest"
//	command = "sleep infinity"
//	boot_timeout = "45s"
//
//	[sandbox]
//	visitor_ttl = "1h"
//	provision_grace = "2m"
//	workspaces_dir = "/var/lib/sandboxd/workspaces"
//
//	[reaper]
//	interval = "1m"
//
//	[redis]
//	url = "redis://localhost:6379/0"
//
// Durations are Go duration strings.
//
// # Precedence
//
// Load applies defaults, then the file (a missing file is fine), then
// SANDBOXD_* environment variables, then Validate. Every failure is a
// config error with exit code 6.
package config
