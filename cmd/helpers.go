package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/firefly-engineering/sandboxd/internal/app"
	"github.com/firefly-engineering/sandboxd/internal/config"
	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/record"
)

const defaultConfigHint = config.DefaultConfigPath

// ownsDefault is true when getApp built app.Default and must close it.
var ownsDefault bool

// resolveConfigPath returns --config, then $SANDBOXD_CONFIG, then the
// default path.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if v := os.Getenv(config.EnvConfigPath); v != "" {
		return v
	}
	return config.DefaultConfigPath
}

// getApp returns the application, building it from the config file on
// first use.
func getApp(ctx context.Context) (*app.App, error) {
	if app.Default != nil {
		return app.Default, nil
	}
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.SetDefault(a)
	ownsDefault = true
	return a, nil
}

// Output formats accepted by -o.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return errors.ValidationError(fmt.Sprintf("unknown output format %q (want table, json or yaml)", format))
	}
}

// writeStructured renders v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q is not structured", format)
	}
}

// parseStatuses parses a comma separated status filter.
func parseStatuses(raw string) ([]record.Status, error) {
	var out []record.Status
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s := record.Status(part)
		if !s.Valid() {
			return nil, errors.ValidationError("unknown status " + part)
		}
		out = append(out, s)
	}
	return out, nil
}

// formatAge renders how long ago t was, relative to now.
func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// formatExpiry renders a record's expiry for tables.
func formatExpiry(rec *record.Record, now time.Time) string {
	if rec.ExpiresAt == nil {
		return "-"
	}
	if !rec.ExpiresAt.After(now) {
		return "expired"
	}
	return "in " + formatAge(now, *rec.ExpiresAt)
}
