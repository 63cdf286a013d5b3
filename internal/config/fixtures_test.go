package config_test

import (
	"testing"

	"github.com/firefly-engineering/sandboxd/internal/config"
	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/testutil"
)

func TestValidate_Fixtures(t *testing.T) {
	tests := []struct {
		name    string
		load    func() (*config.Config, error)
		wantErr bool
	}{
		{"valid", testutil.ValidConfig, false},
		{"invalid", testutil.InvalidConfig, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := tt.load()
			if err != nil {
				t.Fatalf("load fixture: %v", err)
			}
			err = cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && errors.GetExitCode(err) != errors.ExitConfigError {
				t.Errorf("exit code = %d, want %d", errors.GetExitCode(err), errors.ExitConfigError)
			}
		})
	}
}

// Each broken section of the invalid fixture is rejected on its own.
func TestValidate_InvalidFixtureSections(t *testing.T) {
	broken, err := testutil.InvalidConfig()
	if err != nil {
		t.Fatalf("InvalidConfig() error: %v", err)
	}

	tests := []struct {
		name  string
		apply func(*config.Config)
	}{
		{"store driver", func(c *config.Config) { c.Store = broken.Store }},
		{"runtime type", func(c *config.Config) { c.Runtime.Type = broken.Runtime.Type }},
		{"visitor ttl", func(c *config.Config) { c.Sandbox.VisitorTTL = broken.Sandbox.VisitorTTL }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := testutil.ValidConfig()
			if err != nil {
				t.Fatalf("ValidConfig() error: %v", err)
			}
			tt.apply(cfg)
			if err := cfg.Validate(); errors.GetExitCode(err) != errors.ExitConfigError {
				t.Errorf("Validate() error = %v, want a config error", err)
			}
		})
	}
}
