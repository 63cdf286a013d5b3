package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/firefly-engineering/sandboxd/internal/cache"
	"github.com/firefly-engineering/sandboxd/internal/config"
	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/runtime"
	"github.com/firefly-engineering/sandboxd/internal/session"
	"github.com/firefly-engineering/sandboxd/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.DSN = filepath.Join(dir, "sandboxd.db")
	cfg.Runtime.Type = "mock"
	cfg.Audit.Dir = filepath.Join(dir, "audit")
	cfg.Sandbox.WorkspacesDir = filepath.Join(dir, "workspaces")
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Close(context.Background()); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return a
}

func TestNew(t *testing.T) {
	a := newApp(t, testConfig(t))

	if a.Store == nil || a.Runtime == nil || a.Audit == nil {
		t.Fatal("store, runtime and audit log should be set")
	}
	if a.Workspaces == nil {
		t.Error("Workspaces should be set when workspaces_dir is configured")
	}
	if _, ok := a.Cache.(*cache.Memory); !ok {
		t.Errorf("Cache = %T, want *cache.Memory without redis", a.Cache)
	}
	if _, ok := a.Sessions.(*session.MemoryStore); !ok {
		t.Errorf("Sessions = %T, want *session.MemoryStore without redis", a.Sessions)
	}
	if _, ok := a.Runtime.(*runtime.Audited); !ok {
		t.Errorf("Runtime = %T, want audited", a.Runtime)
	}
	if a.Validator == nil || a.Teardown == nil || a.Provisioner == nil ||
		a.Collector == nil || a.Binder == nil || a.Reaper == nil {
		t.Error("lifecycle components should all be set")
	}
}

func TestNew_FromFixture(t *testing.T) {
	cfg, err := testutil.ValidConfig()
	if err != nil {
		t.Fatalf("ValidConfig() error: %v", err)
	}
	dir := t.TempDir()
	cfg.Audit.Dir = filepath.Join(dir, "audit")
	cfg.Sandbox.WorkspacesDir = filepath.Join(dir, "workspaces")

	a := newApp(t, cfg)
	ctx := context.Background()

	audited, ok := a.Runtime.(*runtime.Audited)
	if !ok {
		t.Fatalf("Runtime = %T, want audited", a.Runtime)
	}
	if _, ok := audited.Unwrap().(*runtime.MockRuntime); !ok {
		t.Errorf("wrapped runtime = %T, want the mock runtime", audited.Unwrap())
	}
	if err := a.Store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}

	caller := session.Account(record.OwnerUser, "fixture-user", nil)
	res, err := a.Binder.Open(ctx, caller, true)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if res.Phase != session.PhaseReady || res.Status != record.StatusRunning {
		t.Errorf("Open = %+v, want a running sandbox", res)
	}
}

func TestNew_InvalidFixture(t *testing.T) {
	cfg, err := testutil.InvalidConfig()
	if err != nil {
		t.Fatalf("InvalidConfig() error: %v", err)
	}
	cfg.Audit.Dir = filepath.Join(t.TempDir(), "audit")

	_, err = New(context.Background(), cfg)
	if errors.GetExitCode(err) != errors.ExitConfigError {
		t.Errorf("New() error = %v, want a config error", err)
	}
}

func TestNew_WithRuntime(t *testing.T) {
	mockRuntime := runtime.NewMockRuntime()

	a := newApp(t, testConfig(t), WithRuntime(mockRuntime))

	if a.Runtime != mockRuntime {
		t.Error("WithRuntime did not set runtime")
	}
}

func TestNew_WithStore(t *testing.T) {
	s := testutil.NewStore(t)

	a := newApp(t, testConfig(t), WithStore(s))

	if a.Store != s {
		t.Error("WithStore did not set store")
	}
}

func TestNew_InvalidRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.URL = "not a url"

	_, err := New(context.Background(), cfg)
	if errors.GetExitCode(err) != errors.ExitConfigError {
		t.Errorf("New() error = %v, want a config error", err)
	}
}

func TestNew_Redis(t *testing.T) {
	client, prefix := testutil.RedisClient(t)
	cfg := testConfig(t)
	cfg.Redis.URL = "redis://" + client.Options().Addr
	cfg.Redis.KeyPrefix = prefix

	a := newApp(t, cfg)

	if _, ok := a.Cache.(*cache.Redis); !ok {
		t.Errorf("Cache = %T, want *cache.Redis", a.Cache)
	}
	if _, ok := a.Sessions.(*session.RedisStore); !ok {
		t.Errorf("Sessions = %T, want *session.RedisStore", a.Sessions)
	}
}

func TestApp_EndToEnd(t *testing.T) {
	rt := runtime.NewMockRuntime()
	a := newApp(t, testConfig(t), WithRuntime(rt))
	ctx := context.Background()

	caller := session.Account(record.OwnerUser, "u1", nil)
	res, err := a.Binder.Open(ctx, caller, true)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if res.Phase != session.PhaseReady {
		t.Fatalf("phase = %s, want ready", res.Phase)
	}
	if !a.Workspaces.Exists(res.SandboxID) {
		t.Error("workspace directory should exist")
	}

	if _, err := a.Binder.Destroy(ctx, caller, res.SandboxID); err != nil {
		t.Fatalf("Destroy error: %v", err)
	}
	a.Teardown.Wait()

	rec, err := a.Store.Get(ctx, res.SandboxID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec.Status != record.StatusDeleted {
		t.Errorf("status = %s, want deleted", rec.Status)
	}
	if a.Workspaces.Exists(res.SandboxID) {
		t.Error("workspace directory should be removed")
	}
}

func TestSetDefault(t *testing.T) {
	defer ResetDefault()

	custom := &App{}
	SetDefault(custom)
	if Default != custom {
		t.Error("SetDefault did not set custom app")
	}

	ResetDefault()
	if Default != nil {
		t.Error("ResetDefault should clear the default app")
	}
}
