package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/firefly-engineering/sandboxd/internal/audit"
	"github.com/firefly-engineering/sandboxd/internal/cache"
	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/reconcile"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/runtime"
	"github.com/firefly-engineering/sandboxd/internal/store"
	"github.com/firefly-engineering/sandboxd/internal/system"
	"github.com/firefly-engineering/sandboxd/internal/testutil"
	"github.com/firefly-engineering/sandboxd/internal/workspace"
)

const workspacesRoot = "/srv/sandboxd/workspaces"

// revocations records invalidated visitor sessions.
type revocations struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *revocations) Invalidate(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, sessionID)
	return r.err
}

func (r *revocations) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

// testEnv wires the lifecycle components against in-memory fakes and a
// SQLite store.
type testEnv struct {
	store    *store.Store
	rt       *runtime.MockRuntime
	clock    *testutil.Clock
	cache    *cache.Memory
	fs       *system.MockFS
	dirs     *workspace.Dirs
	sessions *revocations
	audit    *audit.Logger

	teardown  *Teardown
	prov      *Provisioner
	collector *Collector
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	env := &testEnv{
		store:    testutil.NewStore(t, store.WithClock(clock.Now)),
		rt:       runtime.NewMockRuntime(),
		clock:    clock,
		cache:    cache.NewMemory(),
		fs:       system.NewMockFS(),
		sessions: &revocations{},
		audit:    audit.NewLogger(t.TempDir()),
	}
	env.dirs = workspace.New(workspacesRoot, env.fs)

	validator := reconcile.New(env.store, env.rt,
		reconcile.WithClock(clock.Now),
		reconcile.WithLogger(logging.Discard()),
	)

	all := append([]Option{
		WithCache(env.cache),
		WithWorkspaces(env.dirs),
		WithSessionInvalidator(env.sessions),
		WithAuditLog(env.audit),
		WithClock(clock.Now),
		WithLogger(logging.Discard()),
	}, opts...)

	env.teardown = NewTeardown(env.store, env.rt, all...)
	env.prov = NewProvisioner(env.store, env.rt, validator, env.teardown, all...)
	env.collector = NewCollector(env.store, env.rt, validator, env.teardown, all...)
	return env
}

func (e *testEnv) get(t *testing.T, id string) *record.Record {
	t.Helper()
	rec, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) error: %v", id, err)
	}
	return rec
}

func (e *testEnv) provision(t *testing.T, kind record.OwnerKind, ref string) *record.Record {
	t.Helper()
	rec, err := e.prov.Provision(context.Background(), Owner{Kind: kind, Ref: ref})
	if err != nil {
		t.Fatalf("Provision(%s, %s) error: %v", kind, ref, err)
	}
	return rec
}
