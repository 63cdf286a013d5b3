package session

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/reconcile"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/runtime"
	"github.com/firefly-engineering/sandboxd/internal/sandbox"
	"github.com/firefly-engineering/sandboxd/internal/store"
	"github.com/firefly-engineering/sandboxd/internal/testutil"
)

type binderEnv struct {
	store    *store.Store
	rt       *runtime.MockRuntime
	clock    *testutil.Clock
	sessions *MemoryStore
	teardown *sandbox.Teardown
	binder   *Binder
}

func newBinderEnv(t *testing.T) *binderEnv {
	t.Helper()

	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	env := &binderEnv{
		store:    testutil.NewStore(t, store.WithClock(clock.Now)),
		rt:       runtime.NewMockRuntime(),
		clock:    clock,
		sessions: NewMemoryStore(0),
	}
	env.sessions.now = clock.Now

	validator := reconcile.New(env.store, env.rt,
		reconcile.WithClock(clock.Now),
		reconcile.WithLogger(logging.Discard()),
	)
	opts := []sandbox.Option{
		sandbox.WithSessionInvalidator(sandbox.InvalidatorFunc(env.sessions.Delete)),
		sandbox.WithClock(clock.Now),
		sandbox.WithLogger(logging.Discard()),
	}
	env.teardown = sandbox.NewTeardown(env.store, env.rt, opts...)
	prov := sandbox.NewProvisioner(env.store, env.rt, validator, env.teardown, opts...)
	env.binder = NewBinder(env.store, prov, env.teardown, env.sessions,
		WithClock(clock.Now),
		WithLogger(logging.Discard()),
	)
	return env
}

func (e *binderEnv) visitor(t *testing.T) CallerContext {
	t.Helper()
	s := New(e.clock.Now())
	if err := e.sessions.Save(context.Background(), s); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	return Visitor(s)
}

func (e *binderEnv) records(t *testing.T) []*record.Record {
	t.Helper()
	recs, err := e.store.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	return recs
}

func TestOpen_AdminBypass(t *testing.T) {
	env := newBinderEnv(t)
	admin := Account(record.OwnerAdmin, "admin-1", nil)

	for _, explicit := range []bool{false, true} {
		res, err := env.binder.Open(context.Background(), admin, explicit)
		if err != nil {
			t.Fatalf("Open(explicit=%v) error: %v", explicit, err)
		}
		if !res.AdminRoot || res.Phase != PhaseAdminRoot {
			t.Errorf("Open(explicit=%v) = %+v, want admin root", explicit, res)
		}
	}

	if recs := env.records(t); len(recs) != 0 {
		t.Errorf("records = %d, want 0", len(recs))
	}
	if env.rt.CreatedCount() != 0 {
		t.Error("admin bypass must not create a container")
	}
}

func TestOpen_AdminWithPreference(t *testing.T) {
	env := newBinderEnv(t)
	admin := Account(record.OwnerAdmin, "admin-1", &Session{ID: "s1", PreferSandbox: true})

	res, err := env.binder.Open(context.Background(), admin, true)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if res.AdminRoot || res.Phase != PhaseReady {
		t.Errorf("result = %+v, want a ready sandbox", res)
	}
	if res.SandboxID == "" || !env.rt.HasContainer(res.SandboxID) {
		t.Error("admin with a sandbox preference should get a container")
	}
}

func TestOpen_ViewingDoesNotCreate(t *testing.T) {
	env := newBinderEnv(t)
	caller := env.visitor(t)

	res, err := env.binder.Open(context.Background(), caller, false)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if res.Phase != PhaseNotCreated || !res.NeedsSetup || res.SandboxID != "" {
		t.Errorf("result = %+v, want not_created", res)
	}
	if recs := env.records(t); len(recs) != 0 {
		t.Errorf("records = %d, want 0", len(recs))
	}
}

func TestOpen_FreshVisitor(t *testing.T) {
	env := newBinderEnv(t)
	ctx := context.Background()
	caller := env.visitor(t)

	res, err := env.binder.Open(ctx, caller, true)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if res.Phase != PhaseReady || res.Status != record.StatusRunning || res.NeedsSetup {
		t.Errorf("result = %+v, want ready", res)
	}
	if res.Session != nil {
		t.Error("a fresh visitor keeps their session")
	}

	rec, err := env.store.Get(ctx, res.SandboxID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	want := env.clock.Now().Add(time.Hour)
	if rec.ExpiresAt == nil || !rec.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", rec.ExpiresAt, want)
	}

	s, _ := env.sessions.Get(ctx, caller.SessionID)
	if s == nil || s.SandboxID != res.SandboxID {
		t.Errorf("session = %+v, want bound to %s", s, res.SandboxID)
	}

	// Viewing again reuses it.
	again, err := env.binder.Open(ctx, caller, false)
	if err != nil {
		t.Fatalf("second Open error: %v", err)
	}
	if again.SandboxID != res.SandboxID || again.Phase != PhaseReady {
		t.Errorf("second Open = %+v, want the same ready sandbox", again)
	}
}

func TestOpen_ExpiredVisitorReopen(t *testing.T) {
	env := newBinderEnv(t)
	ctx := context.Background()
	caller := env.visitor(t)

	first, err := env.binder.Open(ctx, caller, true)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	env.clock.Advance(3601 * time.Second)

	res, err := env.binder.Open(ctx, caller, true)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if res.Session == nil || res.Session.ID == caller.SessionID {
		t.Fatalf("session = %+v, want a fresh identity", res.Session)
	}
	if res.SandboxID == "" || res.SandboxID == first.SandboxID {
		t.Errorf("sandbox id = %q, want a new id", res.SandboxID)
	}

	old, _ := env.store.Get(ctx, first.SandboxID)
	if old.Status != record.StatusDeleted {
		t.Errorf("old status = %s, want deleted", old.Status)
	}
	if env.rt.HasContainer(first.SandboxID) {
		t.Error("old container should be deleted")
	}
	if s, _ := env.sessions.Get(ctx, caller.SessionID); s != nil {
		t.Error("old session should be invalidated")
	}

	rec, _ := env.store.Get(ctx, res.SandboxID)
	if rec.OwnerRef != res.Session.ID {
		t.Errorf("new sandbox owner = %q, want the new session %q", rec.OwnerRef, res.Session.ID)
	}
	want := env.clock.Now().Add(time.Hour)
	if rec.ExpiresAt == nil || !rec.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", rec.ExpiresAt, want)
	}
}

func TestOpen_ExpiredVisitorViewing(t *testing.T) {
	env := newBinderEnv(t)
	ctx := context.Background()
	caller := env.visitor(t)

	if _, err := env.binder.Open(ctx, caller, true); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	env.clock.Advance(2 * time.Hour)

	res, err := env.binder.Open(ctx, caller, false)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if res.Phase != PhaseNotCreated || res.Session == nil {
		t.Errorf("result = %+v, want not_created with a new session", res)
	}
	if env.rt.ContainerCount() != 0 {
		t.Errorf("containers = %d, want 0", env.rt.ContainerCount())
	}
}

func TestOpen_ProvisionFailureNeedsSetup(t *testing.T) {
	env := newBinderEnv(t)
	caller := Account(record.OwnerUser, "u1", nil)
	env.rt.SetError("Create", stderrors.New("image pull failed"))

	res, err := env.binder.Open(context.Background(), caller, true)
	if err != nil {
		t.Fatalf("Open error = %v, want a needs-setup result", err)
	}
	if !res.NeedsSetup || res.Phase != PhaseInstalled || res.SandboxID == "" {
		t.Errorf("result = %+v, want needs setup", res)
	}
	if res.Status != record.StatusProvisioning {
		t.Errorf("status = %s, want provisioning", res.Status)
	}

	// Viewing shows the half-provisioned sandbox.
	view, err := env.binder.Open(context.Background(), caller, false)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if view.SandboxID != res.SandboxID || !view.NeedsSetup {
		t.Errorf("view = %+v", view)
	}

	env.rt.SetError("Create", nil)
	retry, err := env.binder.Open(context.Background(), caller, true)
	if err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if retry.SandboxID != res.SandboxID || retry.Phase != PhaseReady {
		t.Errorf("retry = %+v, want the same sandbox ready", retry)
	}
}

func TestStart(t *testing.T) {
	env := newBinderEnv(t)
	ctx := context.Background()
	caller := Account(record.OwnerUser, "u1", nil)

	if _, err := env.binder.Start(ctx, caller); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Start without sandbox error = %v, want not found", err)
	}

	opened, err := env.binder.Open(ctx, caller, true)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := env.rt.Stop(ctx, opened.SandboxID); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	view, _ := env.binder.Open(ctx, caller, false)
	if view.Phase != PhaseInstalled || view.Status != record.StatusStopped {
		t.Errorf("view = %+v, want installed/stopped", view)
	}

	res, err := env.binder.Start(ctx, caller)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if res.SandboxID != opened.SandboxID || res.Status != record.StatusRunning {
		t.Errorf("Start = %+v", res)
	}
}

func TestDestroy(t *testing.T) {
	env := newBinderEnv(t)
	ctx := context.Background()
	caller := env.visitor(t)

	opened, err := env.binder.Open(ctx, caller, true)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	res, err := env.binder.Destroy(ctx, caller, opened.SandboxID)
	if err != nil {
		t.Fatalf("Destroy error: %v", err)
	}
	if res.Status != record.StatusDeleting {
		t.Errorf("status = %s, want deleting", res.Status)
	}
	if res.Session == nil || res.Session.ID == caller.SessionID {
		t.Error("visitor should get a fresh session")
	}

	env.teardown.Wait()
	rec, _ := env.store.Get(ctx, opened.SandboxID)
	if rec.Status != record.StatusDeleted {
		t.Errorf("status after teardown = %s, want deleted", rec.Status)
	}
	if env.rt.HasContainer(opened.SandboxID) {
		t.Error("container should be deleted")
	}
}

func TestDestroy_Ownership(t *testing.T) {
	env := newBinderEnv(t)
	ctx := context.Background()
	owner := Account(record.OwnerUser, "alice", nil)

	opened, err := env.binder.Open(ctx, owner, true)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	_, err = env.binder.Destroy(ctx, Account(record.OwnerUser, "bob", nil), opened.SandboxID)
	if !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Destroy by another user error = %v, want forbidden", err)
	}
	_, err = env.binder.Destroy(ctx, env.visitor(t), opened.SandboxID)
	if !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Destroy by a visitor error = %v, want forbidden", err)
	}

	res, err := env.binder.Destroy(ctx, Account(record.OwnerAdmin, "root", nil), opened.SandboxID)
	if err != nil {
		t.Fatalf("Destroy by admin error: %v", err)
	}
	if res.Session != nil {
		t.Error("admin session should not rotate")
	}
	env.teardown.Wait()

	if _, err := env.binder.Destroy(ctx, owner, "missing"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Destroy(missing) error = %v, want not found", err)
	}
}

func TestOpen_RevokedVisitorSession(t *testing.T) {
	env := newBinderEnv(t)
	ctx := context.Background()
	caller := env.visitor(t)

	// Another request tore down the visitor's sandbox and revoked the
	// session after this caller was resolved.
	if err := env.sessions.Delete(ctx, caller.SessionID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	res, err := env.binder.Open(ctx, caller, true)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if res.Session == nil || res.Session.ID == caller.SessionID {
		t.Fatalf("session = %+v, want a fresh identity", res.Session)
	}

	rec, err := env.store.Get(ctx, res.SandboxID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec.OwnerRef != res.Session.ID {
		t.Errorf("owner = %q, want the fresh session %q", rec.OwnerRef, res.Session.ID)
	}
	s, _ := env.sessions.Get(ctx, res.Session.ID)
	if s == nil || s.SandboxID != res.SandboxID {
		t.Errorf("fresh session = %+v, want bound to %s", s, res.SandboxID)
	}
}

func TestStart_ExpiredVisitor(t *testing.T) {
	env := newBinderEnv(t)
	ctx := context.Background()
	caller := env.visitor(t)

	if _, err := env.binder.Open(ctx, caller, true); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	env.clock.Advance(2 * time.Hour)

	res, err := env.binder.Start(ctx, caller)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if res.Phase != PhaseNotCreated || !res.NeedsSetup {
		t.Errorf("result = %+v, want not_created", res)
	}
	if res.Session == nil || res.Session.ID == caller.SessionID {
		t.Errorf("session = %+v, want a fresh identity", res.Session)
	}
	if env.rt.ContainerCount() != 0 {
		t.Errorf("containers = %d, want 0", env.rt.ContainerCount())
	}
}

func TestStop(t *testing.T) {
	env := newBinderEnv(t)
	ctx := context.Background()
	caller := Account(record.OwnerUser, "u1", nil)

	if _, err := env.binder.Stop(ctx, caller); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Stop without sandbox error = %v, want not found", err)
	}

	opened, err := env.binder.Open(ctx, caller, true)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	res, err := env.binder.Stop(ctx, caller)
	if err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if res.SandboxID != opened.SandboxID || res.Status != record.StatusStopped || res.Phase != PhaseInstalled {
		t.Errorf("Stop = %+v, want installed/stopped", res)
	}
	if got, _ := env.rt.Status(ctx, opened.SandboxID); got != runtime.StatusStopped {
		t.Errorf("container status = %s, want stopped", got)
	}
	rec, _ := env.store.Get(ctx, opened.SandboxID)
	if rec.Status != record.StatusStopped {
		t.Errorf("record status = %s, want stopped", rec.Status)
	}

	t.Run("stopping again is a no-op", func(t *testing.T) {
		again, err := env.binder.Stop(ctx, caller)
		if err != nil {
			t.Fatalf("Stop error: %v", err)
		}
		if again.Status != record.StatusStopped {
			t.Errorf("status = %s, want stopped", again.Status)
		}
		if n := len(env.rt.GetCallsFor("Stop")); n != 1 {
			t.Errorf("runtime Stop calls = %d, want 1", n)
		}
	})

	t.Run("open resumes the same sandbox", func(t *testing.T) {
		resumed, err := env.binder.Open(ctx, caller, true)
		if err != nil {
			t.Fatalf("Open error: %v", err)
		}
		if resumed.SandboxID != opened.SandboxID || resumed.Phase != PhaseReady || resumed.Status != record.StatusRunning {
			t.Errorf("Open = %+v, want the same sandbox ready", resumed)
		}
		if got, _ := env.rt.Status(ctx, opened.SandboxID); got != runtime.StatusRunning {
			t.Errorf("container status = %s, want running", got)
		}
		if n := len(env.rt.GetCallsFor("Create")); n != 1 {
			t.Errorf("runtime Create calls = %d, want 1", n)
		}
	})

	t.Run("runtime failure keeps the record running", func(t *testing.T) {
		env.rt.SetError("Stop", stderrors.New("engine busy"))
		defer env.rt.SetError("Stop", nil)

		if _, err := env.binder.Stop(ctx, caller); err == nil {
			t.Fatal("Stop should fail")
		}
		rec, _ := env.store.Get(ctx, opened.SandboxID)
		if rec.Status != record.StatusRunning {
			t.Errorf("record status = %s, want running", rec.Status)
		}
	})
}

func TestStop_Provisioning(t *testing.T) {
	env := newBinderEnv(t)
	ctx := context.Background()
	caller := Account(record.OwnerUser, "u2", nil)
	env.rt.SetError("Create", stderrors.New("image pull failed"))

	if _, err := env.binder.Open(ctx, caller, true); err != nil {
		t.Fatalf("Open error: %v", err)
	}

	_, err := env.binder.Stop(ctx, caller)
	if !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("Stop error = %v, want an invalid transition", err)
	}
}
