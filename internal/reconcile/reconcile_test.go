package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/runtime"
	"github.com/firefly-engineering/sandboxd/internal/store"
	"github.com/firefly-engineering/sandboxd/internal/testutil"
)

type fixture struct {
	store   *store.Store
	runtime *runtime.MockRuntime
	clock   *testutil.Clock
	v       *Validator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := testutil.NewStore(t, store.WithClock(clock.Now))
	rt := runtime.NewMockRuntime()
	v := New(s, rt,
		WithClock(clock.Now),
		WithProvisionGrace(2*time.Minute),
		WithLogger(logging.Discard()),
	)
	return &fixture{store: s, runtime: rt, clock: clock, v: v}
}

// seed creates a record and moves it to status.
func (f *fixture) seed(t *testing.T, status record.Status) *record.Record {
	t.Helper()
	ctx := context.Background()
	rec, err := f.store.Create(ctx, store.NewRecord{OwnerKind: record.OwnerUser, OwnerRef: "u-" + string(status)})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	path := map[record.Status][]record.Status{
		record.StatusProvisioning: nil,
		record.StatusRunning:      {record.StatusRunning},
		record.StatusStopped:      {record.StatusRunning, record.StatusStopped},
		record.StatusDeleting:     {record.StatusDeleting},
		record.StatusDeleted:      {record.StatusDeleting, record.StatusDeleted},
	}[status]
	for _, s := range path {
		rec, err = f.store.Transition(ctx, rec.ID, s)
		if err != nil {
			t.Fatalf("Transition to %s error: %v", s, err)
		}
	}
	return rec
}

func TestReconcile_Matrix(t *testing.T) {
	tests := []struct {
		name        string
		status      record.Status
		container   runtime.ContainerStatus // "" means no container
		age         time.Duration
		unreachable bool
		want        Verdict
		wantStatus  record.Status
	}{
		{"running and running", record.StatusRunning, runtime.StatusRunning, 0, false, Valid, record.StatusRunning},
		{"running but missing", record.StatusRunning, "", 0, false, Stale, record.StatusRunning},
		{"running drifted to stopped", record.StatusRunning, runtime.StatusStopped, 0, false, Valid, record.StatusStopped},
		{"stopped drifted to running", record.StatusStopped, runtime.StatusRunning, 0, false, Valid, record.StatusRunning},
		{"stopped but missing", record.StatusStopped, "", 0, false, Stale, record.StatusStopped},
		{"unreachable is optimistic", record.StatusRunning, "", 0, true, Valid, record.StatusRunning},
		{"provisioning within grace", record.StatusProvisioning, "", time.Minute, false, Valid, record.StatusProvisioning},
		{"provisioning abandoned", record.StatusProvisioning, "", 5 * time.Minute, false, Stale, record.StatusProvisioning},
		{"provisioning old with container", record.StatusProvisioning, runtime.StatusStopped, 5 * time.Minute, false, Valid, record.StatusProvisioning},
		{"deleting", record.StatusDeleting, runtime.StatusRunning, 0, false, Stale, record.StatusDeleting},
		{"deleted", record.StatusDeleted, "", 0, false, Stale, record.StatusDeleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.seed(t, tt.status)
			if tt.container != "" {
				f.runtime.AddContainer(rec.ID, tt.container)
			}
			f.runtime.SetUnreachable(tt.unreachable)
			f.clock.Advance(tt.age)

			res, err := f.v.Reconcile(context.Background(), rec)
			if err != nil {
				t.Fatalf("Reconcile error: %v", err)
			}
			if res.Verdict != tt.want {
				t.Errorf("Verdict = %s (%s), want %s", res.Verdict, res.Reason, tt.want)
			}

			stored, err := f.store.Get(context.Background(), rec.ID)
			if err != nil {
				t.Fatalf("Get error: %v", err)
			}
			if stored.Status != tt.wantStatus {
				t.Errorf("stored status = %s, want %s", stored.Status, tt.wantStatus)
			}
			if res.Record.Status != tt.wantStatus {
				t.Errorf("result record status = %s, want %s", res.Record.Status, tt.wantStatus)
			}
		})
	}
}

func TestReconcile_StampsLastValidated(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(t, record.StatusRunning)
	f.runtime.AddContainer(rec.ID, runtime.StatusRunning)
	f.clock.Advance(10 * time.Minute)

	res, err := f.v.Reconcile(context.Background(), rec)
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if res.Record.LastValidatedAt == nil || !res.Record.LastValidatedAt.Equal(f.clock.Now()) {
		t.Errorf("result LastValidatedAt = %v, want %v", res.Record.LastValidatedAt, f.clock.Now())
	}

	stored, _ := f.store.Get(context.Background(), rec.ID)
	if stored.LastValidatedAt == nil {
		t.Fatal("stored LastValidatedAt should be set")
	}
	if !stored.LastValidatedAt.Equal(f.clock.Now()) {
		t.Errorf("stored LastValidatedAt = %v, want %v", stored.LastValidatedAt, f.clock.Now())
	}
}

func TestReconcile_UnreachableDoesNotTouch(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(t, record.StatusRunning)
	f.runtime.SetUnreachable(true)

	res, err := f.v.Reconcile(context.Background(), rec)
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if res.Observed != runtime.StatusUnknown {
		t.Errorf("Observed = %s, want unknown", res.Observed)
	}

	stored, _ := f.store.Get(context.Background(), rec.ID)
	if stored.LastValidatedAt != nil {
		t.Error("unknown state should not count as a validation")
	}
}

func TestReconcile_ConcurrentTeardownWins(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(t, record.StatusRunning)
	f.runtime.AddContainer(rec.ID, runtime.StatusStopped)

	// Teardown begins after the caller loaded the record.
	if _, err := f.store.Transition(context.Background(), rec.ID, record.StatusDeleting); err != nil {
		t.Fatalf("Transition error: %v", err)
	}

	res, err := f.v.Reconcile(context.Background(), rec)
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if res.Verdict != Stale {
		t.Errorf("Verdict = %s, want stale", res.Verdict)
	}
}
