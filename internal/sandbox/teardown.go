package sandbox

import (
	"context"
	"sync"

	"github.com/firefly-engineering/sandboxd/internal/audit"
	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/runtime"
	"github.com/firefly-engineering/sandboxd/internal/store"
)

// Step names one part of a teardown.
type Step string

const (
	StepMarkDeleting   Step = "mark-deleting"
	StepRuntimeDelete  Step = "runtime-delete"
	StepCacheClear     Step = "cache-clear"
	StepWorkspace      Step = "workspace-remove"
	StepMarkDeleted    Step = "mark-deleted"
	StepSessionRevoked Step = "session-invalidate"
)

// Reasons passed to teardown by its callers.
const (
	ReasonDestroy = "destroy"
	ReasonStale   = "stale"
	ReasonExpired = "expired"
	ReasonForced  = "forced"
)

// StepResult is the outcome of one step.
type StepResult struct {
	Step Step  `json:"step" yaml:"step"`
	Err  error `json:"-" yaml:"-"`
}

// Report describes what a teardown did.
type Report struct {
	SandboxID string
	Reason    string
	Steps     []StepResult
	// Deleted is true once the record reached the deleted status.
	Deleted bool
}

// Failed returns the steps that did not succeed.
func (r *Report) Failed() []Step {
	var failed []Step
	for _, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, s.Step)
		}
	}
	return failed
}

// Err returns a TeardownPartial error listing every failed step, or nil.
func (r *Report) Err() error {
	var steps []string
	var errs []error
	for _, s := range r.Steps {
		if s.Err != nil {
			steps = append(steps, string(s.Step))
			errs = append(errs, s.Err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.TeardownPartial(r.SandboxID, steps, errs)
}

// Teardown is the single path by which a sandbox is destroyed. Every step
// is attempted even when an earlier one fails; the record only reaches
// deleted after the runtime has confirmed the container is gone.
type Teardown struct {
	store   *store.Store
	runtime runtime.Runtime
	settings

	wg sync.WaitGroup
}

// NewTeardown creates a Teardown.
func NewTeardown(s *store.Store, rt runtime.Runtime, opts ...Option) *Teardown {
	return &Teardown{
		store:    s,
		runtime:  rt,
		settings: newSettings(opts),
	}
}

// Begin marks the record deleting. From then on no provision reuses it and
// the owner may provision again once it is deleted. Beginning an already
// deleted record returns it unchanged.
func (t *Teardown) Begin(ctx context.Context, id string) (*record.Record, error) {
	rec, err := t.store.Transition(ctx, id, record.StatusDeleting)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, errors.ErrInvalidTransition) {
		current, getErr := t.store.Get(ctx, id)
		if getErr == nil && current.Status == record.StatusDeleted {
			return current, nil
		}
	}
	return nil, err
}

// Finish removes everything that belongs to rec, which should already be
// deleting.
func (t *Teardown) Finish(ctx context.Context, rec *record.Record, reason string) *Report {
	report := &Report{SandboxID: rec.ID, Reason: reason}
	return t.finish(ctx, rec, report)
}

// Run performs a complete teardown of rec.
func (t *Teardown) Run(ctx context.Context, rec *record.Record, reason string) *Report {
	report := &Report{SandboxID: rec.ID, Reason: reason}

	current, err := t.Begin(ctx, rec.ID)
	t.step(report, StepMarkDeleting, err)
	if err == nil {
		rec = current
	}
	return t.finish(ctx, rec, report)
}

// FinishAsync runs Finish in the background, detached from ctx's
// cancellation. Wait blocks until every background teardown is done.
func (t *Teardown) FinishAsync(ctx context.Context, rec *record.Record, reason string) {
	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.Finish(ctx, rec, reason).Err(); err != nil {
			t.logger.Warn("background teardown incomplete", "sandbox", rec.ID, "error", err)
		}
	}()
}

// Wait blocks until background teardowns started with FinishAsync finish.
func (t *Teardown) Wait() {
	t.wg.Wait()
}

func (t *Teardown) finish(ctx context.Context, rec *record.Record, report *Report) *Report {
	if rec.Status == record.StatusDeleted {
		report.Deleted = true
		return report
	}

	t.logger.Debug("tearing down sandbox", "sandbox", rec.ID, "reason", report.Reason)

	deleteErr := t.runtime.Delete(ctx, rec.ID)
	t.step(report, StepRuntimeDelete, deleteErr)

	if t.cache != nil {
		t.step(report, StepCacheClear, t.cache.Delete(ctx, rec.ID))
	}

	if t.workspaces != nil {
		t.step(report, StepWorkspace, t.workspaces.Remove(rec.ID))
	}

	// Without confirmation that the container is gone the record stays
	// deleting so the owner cannot provision a second container.
	if deleteErr == nil {
		_, err := t.store.Transition(ctx, rec.ID, record.StatusDeleted)
		t.step(report, StepMarkDeleted, err)
		report.Deleted = err == nil
	}

	if rec.OwnerKind == record.OwnerVisitor && t.sessions != nil {
		t.step(report, StepSessionRevoked, t.sessions.Invalidate(ctx, rec.OwnerRef))
	}

	ev := audit.Event{
		Type:    audit.EventTeardown,
		Sandbox: rec.ID,
		Outcome: audit.OutcomeOK,
		Details: report.Reason,
	}
	if err := report.Err(); err != nil {
		ev.Outcome = audit.OutcomeError
		ev.Details = report.Reason + ": " + err.Error()
	}
	t.logAudit(ev)

	if report.Deleted {
		t.logger.Info("sandbox deleted", "sandbox", rec.ID, "reason", report.Reason)
	}
	return report
}

func (t *Teardown) step(report *Report, step Step, err error) {
	report.Steps = append(report.Steps, StepResult{Step: step, Err: err})
	if err != nil {
		t.logger.Warn("teardown step failed", "sandbox", report.SandboxID, "step", step, "error", err)
	}
}
