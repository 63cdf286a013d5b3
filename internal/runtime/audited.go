package runtime

import (
	"context"
	"time"

	"github.com/firefly-engineering/sandboxd/internal/audit"
	"github.com/firefly-engineering/sandboxd/internal/logging"
)

// Audited wraps a Runtime and records every mutating call, with its
// outcome and duration, in the audit log. Read-only calls pass through.
type Audited struct {
	Runtime
	log *audit.Logger
	now func() time.Time
}

// NewAudited wraps rt. A nil logger returns rt unchanged.
func NewAudited(rt Runtime, log *audit.Logger) Runtime {
	if log == nil {
		return rt
	}
	return &Audited{Runtime: rt, log: log, now: time.Now}
}

func (a *Audited) emit(event audit.EventType, id string, started time.Time, err error) {
	ev := audit.Event{
		Timestamp: a.now().UTC(),
		Type:      event,
		Sandbox:   id,
		Runtime:   a.Runtime.Name(),
		Outcome:   audit.OutcomeOK,
		Duration:  a.now().Sub(started),
	}
	if err != nil {
		ev.Outcome = audit.OutcomeError
		ev.Details = err.Error()
	}
	if logErr := a.log.Log(ev); logErr != nil {
		logging.Warn("failed to write audit event", "sandbox", id, "event", event, "error", logErr)
	}
	logging.Debug("runtime call", "sandbox", id, "op", event, "outcome", ev.Outcome, "duration", ev.Duration)
}

// Create records the create attempt.
func (a *Audited) Create(ctx context.Context, opts CreateOptions) error {
	started := a.now()
	err := a.Runtime.Create(ctx, opts)
	a.emit(audit.EventCreate, opts.ID, started, err)
	return err
}

// EnsureRunning records the start attempt.
func (a *Audited) EnsureRunning(ctx context.Context, id string) error {
	started := a.now()
	err := a.Runtime.EnsureRunning(ctx, id)
	a.emit(audit.EventEnsureRunning, id, started, err)
	return err
}

// Stop records the stop attempt.
func (a *Audited) Stop(ctx context.Context, id string) error {
	started := a.now()
	err := a.Runtime.Stop(ctx, id)
	a.emit(audit.EventStop, id, started, err)
	return err
}

// Delete records the delete attempt.
func (a *Audited) Delete(ctx context.Context, id string) error {
	started := a.now()
	err := a.Runtime.Delete(ctx, id)
	a.emit(audit.EventDelete, id, started, err)
	return err
}

// Unwrap returns the wrapped runtime.
func (a *Audited) Unwrap() Runtime {
	return a.Runtime
}
