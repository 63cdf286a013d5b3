// Package reconcile compares what the record store claims about a sandbox
// with what the container runtime reports, and decides whether the record
// still describes a real container.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/runtime"
	"github.com/firefly-engineering/sandboxd/internal/store"
)

// DefaultProvisionGrace is how long a provisioning record is trusted
// without a container before it is considered abandoned.
const DefaultProvisionGrace = 2 * time.Minute

// Verdict is the outcome of a reconciliation.
type Verdict string

const (
	// Valid means the record can be used as-is.
	Valid Verdict = "valid"
	// Stale means the record claims a container that does not exist. The
	// caller is expected to tear it down.
	Stale Verdict = "stale"
)

// Result describes a reconciliation.
type Result struct {
	Verdict Verdict
	// Record is the record after any status correction.
	Record *record.Record
	// Observed is what the runtime reported.
	Observed runtime.ContainerStatus
	Reason   string
}

// Validator reconciles records against the runtime. It never deletes
// anything itself.
type Validator struct {
	store   *store.Store
	runtime runtime.Runtime
	grace   time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithProvisionGrace sets how long provisioning records are trusted.
func WithProvisionGrace(d time.Duration) Option {
	return func(v *Validator) { v.grace = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// New creates a Validator.
func New(s *store.Store, rt runtime.Runtime, opts ...Option) *Validator {
	v := &Validator{
		store:   s,
		runtime: rt,
		grace:   DefaultProvisionGrace,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logging.Logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = logging.Discard()
	}
	return v
}

// Reconcile decides whether rec is still backed by a container.
//
// An unreachable runtime yields Valid: a wrongly destroyed sandbox is worse
// than a late cleanup. Drift between running and stopped is corrected in the
// store, and a successful check stamps last_validated_at.
func (v *Validator) Reconcile(ctx context.Context, rec *record.Record) (Result, error) {
	res := Result{Record: rec, Observed: runtime.StatusUnknown}

	switch rec.Status {
	case record.StatusDeleting, record.StatusDeleted:
		res.Verdict = Stale
		res.Reason = "record is being torn down"
		return res, nil
	}

	observed, err := v.runtime.Status(ctx, rec.ID)
	if err != nil || observed == runtime.StatusUnknown {
		v.logger.Warn("runtime state unknown, keeping record", "id", rec.ID, "error", err)
		res.Verdict = Valid
		res.Reason = "runtime unreachable"
		return res, nil
	}
	res.Observed = observed

	now := v.now()

	if rec.Status == record.StatusProvisioning {
		age := now.Sub(rec.CreatedAt)
		if age < v.grace {
			res.Verdict = Valid
			res.Reason = "provisioning in progress"
			return res, nil
		}
		if observed == runtime.StatusNotFound {
			res.Verdict = Stale
			res.Reason = "provisioning abandoned without a container"
			return res, nil
		}
		res.Verdict = Valid
		res.Reason = "provisioning container exists"
		return res, nil
	}

	if observed == runtime.StatusNotFound {
		res.Verdict = Stale
		res.Reason = "container missing"
		v.logger.Info("stale sandbox record", "id", rec.ID, "status", rec.Status)
		return res, nil
	}

	res.Verdict = Valid
	res.Reason = "container present"

	want := record.StatusStopped
	if observed == runtime.StatusRunning {
		want = record.StatusRunning
	}

	if want != rec.Status {
		updated, err := v.store.Transition(ctx, rec.ID, want, store.WithValidatedAt(now))
		if errors.Is(err, errors.ErrInvalidTransition) {
			// A concurrent teardown got there first.
			res.Verdict = Stale
			res.Reason = "record is being torn down"
			return res, nil
		}
		if err != nil {
			return res, err
		}
		v.logger.Debug("corrected sandbox status", "id", rec.ID, "from", rec.Status, "to", want)
		res.Record = updated
		return res, nil
	}

	if err := v.store.Touch(ctx, rec.ID, now); err != nil {
		return res, err
	}
	stamped := *rec
	stamped.LastValidatedAt = &now
	res.Record = &stamped
	return res, nil
}
