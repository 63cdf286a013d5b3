package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/firefly-engineering/sandboxd/internal/audit"
	"github.com/firefly-engineering/sandboxd/internal/cache"
	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/reconcile"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/runtime"
	"github.com/firefly-engineering/sandboxd/internal/store"
)

// LabelOwnerKind is set on every container created by the Provisioner.
const LabelOwnerKind = "sandboxd.owner-kind"

// Provisioner returns an owner's running sandbox, creating one when the
// owner has none.
type Provisioner struct {
	store     *store.Store
	runtime   runtime.Runtime
	validator *reconcile.Validator
	teardown  *Teardown
	settings
}

// NewProvisioner creates a Provisioner. Stale records found along the way
// are destroyed through td.
func NewProvisioner(s *store.Store, rt runtime.Runtime, v *reconcile.Validator, td *Teardown, opts ...Option) *Provisioner {
	return &Provisioner{
		store:     s,
		runtime:   rt,
		validator: v,
		teardown:  td,
		settings:  newSettings(opts),
	}
}

// Lookup returns the owner's live record after reconciling it, without
// creating anything. An expired or stale record is torn down and reported
// as absent; the teardown report is returned so callers can react to it.
func (p *Provisioner) Lookup(ctx context.Context, owner Owner) (*record.Record, *Report, error) {
	rec, err := p.store.TryClaim(ctx, owner.Kind, owner.Ref)
	if err != nil || rec == nil {
		return nil, nil, err
	}
	return p.check(ctx, rec)
}

// Provision returns the owner's sandbox in the running state.
//
// An existing record that reconciles as valid is reused. A stale or expired
// one is torn down first, and provisioning only continues once its teardown
// is confirmed. When a concurrent caller wins the race to create the record,
// Provision converges on the winner's record instead of failing.
//
// A runtime failure leaves the record provisioning and returns a
// ProvisionFailed error carrying the sandbox id; the next call retries.
func (p *Provisioner) Provision(ctx context.Context, owner Owner) (*record.Record, error) {
	if !owner.Kind.Valid() {
		return nil, errors.ValidationError(fmt.Sprintf("unknown owner kind %q", owner.Kind))
	}
	if strings.TrimSpace(owner.Ref) == "" {
		return nil, errors.ValidationError("owner reference cannot be empty")
	}

	// Computed once so every attempt stamps the same expiry.
	expiresAt := p.expiry(owner)

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		rec, err := p.store.TryClaim(ctx, owner.Kind, owner.Ref)
		if err != nil {
			return nil, err
		}

		if rec != nil {
			live, _, err := p.check(ctx, rec)
			if err != nil {
				return nil, err
			}
			if live != nil {
				return p.ready(ctx, live)
			}
			// Torn down; look again in case another caller already
			// replaced it.
			continue
		}

		rec, err = p.store.Create(ctx, store.NewRecord{
			OwnerKind: owner.Kind,
			OwnerRef:  owner.Ref,
			ExpiresAt: expiresAt,
		})
		if errors.Is(err, errors.ErrConflict) {
			p.logger.Debug("lost create race, re-reading", "owner_kind", owner.Kind, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}

		p.logger.Info("provisioning sandbox", "sandbox", rec.ID, "owner_kind", rec.OwnerKind)
		return p.boot(ctx, rec)
	}

	return nil, errors.Conflict(string(owner.Kind), owner.Ref)
}

// Stop stops the container of a running sandbox and marks the record
// stopped. The record and its workspace are kept and the next Provision for
// the owner resumes the same sandbox. Stopping a stopped sandbox is a no-op;
// any other status is an invalid transition.
func (p *Provisioner) Stop(ctx context.Context, id string) (*record.Record, error) {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case record.StatusStopped:
		return rec, nil
	case record.StatusRunning:
	default:
		return nil, errors.InvalidTransition(id, string(rec.Status), string(record.StatusStopped))
	}

	if err := p.runtime.Stop(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to stop sandbox %s: %w", id, err)
	}
	updated, err := p.store.Transition(ctx, id, record.StatusStopped)
	if err != nil {
		return nil, err
	}
	p.logger.Info("sandbox stopped", "sandbox", id, "owner_kind", rec.OwnerKind)
	return updated, nil
}

// check reconciles rec. It returns the record when it can be used. An
// expired or stale record is torn down instead and the teardown report is
// returned; an unconfirmed teardown is a ProvisionFailed error.
func (p *Provisioner) check(ctx context.Context, rec *record.Record) (*record.Record, *Report, error) {
	reason := ReasonExpired
	if !rec.Expired(p.now()) {
		res, err := p.validator.Reconcile(ctx, rec)
		if err != nil {
			return nil, nil, err
		}
		if res.Verdict == reconcile.Valid {
			return res.Record, nil, nil
		}
		rec = res.Record
		reason = ReasonStale
		p.logger.Info("discarding stale sandbox", "sandbox", rec.ID, "reason", res.Reason)
	}

	report := p.teardown.Run(ctx, rec, reason)
	if !report.Deleted {
		// Provisioning again before the old container is confirmed gone
		// could leave the owner with two.
		return nil, report, errors.ProvisionFailed(rec.ID, report.Err())
	}
	return nil, report, nil
}

// ready brings a valid record to the running state.
func (p *Provisioner) ready(ctx context.Context, rec *record.Record) (*record.Record, error) {
	switch rec.Status {
	case record.StatusRunning:
		return rec, nil
	case record.StatusStopped:
		p.logger.Debug("resuming stopped sandbox", "sandbox", rec.ID)
		if err := p.runtime.EnsureRunning(ctx, rec.ID); err != nil {
			return nil, p.failed(rec, err)
		}
		return p.markRunning(ctx, rec, time.Time{})
	default:
		// Provisioning: either another caller is mid-flight or an earlier
		// attempt failed. Creation is idempotent, so both converge on the
		// same container.
		return p.boot(ctx, rec)
	}
}

// boot creates and starts the container for a provisioning record.
func (p *Provisioner) boot(ctx context.Context, rec *record.Record) (*record.Record, error) {
	started := p.now()

	opts := runtime.CreateOptions{
		ID:     rec.ID,
		Labels: map[string]string{LabelOwnerKind: string(rec.OwnerKind)},
	}
	if p.workspaces != nil {
		dir, err := p.workspaces.Create(rec.ID)
		if err != nil {
			return nil, p.failed(rec, err)
		}
		opts.BindMounts = map[string]string{dir: runtime.WorkspaceMountPath}
	}

	if err := p.runtime.Create(ctx, opts); err != nil {
		return nil, p.failed(rec, err)
	}
	if err := p.runtime.EnsureRunning(ctx, rec.ID); err != nil {
		return nil, p.failed(rec, err)
	}

	return p.markRunning(ctx, rec, started)
}

func (p *Provisioner) markRunning(ctx context.Context, rec *record.Record, started time.Time) (*record.Record, error) {
	updated, err := p.store.Transition(ctx, rec.ID, record.StatusRunning, store.WithExpiresAt(rec.ExpiresAt))
	if err != nil {
		if errors.Is(err, errors.ErrInvalidTransition) {
			// Torn down while booting.
			return nil, p.failed(rec, err)
		}
		return nil, err
	}

	ev := audit.Event{Type: audit.EventProvision, Sandbox: rec.ID, Runtime: p.runtime.Name(), Outcome: audit.OutcomeOK}
	if !started.IsZero() {
		ev.Duration = p.now().Sub(started)
		p.remember(ctx, rec, ev.Duration)
	}
	p.logAudit(ev)

	p.logger.Info("sandbox running", "sandbox", rec.ID, "owner_kind", rec.OwnerKind)
	return updated, nil
}

// remember caches runtime facts about a freshly booted sandbox.
func (p *Provisioner) remember(ctx context.Context, rec *record.Record, boot time.Duration) {
	if p.cache == nil {
		return
	}
	err := p.cache.Put(ctx, rec.ID, map[string]string{
		cache.FieldOwnerKind: string(rec.OwnerKind),
		cache.FieldRuntime:   p.runtime.Name(),
		cache.FieldBootTime:  strconv.FormatInt(boot.Milliseconds(), 10),
		cache.FieldStartedAt: p.now().Format(time.RFC3339),
	})
	if err != nil {
		p.logger.Warn("failed to cache sandbox facts", "sandbox", rec.ID, "error", err)
	}
}

func (p *Provisioner) failed(rec *record.Record, cause error) error {
	p.logger.Warn("sandbox needs setup", "sandbox", rec.ID, "error", cause)
	p.logAudit(audit.Event{
		Type:    audit.EventProvision,
		Sandbox: rec.ID,
		Runtime: p.runtime.Name(),
		Outcome: audit.OutcomeError,
		Details: cause.Error(),
	})
	return errors.ProvisionFailed(rec.ID, cause)
}

// expiry returns the expiry for a new record: visitors only. It counts
// from the session start, or from now when the session start would leave
// the sandbox already expired.
func (p *Provisioner) expiry(owner Owner) *time.Time {
	if owner.Kind != record.OwnerVisitor {
		return nil
	}
	now := p.now()
	at := owner.StartedAt.Add(p.visitorTTL)
	if owner.StartedAt.IsZero() || !at.After(now) {
		at = now.Add(p.visitorTTL)
	}
	at = at.UTC()
	return &at
}
