package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/sandbox"
	"github.com/firefly-engineering/sandboxd/internal/store"
)

// Phase is what the editor shows for a caller's sandbox.
type Phase string

const (
	// PhaseNotCreated: the caller has no sandbox.
	PhaseNotCreated Phase = "not_created"
	// PhaseInstalled: a sandbox exists but is not running.
	PhaseInstalled Phase = "installed"
	// PhaseReady: the sandbox is running.
	PhaseReady Phase = "ready"
	// PhaseAdminRoot: an admin working on the administrative root, with no
	// sandbox at all.
	PhaseAdminRoot Phase = "admin_root"
)

// OpenResult is the outcome of Binder.Open.
type OpenResult struct {
	SandboxID string        `json:"sandboxId,omitempty"`
	Status    record.Status `json:"status,omitempty"`
	Phase     Phase         `json:"phase"`
	// NeedsSetup asks the caller to explicitly set up (or retry setting
	// up) a sandbox.
	NeedsSetup bool `json:"needsSetup"`
	AdminRoot  bool `json:"adminRoot,omitempty"`
	// Session is set when the caller's session was replaced and must be
	// handed back to the client.
	Session *Session `json:"-"`
}

// DestroyResult is the outcome of Binder.Destroy.
type DestroyResult struct {
	SandboxID string        `json:"sandboxId"`
	Status    record.Status `json:"status"`
	Session   *Session      `json:"-"`
}

// Binder resolves a caller's active sandbox.
type Binder struct {
	store       *store.Store
	provisioner *sandbox.Provisioner
	teardown    *sandbox.Teardown
	sessions    Store
	now         func() time.Time
	logger      *slog.Logger
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithClock overrides the time source used for new sessions.
func WithClock(now func() time.Time) BinderOption {
	return func(b *Binder) { b.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BinderOption {
	return func(b *Binder) { b.logger = l }
}

// NewBinder creates a Binder.
func NewBinder(s *store.Store, p *sandbox.Provisioner, td *sandbox.Teardown, sessions Store, opts ...BinderOption) *Binder {
	b := &Binder{
		store:       s,
		provisioner: p,
		teardown:    td,
		sessions:    sessions,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logging.Logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.Discard()
	}
	return b
}

// Open resolves the caller's sandbox. A sandbox is only created when
// explicit is set; merely viewing never starts a container.
//
// Admins without a sandbox preference get the administrative root and no
// sandbox. An expired or stale sandbox is torn down first; for a visitor
// that also replaces the session, and any new sandbox belongs to the new
// session. A provisioning failure is reported through NeedsSetup, not as
// an error.
func (b *Binder) Open(ctx context.Context, caller CallerContext, explicit bool) (*OpenResult, error) {
	if caller.Kind == record.OwnerAdmin && !caller.PreferSandbox {
		return &OpenResult{Phase: PhaseAdminRoot, AdminRoot: true}, nil
	}

	rec, report, err := b.provisioner.Lookup(ctx, owner(caller))
	if err != nil {
		if errors.Is(err, errors.ErrProvisionFailed) {
			return b.needsSetup(err), nil
		}
		return nil, err
	}

	res := &OpenResult{}
	if report != nil && caller.Kind == record.OwnerVisitor {
		fresh, err := b.rotate(ctx, caller)
		if err != nil {
			return nil, err
		}
		res.Session = fresh
		caller = Visitor(fresh)
	}

	if explicit && caller.Kind == record.OwnerVisitor && res.Session == nil {
		// A concurrent request may have torn down this visitor's expired
		// sandbox and revoked the session after it was resolved.
		current, err := b.sessions.Get(ctx, caller.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		if current == nil {
			fresh, err := b.rotate(ctx, caller)
			if err != nil {
				return nil, err
			}
			res.Session = fresh
			caller = Visitor(fresh)
		}
	}

	if explicit {
		rec, err = b.provisioner.Provision(ctx, owner(caller))
		if errors.Is(err, errors.ErrProvisionFailed) {
			failed := b.needsSetup(err)
			failed.Session = res.Session
			return failed, nil
		}
		if err != nil {
			return nil, err
		}
	}

	if rec == nil {
		res.Phase = PhaseNotCreated
		res.NeedsSetup = true
		return res, nil
	}

	res.SandboxID = rec.ID
	res.Status = rec.Status
	switch rec.Status {
	case record.StatusRunning:
		res.Phase = PhaseReady
	case record.StatusProvisioning:
		res.Phase = PhaseInstalled
		res.NeedsSetup = true
	default:
		res.Phase = PhaseInstalled
	}

	b.bind(ctx, caller, rec.ID)
	return res, nil
}

// Start brings the caller's existing sandbox to the running state. It
// never creates one. A visitor whose expired sandbox was torn down during
// the lookup gets a not_created result carrying a fresh session.
func (b *Binder) Start(ctx context.Context, caller CallerContext) (*OpenResult, error) {
	rec, report, err := b.provisioner.Lookup(ctx, owner(caller))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return b.missing(ctx, caller, report)
	}
	rec, err = b.provisioner.Provision(ctx, owner(caller))
	if err != nil {
		return nil, err
	}
	return &OpenResult{SandboxID: rec.ID, Status: rec.Status, Phase: PhaseReady}, nil
}

// Stop stops the caller's running sandbox. The sandbox is kept, and a
// later Open or Start resumes it.
func (b *Binder) Stop(ctx context.Context, caller CallerContext) (*OpenResult, error) {
	rec, report, err := b.provisioner.Lookup(ctx, owner(caller))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return b.missing(ctx, caller, report)
	}
	rec, err = b.provisioner.Stop(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	b.logger.Info("sandbox stop requested", "sandbox", rec.ID, "caller_kind", caller.Kind)
	return &OpenResult{SandboxID: rec.ID, Status: rec.Status, Phase: PhaseInstalled}, nil
}

// missing answers Start and Stop for a caller without a sandbox.
func (b *Binder) missing(ctx context.Context, caller CallerContext, report *sandbox.Report) (*OpenResult, error) {
	if report == nil || caller.Kind != record.OwnerVisitor {
		return nil, errors.SandboxNotFound(caller.Ref)
	}
	fresh, err := b.rotate(ctx, caller)
	if err != nil {
		return nil, err
	}
	return &OpenResult{Phase: PhaseNotCreated, NeedsSetup: true, Session: fresh}, nil
}

// Destroy tears down a sandbox. Only its owner or an admin may destroy it.
//
// The record is marked deleting before Destroy returns; the rest of the
// teardown finishes in the background. A visitor destroying their own
// sandbox gets a fresh session.
func (b *Binder) Destroy(ctx context.Context, caller CallerContext, id string) (*DestroyResult, error) {
	rec, err := b.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	own := rec.OwnerKind == caller.Kind && rec.OwnerRef == caller.Ref
	if !own && caller.Kind != record.OwnerAdmin {
		return nil, errors.Forbidden(fmt.Sprintf("sandbox %s belongs to another owner", id))
	}

	begun, err := b.teardown.Begin(ctx, id)
	if err != nil {
		return nil, err
	}
	if begun.Status != record.StatusDeleted {
		b.teardown.FinishAsync(ctx, begun, sandbox.ReasonDestroy)
	}
	b.logger.Info("sandbox destroy requested", "sandbox", id, "caller_kind", caller.Kind)

	res := &DestroyResult{SandboxID: id, Status: begun.Status}
	if !own {
		return res, nil
	}
	if caller.Kind == record.OwnerVisitor {
		fresh, err := b.rotate(ctx, caller)
		if err != nil {
			return nil, err
		}
		res.Session = fresh
	} else {
		b.bind(ctx, caller, "")
	}
	return res, nil
}

func (b *Binder) needsSetup(err error) *OpenResult {
	res := &OpenResult{SandboxID: errors.SandboxIDOf(err), NeedsSetup: true, Phase: PhaseNotCreated}
	if res.SandboxID != "" {
		res.Phase = PhaseInstalled
		res.Status = record.StatusProvisioning
	}
	b.logger.Warn("sandbox needs setup", "sandbox", res.SandboxID, "error", err)
	return res
}

// rotate replaces a visitor's session with a fresh identity.
func (b *Binder) rotate(ctx context.Context, caller CallerContext) (*Session, error) {
	if err := b.sessions.Delete(ctx, caller.SessionID); err != nil {
		b.logger.Warn("failed to delete session", "error", err)
	}
	fresh := New(b.now())
	if err := b.sessions.Save(ctx, fresh); err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	b.logger.Debug("visitor session rotated")
	return fresh, nil
}

// bind remembers the sandbox in the caller's session.
func (b *Binder) bind(ctx context.Context, caller CallerContext, sandboxID string) {
	if caller.SessionID == "" {
		return
	}
	s, err := b.sessions.Get(ctx, caller.SessionID)
	if err != nil || s == nil || s.SandboxID == sandboxID {
		return
	}
	s.SandboxID = sandboxID
	if err := b.sessions.Save(ctx, s); err != nil {
		b.logger.Warn("failed to bind sandbox to session", "sandbox", sandboxID, "error", err)
	}
}

func owner(c CallerContext) sandbox.Owner {
	return sandbox.Owner{Kind: c.Kind, Ref: c.Ref, StartedAt: c.SessionStartedAt}
}
