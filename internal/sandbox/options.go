package sandbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/firefly-engineering/sandboxd/internal/audit"
	"github.com/firefly-engineering/sandboxd/internal/cache"
	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/workspace"
)

// DefaultVisitorTTL is how long a visitor sandbox lives.
const DefaultVisitorTTL = time.Hour

// defaultMaxAttempts bounds the claim/create loop in Provision.
const defaultMaxAttempts = 4

// Owner identifies who a sandbox belongs to.
type Owner struct {
	Kind record.OwnerKind
	// Ref is the account id for admins and users, and the session id for
	// visitors.
	Ref string
	// StartedAt is when the visitor session began. Visitor expiry counts
	// from it; zero means now.
	StartedAt time.Time
}

// SessionInvalidator ends a visitor session once its sandbox is gone.
type SessionInvalidator interface {
	Invalidate(ctx context.Context, sessionID string) error
}

// InvalidatorFunc adapts a function to a SessionInvalidator.
type InvalidatorFunc func(ctx context.Context, sessionID string) error

// Invalidate calls f.
func (f InvalidatorFunc) Invalidate(ctx context.Context, sessionID string) error {
	return f(ctx, sessionID)
}

// settings are shared by the Provisioner, Teardown and Collector.
type settings struct {
	cache       cache.Cache
	workspaces  *workspace.Dirs
	sessions    SessionInvalidator
	audit       *audit.Logger
	visitorTTL  time.Duration
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

func newSettings(opts []Option) settings {
	s := settings{
		visitorTTL:  DefaultVisitorTTL,
		maxAttempts: defaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logging.Logger,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

// Option configures the lifecycle components.
type Option func(*settings)

// WithCache sets where ephemeral runtime facts are kept.
func WithCache(c cache.Cache) Option {
	return func(s *settings) { s.cache = c }
}

// WithWorkspaces gives every sandbox a host directory mounted at
// /workspace.
func WithWorkspaces(d *workspace.Dirs) Option {
	return func(s *settings) { s.workspaces = d }
}

// WithSessionInvalidator sets how visitor sessions are ended on teardown.
func WithSessionInvalidator(inv SessionInvalidator) Option {
	return func(s *settings) { s.sessions = inv }
}

// WithAuditLog records lifecycle outcomes in the audit log.
func WithAuditLog(l *audit.Logger) Option {
	return func(s *settings) { s.audit = l }
}

// WithVisitorTTL sets the visitor sandbox lifetime.
func WithVisitorTTL(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.visitorTTL = d
		}
	}
}

// WithMaxAttempts bounds how many times Provision re-reads after losing a
// race or tearing down a stale record.
func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// logAudit appends an event when an audit log is configured. Failures to
// write are logged and otherwise ignored.
func (s *settings) logAudit(event audit.Event) {
	if s.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.audit.Log(event); err != nil {
		s.logger.Warn("failed to write audit event", "sandbox", event.Sandbox, "event", event.Type, "error", err)
	}
}
