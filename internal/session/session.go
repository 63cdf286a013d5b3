// Package session binds callers to their sandbox.
//
// Every caller is described by an explicit CallerContext. Visitors are
// identified by their session; when a visitor's sandbox is torn down the
// session is replaced by a fresh one, so the next visit is
// indistinguishable from a new visitor.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/firefly-engineering/sandboxd/internal/record"
)

// Session is the server-side state behind a session cookie.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	// SandboxID is the sandbox last opened in this session.
	SandboxID string `json:"sandboxId,omitempty"`
	// PreferSandbox makes an admin work inside a sandbox instead of the
	// administrative root.
	PreferSandbox bool `json:"preferSandbox,omitempty"`
}

// New returns a session with a fresh identity.
func New(now time.Time) *Session {
	return &Session{ID: uuid.NewString(), StartedAt: now.UTC()}
}

// Store persists sessions.
type Store interface {
	// Get returns the session, or nil when it does not exist or expired.
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
}

// CallerContext describes who is calling. It is built once per request by
// the transport and passed explicitly into every Binder call.
type CallerContext struct {
	Kind record.OwnerKind
	// Ref is the account id for admins and users. For visitors it equals
	// SessionID.
	Ref              string
	SessionID        string
	SessionStartedAt time.Time
	PreferSandbox    bool
}

// Visitor returns the CallerContext of an anonymous session.
func Visitor(s *Session) CallerContext {
	return CallerContext{
		Kind:             record.OwnerVisitor,
		Ref:              s.ID,
		SessionID:        s.ID,
		SessionStartedAt: s.StartedAt,
	}
}

// Account returns the CallerContext of an authenticated admin or user. s
// may be nil when the caller has no session yet.
func Account(kind record.OwnerKind, ref string, s *Session) CallerContext {
	c := CallerContext{Kind: kind, Ref: ref}
	if s != nil {
		c.SessionID = s.ID
		c.SessionStartedAt = s.StartedAt
		c.PreferSandbox = s.PreferSandbox
	}
	return c
}
