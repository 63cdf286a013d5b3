// Package record defines the persistent sandbox record and its lifecycle
// state machine.
package record

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"
)

// OwnerKind discriminates who a sandbox belongs to.
type OwnerKind string

const (
	OwnerAdmin   OwnerKind = "admin"
	OwnerUser    OwnerKind = "user"
	OwnerVisitor OwnerKind = "visitor"
)

// Valid reports whether k is a known owner kind.
func (k OwnerKind) Valid() bool {
	switch k {
	case OwnerAdmin, OwnerUser, OwnerVisitor:
		return true
	}
	return false
}

// Status is the lifecycle state of a sandbox record.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusRunning      Status = "running"
	StatusStopped      Status = "stopped"
	StatusDeleting     Status = "deleting"
	StatusDeleted      Status = "deleted"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusProvisioning,
	StatusRunning,
	StatusStopped,
	StatusDeleting,
	StatusDeleted,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// transitions holds the allowed forward moves. Running and Stopped may
// alternate; everything else only moves towards Deleted.
var transitions = map[Status][]Status{
	StatusProvisioning: {StatusRunning, StatusDeleting},
	StatusRunning:      {StatusStopped, StatusDeleting},
	StatusStopped:      {StatusRunning, StatusDeleting},
	StatusDeleting:     {StatusDeleted},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns the statuses a record may be in to move to s.
func Predecessors(s Status) []Status {
	var from []Status
	for _, candidate := range AllStatuses {
		if CanTransition(candidate, s) {
			from = append(from, candidate)
		}
	}
	return from
}

// Record is a single sandbox, keyed by an id that doubles as the container
// name suffix.
type Record struct {
	ID              string     `gorm:"primaryKey;size:64" json:"id" yaml:"id"`
	OwnerKind       OwnerKind  `gorm:"size:16;not null" json:"ownerKind" yaml:"ownerKind"`
	OwnerRef        string     `gorm:"size:255;not null" json:"ownerRef" yaml:"ownerRef"`
	Status          Status     `gorm:"size:16;not null;index" json:"status" yaml:"status"`
	CreatedAt       time.Time  `json:"createdAt" yaml:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt" yaml:"updatedAt"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	LastValidatedAt *time.Time `json:"lastValidatedAt,omitempty" yaml:"lastValidatedAt,omitempty"`
}

// TableName pins the table name.
func (Record) TableName() string {
	return "sandbox_records"
}

// IsLive reports whether the record still counts towards its owner's
// one-sandbox limit.
func (r *Record) IsLive() bool {
	return r.Status != StatusDeleted
}

// Expired reports whether a visitor record is past its time-to-live.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

const (
	idLength   = 12
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NewID returns a random 12 character lowercase alphanumeric id.
func NewID() (string, error) {
	out := make([]byte, idLength)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate sandbox id: %w", err)
		}
		out[i] = idAlphabet[n.Int64()]
	}
	return string(out), nil
}

// idRegex matches ids that are safe as container names and path components.
var idRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ValidateID checks that id is a well-formed sandbox id.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("sandbox id cannot be empty")
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("invalid sandbox id %q: must start with a lowercase letter or digit, contain only lowercase letters, digits, underscores, or hyphens, and be at most 63 characters", id)
	}
	return nil
}
