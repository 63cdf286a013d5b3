// Package cache holds ephemeral per-sandbox state: facts learned while
// provisioning (container name, runtime, boot time) that are useful to
// readers but are not part of the durable record. Everything in the cache
// may be lost at any time; teardown clears a sandbox's entry.
package cache

import (
	"context"
	"sync"
)

// Cache stores a flat string map per sandbox id.
type Cache interface {
	// Put merges fields into the entry for id.
	Put(ctx context.Context, id string, fields map[string]string) error
	// Get returns the entry for id, or an empty map when there is none.
	Get(ctx context.Context, id string) (map[string]string, error)
	// Delete removes the entry for id. Deleting a missing entry is not an error.
	Delete(ctx context.Context, id string) error
}

// Field names written by the provisioner.
const (
	FieldOwnerKind = "owner_kind"
	FieldRuntime   = "runtime"
	FieldBootTime  = "boot_ms"
	FieldStartedAt = "started_at"
)

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]map[string]string)}
}

func (m *Memory) Put(_ context.Context, id string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		entry = make(map[string]string, len(fields))
		m.entries[id] = entry
	}
	for k, v := range fields {
		entry[k] = v
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.entries[id]))
	for k, v := range m.entries[id] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Len returns the number of cached sandboxes.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ Cache = (*Memory)(nil)
