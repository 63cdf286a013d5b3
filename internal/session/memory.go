package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	session  Session
	lastSeen time.Time
}

// MemoryStore keeps sessions in process memory. Sessions idle for longer
// than the TTL are evicted lazily on Get and by a background janitor.
// All methods are safe for concurrent use.
type MemoryStore struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]*memoryEntry

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
}

// NewMemoryStore creates a MemoryStore. A zero ttl never expires sessions.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*memoryEntry),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the janitor, which evicts expired sessions every interval.
func (m *MemoryStore) Start(interval time.Duration) {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	go m.runJanitor(interval)
}

// Close stops the janitor and waits for it to exit.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopCh) })
	if started {
		<-m.doneCh
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	now := m.now()
	if m.expired(entry, now) {
		delete(m.entries, id)
		return nil, nil
	}
	entry.lastSeen = now
	s := entry.session
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[s.ID] = &memoryEntry{session: *s, lastSeen: m.now()}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Len returns the number of stored sessions, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) expired(e *memoryEntry, now time.Time) bool {
	return m.ttl > 0 && now.Sub(e.lastSeen) > m.ttl
}

func (m *MemoryStore) runJanitor(interval time.Duration) {
	defer close(m.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictExpired()
		case <-m.stopCh:
			return
		}
	}
}

// evictExpired removes sessions whose last access exceeds the TTL.
func (m *MemoryStore) evictExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for id, entry := range m.entries {
		if m.expired(entry, now) {
			delete(m.entries, id)
			evicted++
		}
	}
	return evicted
}

var _ Store = (*MemoryStore)(nil)
