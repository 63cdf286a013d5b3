package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/firefly-engineering/sandboxd/internal/errors"
)

// MockRuntime is an in-memory implementation of Runtime for testing
type MockRuntime struct {
	mu sync.RWMutex

	// Containers tracks the state of mock containers by sandbox id
	Containers map[string]*ContainerInfo

	// Errors allows injecting errors for specific operations
	Errors map[string]error

	// CallLog records all method calls for verification
	CallLog []MockCall

	// BootDelay is how long EnsureRunning takes to bring a container up.
	BootDelay time.Duration

	// BootTimeout bounds EnsureRunning. Zero means DefaultBootTimeout.
	BootTimeout time.Duration

	unreachable bool
	creates     int
}

// MockCall represents a recorded method call
type MockCall struct {
	Method string
	Args   []interface{}
}

// NewMockRuntime creates a new mock runtime
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{
		Containers: make(map[string]*ContainerInfo),
		Errors:     make(map[string]error),
		CallLog:    make([]MockCall, 0),
	}
}

func (m *MockRuntime) record(method string, args ...interface{}) {
	m.CallLog = append(m.CallLog, MockCall{Method: method, Args: args})
}

// SetError sets an error to be returned for a specific operation.
// A nil error clears it.
func (m *MockRuntime) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.Errors, operation)
		return
	}
	m.Errors[operation] = err
}

// SetUnreachable simulates an engine that cannot be contacted.
func (m *MockRuntime) SetUnreachable(unreachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = unreachable
}

// AddContainer adds a container to the mock
func (m *MockRuntime) AddContainer(id string, status ContainerStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Containers[id] = &ContainerInfo{
		ID:        id,
		Name:      id,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

// RemoveContainer drops a container behind the control plane's back.
func (m *MockRuntime) RemoveContainer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Containers, id)
}

// HasContainer reports whether a container exists for id.
func (m *MockRuntime) HasContainer(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.Containers[id]
	return ok
}

// ContainerCount returns the number of containers that exist.
func (m *MockRuntime) ContainerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Containers)
}

// CreatedCount returns how many containers Create actually made.
func (m *MockRuntime) CreatedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creates
}

// GetCalls returns all recorded calls
func (m *MockRuntime) GetCalls() []MockCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]MockCall, len(m.CallLog))
	copy(calls, m.CallLog)
	return calls
}

// GetCallsFor returns all calls for a specific method
func (m *MockRuntime) GetCallsFor(method string) []MockCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var calls []MockCall
	for _, call := range m.CallLog {
		if call.Method == method {
			calls = append(calls, call)
		}
	}
	return calls
}

// Reset clears all state
func (m *MockRuntime) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Containers = make(map[string]*ContainerInfo)
	m.Errors = make(map[string]error)
	m.CallLog = make([]MockCall, 0)
	m.unreachable = false
	m.creates = 0
}

// check returns the error the named operation should fail with, if any.
// Callers hold m.mu.
func (m *MockRuntime) check(operation string) error {
	if m.unreachable {
		return errors.RuntimeUnreachable(fmt.Errorf("mock engine offline"))
	}
	if err, ok := m.Errors[operation]; ok {
		return err
	}
	return nil
}

// Name returns the runtime identifier
func (m *MockRuntime) Name() string {
	return "mock"
}

// Ping reports whether the mock engine is reachable.
func (m *MockRuntime) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Ping")
	return m.check("Ping")
}

// Create creates a stopped container. An existing container is left alone.
func (m *MockRuntime) Create(ctx context.Context, opts CreateOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Create", opts)

	if err := m.check("Create"); err != nil {
		return err
	}

	if _, ok := m.Containers[opts.ID]; ok {
		return nil
	}

	m.creates++
	m.Containers[opts.ID] = &ContainerInfo{
		ID:        opts.ID,
		Name:      opts.ID,
		Status:    StatusStopped,
		Image:     opts.Image,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// EnsureRunning marks the container running after BootDelay. A delay longer
// than the boot timeout fails with a boot timeout error.
func (m *MockRuntime) EnsureRunning(ctx context.Context, id string) error {
	m.mu.Lock()
	m.record("EnsureRunning", id)
	if err := m.check("EnsureRunning"); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, ok := m.Containers[id]; !ok {
		m.mu.Unlock()
		return containerMissing(id)
	}
	delay, timeout := m.BootDelay, m.BootTimeout
	m.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultBootTimeout
	}
	wait := delay
	if wait > timeout {
		wait = timeout
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if delay > timeout {
		return errors.BootTimeout(id, timeout)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Containers[id]
	if !ok {
		return containerMissing(id)
	}
	c.Status = StatusRunning
	return nil
}

// Stop stops a running container
func (m *MockRuntime) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Stop", id)

	if err := m.check("Stop"); err != nil {
		return err
	}

	if c, ok := m.Containers[id]; ok {
		c.Status = StatusStopped
	}
	return nil
}

// Delete removes a container. An absent container is success.
func (m *MockRuntime) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Delete", id)

	if err := m.check("Delete"); err != nil {
		return err
	}

	delete(m.Containers, id)
	return nil
}

// Status returns the state of a container
func (m *MockRuntime) Status(ctx context.Context, id string) (ContainerStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Status", id)

	if err := m.check("Status"); err != nil {
		return StatusUnknown, err
	}

	if c, ok := m.Containers[id]; ok {
		return c.Status, nil
	}
	return StatusNotFound, nil
}

// List returns all containers, ordered by id
func (m *MockRuntime) List(ctx context.Context) ([]*ContainerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("List")

	if err := m.check("List"); err != nil {
		return nil, err
	}

	containers := make([]*ContainerInfo, 0, len(m.Containers))
	for _, c := range m.Containers {
		cp := *c
		containers = append(containers, &cp)
	}
	sort.Slice(containers, func(i, j int) bool { return containers[i].ID < containers[j].ID })
	return containers, nil
}

// Ensure MockRuntime implements Runtime
var _ Runtime = (*MockRuntime)(nil)
