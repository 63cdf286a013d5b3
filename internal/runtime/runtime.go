package runtime

import (
	"context"
	"time"
)

// ContainerStatus represents the observed state of a container
type ContainerStatus string

const (
	StatusRunning  ContainerStatus = "running"
	StatusStopped  ContainerStatus = "stopped"
	StatusNotFound ContainerStatus = "not-found"
	// StatusUnknown is reported when the engine cannot be reached. It never
	// means the container is gone.
	StatusUnknown ContainerStatus = "unknown"
)

// Labels applied to every container sandboxd creates.
const (
	LabelManaged = "sandboxd.managed"
	LabelID      = "sandboxd.id"
)

// WorkspaceMountPath is where a sandbox's workspace directory is mounted.
const WorkspaceMountPath = "/workspace"

// ContainerInfo holds information about a container
type ContainerInfo struct {
	// ID is the sandbox id the container belongs to.
	ID        string          `json:"id" yaml:"id"`
	Name      string          `json:"name" yaml:"name"`
	Status    ContainerStatus `json:"status" yaml:"status"`
	Image     string          `json:"image,omitempty" yaml:"image,omitempty"`
	CreatedAt time.Time       `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
}

// CreateOptions holds options for creating a sandbox container
type CreateOptions struct {
	// ID is the sandbox id. The container name is derived from it.
	ID string

	// Image and Command override the runtime defaults when set.
	Image   string
	Command []string

	BindMounts map[string]string // host path -> container path
	Labels     map[string]string
	ExtraArgs  []string // Backend-specific arguments
}

// Runtime is the interface that container backends must implement.
// All methods should be safe for concurrent use, and every mutating call
// must be safe to repeat.
type Runtime interface {
	// Name returns the runtime identifier (e.g., "docker", "podman")
	Name() string

	// Ping checks that the engine is reachable.
	Ping(ctx context.Context) error

	// Create creates the container for a sandbox without starting it. A
	// container that already exists is left alone and reported as success.
	Create(ctx context.Context, opts CreateOptions) error

	// EnsureRunning starts the container if needed and waits until it
	// reports running, bounded by the boot timeout.
	EnsureRunning(ctx context.Context, id string) error

	// Stop stops a running container. An absent container is success.
	Stop(ctx context.Context, id string) error

	// Delete stops and removes a container. An absent container is success.
	Delete(ctx context.Context, id string) error

	// Status reports the container state. When the engine is unreachable it
	// returns StatusUnknown with an ErrRuntimeUnreachable error.
	Status(ctx context.Context, id string) (ContainerStatus, error)

	// List returns all containers managed by this runtime
	List(ctx context.Context) ([]*ContainerInfo, error)
}

// IsRunning reports whether the container for id is running. The second
// return is false when the state could not be determined.
func IsRunning(ctx context.Context, rt Runtime, id string) (running bool, known bool) {
	status, err := rt.Status(ctx, id)
	if err != nil || status == StatusUnknown {
		return false, false
	}
	return status == StatusRunning, true
}
