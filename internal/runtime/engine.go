package runtime

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/logging"
)

// EngineRuntime implements the Runtime interface against the Docker Engine
// API using the docker SDK.
type EngineRuntime struct {
	client *client.Client

	ContainerPrefix string
	Image           string
	Cmd             []string

	BootTimeout  time.Duration
	PollInterval time.Duration
	StopTimeout  time.Duration

	CPUs     float64
	MemoryMB int

	pullMu sync.Mutex
	pulled map[string]bool
}

// NewEngineRuntime connects to the engine named by the DOCKER_* environment.
func NewEngineRuntime(containerPrefix string) (*EngineRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.RuntimeUnreachable(fmt.Errorf("creating docker client: %w", err))
	}
	return NewEngineRuntimeWithClient(cli, containerPrefix), nil
}

// NewEngineRuntimeWithClient drives the engine through an existing client.
func NewEngineRuntimeWithClient(cli *client.Client, containerPrefix string) *EngineRuntime {
	return &EngineRuntime{
		client:          cli,
		ContainerPrefix: containerPrefix,
		BootTimeout:     DefaultBootTimeout,
		PollInterval:    DefaultPollInterval,
		StopTimeout:     DefaultStopTimeout,
		pulled:          make(map[string]bool),
	}
}

// Close releases the engine connection.
func (r *EngineRuntime) Close() error {
	return r.client.Close()
}

func (r *EngineRuntime) containerName(id string) string {
	return r.ContainerPrefix + id
}

// Name returns the runtime identifier
func (r *EngineRuntime) Name() string {
	return "engine"
}

// classify converts SDK errors into the runtime error vocabulary.
func (r *EngineRuntime) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrConnectionFailed(err) {
		return errors.RuntimeUnreachable(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ping checks that the engine answers.
func (r *EngineRuntime) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx); err != nil {
		return errors.RuntimeUnreachable(err)
	}
	return nil
}

// ensureImage pulls img unless the engine already has it.
func (r *EngineRuntime) ensureImage(ctx context.Context, img string) error {
	r.pullMu.Lock()
	defer r.pullMu.Unlock()

	if r.pulled[img] {
		return nil
	}

	if _, err := r.client.ImageInspect(ctx, img); err == nil {
		r.pulled[img] = true
		return nil
	} else if !client.IsErrNotFound(err) {
		return r.classify("inspect image", err)
	}

	logging.Info("pulling image", "image", img)
	reader, err := r.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return r.classify("pull image", err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}

	r.pulled[img] = true
	return nil
}

// Create creates the sandbox container. A container that already exists
// under the same name is success.
func (r *EngineRuntime) Create(ctx context.Context, opts CreateOptions) error {
	img := opts.Image
	if img == "" {
		img = r.Image
	}
	if img == "" {
		return errors.ValidationError("no container image configured")
	}
	cmd := opts.Command
	if len(cmd) == 0 {
		cmd = r.Cmd
	}

	if err := r.ensureImage(ctx, img); err != nil {
		return err
	}

	labels := map[string]string{
		LabelManaged: "true",
		LabelID:      opts.ID,
	}
	maps.Copy(labels, opts.Labels)

	var binds []string
	for _, hostPath := range slices.Sorted(maps.Keys(opts.BindMounts)) {
		binds = append(binds, hostPath+":"+opts.BindMounts[hostPath])
	}

	containerConfig := &container.Config{
		Image:  img,
		Cmd:    cmd,
		Labels: labels,
	}
	hostConfig := &container.HostConfig{
		Binds: binds,
	}
	if r.CPUs > 0 {
		hostConfig.Resources.NanoCPUs = int64(r.CPUs * 1e9)
	}
	if r.MemoryMB > 0 {
		hostConfig.Resources.Memory = int64(r.MemoryMB) * 1024 * 1024
	}

	name := r.containerName(opts.ID)
	logging.Debug("creating container", "name", name, "runtime", r.Name())

	_, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		if errdefs.IsConflict(err) {
			logging.Debug("container already exists", "name", name)
			return nil
		}
		return r.classify("create container", err)
	}
	return nil
}

// EnsureRunning starts the container if it is stopped and waits for it to
// report running.
func (r *EngineRuntime) EnsureRunning(ctx context.Context, id string) error {
	status, err := r.Status(ctx, id)
	if err != nil {
		return err
	}

	switch status {
	case StatusNotFound:
		return containerMissing(id)
	case StatusRunning:
		return nil
	}

	if err := r.client.ContainerStart(ctx, r.containerName(id), container.StartOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return containerMissing(id)
		}
		return r.classify("start container", err)
	}

	return waitRunning(ctx, id, r.BootTimeout, r.PollInterval, func(ctx context.Context) (ContainerStatus, error) {
		return r.Status(ctx, id)
	})
}

// Stop stops a running container
func (r *EngineRuntime) Stop(ctx context.Context, id string) error {
	timeout := r.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	secs := int(timeout.Seconds())

	err := r.client.ContainerStop(ctx, r.containerName(id), container.StopOptions{Timeout: &secs})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return r.classify("stop container", err)
}

// Delete force-removes a container. An absent container is success.
func (r *EngineRuntime) Delete(ctx context.Context, id string) error {
	err := r.client.ContainerRemove(ctx, r.containerName(id), container.RemoveOptions{Force: true})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return r.classify("remove container", err)
}

// Status returns the observed state of a container
func (r *EngineRuntime) Status(ctx context.Context, id string) (ContainerStatus, error) {
	resp, err := r.client.ContainerInspect(ctx, r.containerName(id))
	if err != nil {
		if client.IsErrNotFound(err) {
			return StatusNotFound, nil
		}
		return StatusUnknown, r.classify("inspect container", err)
	}
	if resp.ContainerJSONBase == nil || resp.State == nil {
		return StatusUnknown, fmt.Errorf("inspect container %s: no state reported", r.containerName(id))
	}
	if resp.State.Running {
		return StatusRunning, nil
	}
	return parseState(string(resp.State.Status)), nil
}

// List returns all containers managed by sandboxd
func (r *EngineRuntime) List(ctx context.Context) ([]*ContainerInfo, error) {
	summaries, err := r.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return nil, r.classify("list containers", err)
	}

	var containers []*ContainerInfo
	for _, s := range summaries {
		var name string
		for _, n := range s.Names {
			n = strings.TrimPrefix(n, "/")
			if strings.HasPrefix(n, r.ContainerPrefix) {
				name = n
				break
			}
		}
		if name == "" {
			continue
		}

		id := s.Labels[LabelID]
		if id == "" {
			id = strings.TrimPrefix(name, r.ContainerPrefix)
		}
		containers = append(containers, &ContainerInfo{
			ID:        id,
			Name:      name,
			Status:    parseState(string(s.State)),
			Image:     s.Image,
			CreatedAt: time.Unix(s.Created, 0).UTC(),
		})
	}
	return containers, nil
}

var _ Runtime = (*EngineRuntime)(nil)
