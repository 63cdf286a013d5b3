package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/system"
)

// errNoSuchContainer marks CLI failures caused by an absent container.
var errNoSuchContainer = stderrors.New("no such container")

// DockerRuntime implements the Runtime interface using the Docker or Podman CLI.
type DockerRuntime struct {
	// Command is the container command to use (docker or podman)
	Command string

	// ContainerPrefix is prepended to sandbox ids to form container names
	ContainerPrefix string

	// Image and Cmd are used for containers whose CreateOptions leave them empty
	Image string
	Cmd   []string

	BootTimeout  time.Duration
	PollInterval time.Duration
	StopTimeout  time.Duration

	CPUs      float64
	MemoryMB  int
	ExtraArgs []string

	// Executor runs the CLI. Nil means system.DefaultExecutor().
	Executor system.CommandExecutor
}

// NewDockerRuntime creates a CLI runtime for the given command (docker or podman).
func NewDockerRuntime(command, containerPrefix string) *DockerRuntime {
	return &DockerRuntime{
		Command:         command,
		ContainerPrefix: containerPrefix,
		BootTimeout:     DefaultBootTimeout,
		PollInterval:    DefaultPollInterval,
		StopTimeout:     DefaultStopTimeout,
	}
}

// containerName returns the full container name for a sandbox
func (r *DockerRuntime) containerName(id string) string {
	return r.ContainerPrefix + id
}

func (r *DockerRuntime) executor() system.CommandExecutor {
	if r.Executor != nil {
		return r.Executor
	}
	return system.DefaultExecutor()
}

// Name returns the runtime identifier
func (r *DockerRuntime) Name() string {
	return r.Command
}

// runCmd executes a docker/podman command and classifies its failure.
func (r *DockerRuntime) runCmd(ctx context.Context, args ...string) (string, error) {
	out, err := r.executor().Execute(ctx, r.Command, args...)
	if err == nil {
		return string(out), nil
	}

	text := strings.TrimSpace(string(out))
	lower := strings.ToLower(text)
	switch {
	case stderrors.Is(err, exec.ErrNotFound) || isUnreachableOutput(lower):
		return text, errors.RuntimeUnreachable(fmt.Errorf("%s %s: %s: %w", r.Command, args[0], text, err))
	case isNoSuchContainerOutput(lower):
		return text, fmt.Errorf("%s %s: %w", r.Command, args[0], errNoSuchContainer)
	default:
		return text, fmt.Errorf("%s %s failed: %s: %w", r.Command, args[0], text, err)
	}
}

func isUnreachableOutput(lower string) bool {
	for _, s := range []string{
		"cannot connect to the docker daemon",
		"is the docker daemon running",
		"error during connect",
		"cannot connect to podman",
		"unable to connect to podman",
	} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func isNoSuchContainerOutput(lower string) bool {
	return strings.Contains(lower, "no such container") ||
		strings.Contains(lower, "no such object") ||
		strings.Contains(lower, "no container with name or id")
}

func isNameInUseOutput(lower string) bool {
	return strings.Contains(lower, "is already in use") ||
		strings.Contains(lower, "name is in use")
}

// Ping checks that the engine behind the CLI answers.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	_, err := r.runCmd(ctx, "version", "--format", "{{.Server.Version}}")
	if err != nil && !errors.Is(err, errors.ErrRuntimeUnreachable) {
		return errors.RuntimeUnreachable(err)
	}
	return err
}

// createArgs builds the argument list for `create`.
func (r *DockerRuntime) createArgs(opts CreateOptions) ([]string, error) {
	image := opts.Image
	if image == "" {
		image = r.Image
	}
	if image == "" {
		return nil, errors.ValidationError("no container image configured")
	}
	cmd := opts.Command
	if len(cmd) == 0 {
		cmd = r.Cmd
	}

	args := []string{"create", "--name", r.containerName(opts.ID),
		"--label", LabelManaged + "=true",
		"--label", LabelID + "=" + opts.ID,
	}

	for _, k := range slices.Sorted(maps.Keys(opts.Labels)) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}

	for _, hostPath := range slices.Sorted(maps.Keys(opts.BindMounts)) {
		args = append(args, "-v", fmt.Sprintf("%s:%s", hostPath, opts.BindMounts[hostPath]))
	}

	if r.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(r.CPUs, 'f', -1, 64))
	}
	if r.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", r.MemoryMB))
	}

	args = append(args, r.ExtraArgs...)
	args = append(args, opts.ExtraArgs...)
	args = append(args, image)
	args = append(args, cmd...)
	return args, nil
}

// Create creates the sandbox container. A container that already exists
// under the same name is success.
func (r *DockerRuntime) Create(ctx context.Context, opts CreateOptions) error {
	containerName := r.containerName(opts.ID)
	logging.Debug("creating container", "name", containerName, "runtime", r.Command)

	args, err := r.createArgs(opts)
	if err != nil {
		return err
	}

	out, err := r.runCmd(ctx, args...)
	if err != nil {
		if isNameInUseOutput(strings.ToLower(out)) {
			logging.Debug("container already exists", "name", containerName)
			return nil
		}
		return err
	}
	return nil
}

// EnsureRunning starts the container if it is stopped and waits for it to
// report running.
func (r *DockerRuntime) EnsureRunning(ctx context.Context, id string) error {
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

	containerName := r.containerName(id)
	logging.Debug("starting container", "container", containerName)
	if _, err := r.runCmd(ctx, "start", containerName); err != nil {
		if stderrors.Is(err, errNoSuchContainer) {
			return containerMissing(id)
		}
		return err
	}

	return waitRunning(ctx, id, r.BootTimeout, r.PollInterval, func(ctx context.Context) (ContainerStatus, error) {
		return r.Status(ctx, id)
	})
}

// Stop stops a running container
func (r *DockerRuntime) Stop(ctx context.Context, id string) error {
	containerName := r.containerName(id)
	logging.Debug("stopping container", "container", containerName)

	timeout := r.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	_, err := r.runCmd(ctx, "stop", "-t", strconv.Itoa(int(timeout.Seconds())), containerName)
	if stderrors.Is(err, errNoSuchContainer) {
		return nil
	}
	return err
}

// Delete force-removes a container. An absent container is success.
func (r *DockerRuntime) Delete(ctx context.Context, id string) error {
	containerName := r.containerName(id)
	logging.Debug("deleting container", "container", containerName)

	_, err := r.runCmd(ctx, "rm", "-f", containerName)
	if stderrors.Is(err, errNoSuchContainer) {
		return nil
	}
	return err
}

// Status returns the observed state of a container
func (r *DockerRuntime) Status(ctx context.Context, id string) (ContainerStatus, error) {
	output, err := r.runCmd(ctx, "inspect", "--format", "{{.State.Status}}", r.containerName(id))
	if err != nil {
		if stderrors.Is(err, errNoSuchContainer) {
			return StatusNotFound, nil
		}
		return StatusUnknown, err
	}
	return parseState(strings.TrimSpace(output)), nil
}

// parseState maps an engine state string to a ContainerStatus.
func parseState(state string) ContainerStatus {
	switch strings.ToLower(state) {
	case "running":
		return StatusRunning
	case "":
		return StatusUnknown
	default:
		// created, exited, paused, restarting, removing, dead, configured, stopped
		return StatusStopped
	}
}

// List returns all containers managed by sandboxd
func (r *DockerRuntime) List(ctx context.Context) ([]*ContainerInfo, error) {
	output, err := r.runCmd(ctx, "ps", "-a",
		"--filter", "label="+LabelManaged+"=true",
		"--format", `{{.Names}}\t{{.State}}\t{{.Image}}\t{{.Label "`+LabelID+`"}}`)
	if err != nil {
		return nil, err
	}

	var containers []*ContainerInfo
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		name := fields[0]
		if !strings.HasPrefix(name, r.ContainerPrefix) {
			continue
		}

		info := &ContainerInfo{
			ID:     strings.TrimPrefix(name, r.ContainerPrefix),
			Name:   name,
			Status: StatusUnknown,
		}
		if len(fields) > 1 {
			info.Status = parseState(fields[1])
		}
		if len(fields) > 2 {
			info.Image = fields[2]
		}
		if len(fields) > 3 && fields[3] != "" {
			info.ID = fields[3]
		}
		containers = append(containers, info)
	}

	return containers, nil
}

// Ensure DockerRuntime implements Runtime
var _ Runtime = (*DockerRuntime)(nil)
