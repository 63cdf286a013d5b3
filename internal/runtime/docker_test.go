package runtime

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/system"
)

func newTestDocker() (*DockerRuntime, *system.MockExecutor) {
	exec := system.NewMockExecutor()
	rt := NewDockerRuntime("docker", "sandboxd-")
	rt.Image = "alpine:3"
	rt.Cmd = []string{"sleep", "infinity"}
	rt.Executor = exec
	rt.BootTimeout = 200 * time.Millisecond
	rt.PollInterval = 5 * time.Millisecond
	return rt, exec
}

var exitErr = stderrors.New("exit status 1")

func TestDockerRuntime_Name(t *testing.T) {
	rt := NewDockerRuntime("docker", "sandboxd-")
	if rt.Name() != "docker" {
		t.Errorf("Name() = %q, want %q", rt.Name(), "docker")
	}

	rt.Command = "podman"
	if rt.Name() != "podman" {
		t.Errorf("Name() = %q, want %q", rt.Name(), "podman")
	}
}

func TestDockerRuntime_containerName(t *testing.T) {
	rt := NewDockerRuntime("docker", "sandboxd-")

	tests := []struct {
		id   string
		want string
	}{
		{"abc123", "sandboxd-abc123"},
		{"test-123", "sandboxd-test-123"},
		{"", "sandboxd-"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := rt.containerName(tt.id); got != tt.want {
				t.Errorf("containerName(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestDockerRuntime_CreateArgs(t *testing.T) {
	rt, exec := newTestDocker()
	rt.CPUs = 1.5
	rt.MemoryMB = 512
	rt.ExtraArgs = []string{"--network", "none"}

	err := rt.Create(context.Background(), CreateOptions{
		ID:         "abc123",
		BindMounts: map[string]string{"/srv/ws/abc123": WorkspaceMountPath},
		Labels:     map[string]string{"owner": "visitor"},
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	cmd, ok := exec.LastCommand()
	if !ok {
		t.Fatal("no command recorded")
	}
	got := cmd.String()
	for _, want := range []string{
		"docker create --name sandboxd-abc123",
		"--label sandboxd.managed=true",
		"--label sandboxd.id=abc123",
		"--label owner=visitor",
		"-v /srv/ws/abc123:/workspace",
		"--cpus 1.5",
		"--memory 512m",
		"--network none alpine:3 sleep infinity",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("command %q missing %q", got, want)
		}
	}
}

func TestDockerRuntime_CreateOverridesImage(t *testing.T) {
	rt, exec := newTestDocker()

	if err := rt.Create(context.Background(), CreateOptions{ID: "x", Image: "busybox", Command: []string{"sh"}}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	cmd, _ := exec.LastCommand()
	if !strings.HasSuffix(cmd.String(), "busybox sh") {
		t.Errorf("command = %q, want override image and command", cmd.String())
	}
}

func TestDockerRuntime_CreateRequiresImage(t *testing.T) {
	rt, _ := newTestDocker()
	rt.Image = ""

	err := rt.Create(context.Background(), CreateOptions{ID: "x"})
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Create error = %v, want validation error", err)
	}
}

func TestDockerRuntime_CreateExistingIsSuccess(t *testing.T) {
	rt, exec := newTestDocker()
	exec.AddResponse("docker create",
		[]byte(`Error response from daemon: Conflict. The container name "/sandboxd-abc" is already in use by container "f00".`),
		exitErr)

	if err := rt.Create(context.Background(), CreateOptions{ID: "abc"}); err != nil {
		t.Errorf("Create on existing container = %v, want nil", err)
	}
}

func TestDockerRuntime_CreateFailure(t *testing.T) {
	rt, exec := newTestDocker()
	exec.AddResponse("docker create", []byte("invalid reference format"), exitErr)

	if err := rt.Create(context.Background(), CreateOptions{ID: "abc"}); err == nil {
		t.Error("expected create error")
	}
}

func TestDockerRuntime_Status(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		err     error
		want    ContainerStatus
		wantErr error
	}{
		{"running", "running\n", nil, StatusRunning, nil},
		{"exited", "exited\n", nil, StatusStopped, nil},
		{"created", "created\n", nil, StatusStopped, nil},
		{"missing", "Error: No such object: sandboxd-abc", exitErr, StatusNotFound, nil},
		{"podman missing", "Error: no container with name or ID \"sandboxd-abc\" found", exitErr, StatusNotFound, nil},
		{"daemon down", "Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?", exitErr, StatusUnknown, errors.ErrRuntimeUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, exec := newTestDocker()
			exec.AddResponse("docker inspect", []byte(tt.output), tt.err)

			got, err := rt.Status(context.Background(), "abc")
			if got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("Status() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Status() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDockerRuntime_DeleteIdempotent(t *testing.T) {
	rt, exec := newTestDocker()
	exec.AddResponse("docker rm", []byte("Error: No such container: sandboxd-gone"), exitErr)

	if err := rt.Delete(context.Background(), "gone"); err != nil {
		t.Errorf("Delete on absent container = %v, want nil", err)
	}

	cmd, _ := exec.LastCommand()
	if cmd.String() != "docker rm -f sandboxd-gone" {
		t.Errorf("command = %q", cmd.String())
	}
}

func TestDockerRuntime_DeleteUnreachable(t *testing.T) {
	rt, exec := newTestDocker()
	exec.AddResponse("docker rm", []byte("error during connect: Get http://..."), exitErr)

	err := rt.Delete(context.Background(), "abc")
	if !errors.Is(err, errors.ErrRuntimeUnreachable) {
		t.Errorf("Delete error = %v, want runtime unreachable", err)
	}
}

func TestDockerRuntime_StopAbsent(t *testing.T) {
	rt, exec := newTestDocker()
	exec.AddResponse("docker stop", []byte("Error response from daemon: No such container: sandboxd-x"), exitErr)

	if err := rt.Stop(context.Background(), "x"); err != nil {
		t.Errorf("Stop on absent container = %v, want nil", err)
	}
	cmd, _ := exec.LastCommand()
	if cmd.String() != "docker stop -t 10 sandboxd-x" {
		t.Errorf("command = %q", cmd.String())
	}
}

func TestDockerRuntime_EnsureRunning(t *testing.T) {
	rt, exec := newTestDocker()
	exec.AddSequence("docker inspect",
		system.MockResponse{Output: []byte("created\n")},
		system.MockResponse{Output: []byte("created\n")},
		system.MockResponse{Output: []byte("running\n")},
	)

	if err := rt.EnsureRunning(context.Background(), "abc"); err != nil {
		t.Fatalf("EnsureRunning error: %v", err)
	}

	if starts := exec.CommandsFor("start"); len(starts) != 1 {
		t.Errorf("start called %d times, want 1", len(starts))
	}
}

func TestDockerRuntime_EnsureRunningAlreadyRunning(t *testing.T) {
	rt, exec := newTestDocker()
	exec.AddResponse("docker inspect", []byte("running\n"), nil)

	if err := rt.EnsureRunning(context.Background(), "abc"); err != nil {
		t.Fatalf("EnsureRunning error: %v", err)
	}
	if starts := exec.CommandsFor("start"); len(starts) != 0 {
		t.Errorf("start called %d times, want 0", len(starts))
	}
}

func TestDockerRuntime_EnsureRunningMissing(t *testing.T) {
	rt, exec := newTestDocker()
	exec.AddResponse("docker inspect", []byte("Error: No such object: sandboxd-abc"), exitErr)

	err := rt.EnsureRunning(context.Background(), "abc")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("EnsureRunning error = %v, want not found", err)
	}
}

func TestDockerRuntime_EnsureRunningTimeout(t *testing.T) {
	rt, exec := newTestDocker()
	rt.BootTimeout = 30 * time.Millisecond
	exec.AddResponse("docker inspect", []byte("created\n"), nil)

	err := rt.EnsureRunning(context.Background(), "abc")
	if !errors.Is(err, errors.ErrBootTimeout) {
		t.Errorf("EnsureRunning error = %v, want boot timeout", err)
	}
}

func TestDockerRuntime_List(t *testing.T) {
	rt, exec := newTestDocker()
	exec.AddResponse("docker ps", []byte(
		"sandboxd-abc\trunning\talpine:3\tabc\n"+
			"sandboxd-def\texited\talpine:3\t\n"+
			"someone-else\trunning\tnginx\t\n"), nil)

	containers, err := rt.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(containers) != 2 {
		t.Fatalf("got %d containers, want 2", len(containers))
	}
	if containers[0].ID != "abc" || containers[0].Status != StatusRunning {
		t.Errorf("containers[0] = %+v", containers[0])
	}
	if containers[1].ID != "def" || containers[1].Status != StatusStopped {
		t.Errorf("containers[1] = %+v", containers[1])
	}
}

func TestDockerRuntime_Ping(t *testing.T) {
	rt, exec := newTestDocker()
	exec.AddResponse("docker version", []byte("28.5.2"), nil)
	if err := rt.Ping(context.Background()); err != nil {
		t.Errorf("Ping error: %v", err)
	}

	exec.AddResponse("docker version", []byte("permission denied"), exitErr)
	if err := rt.Ping(context.Background()); !errors.Is(err, errors.ErrRuntimeUnreachable) {
		t.Errorf("Ping error = %v, want runtime unreachable", err)
	}
}

func TestParseState(t *testing.T) {
	tests := map[string]ContainerStatus{
		"running":    StatusRunning,
		"Running":    StatusRunning,
		"exited":     StatusStopped,
		"paused":     StatusStopped,
		"restarting": StatusStopped,
		"":           StatusUnknown,
	}
	for in, want := range tests {
		if got := parseState(in); got != want {
			t.Errorf("parseState(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDockerRuntime_Interface(t *testing.T) {
	var _ Runtime = (*DockerRuntime)(nil)
}
