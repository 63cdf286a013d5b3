package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/firefly-engineering/sandboxd/internal/errors"
)

const (
	// DefaultBootTimeout bounds how long EnsureRunning waits for a container.
	DefaultBootTimeout = 45 * time.Second

	// DefaultPollInterval is how often EnsureRunning re-checks the state.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultStopTimeout is the grace period given to a container on stop.
	DefaultStopTimeout = 10 * time.Second
)

type statusFunc func(ctx context.Context) (ContainerStatus, error)

// waitRunning polls status until the container reports running. It gives up
// with a boot timeout error after timeout, or with the engine error when the
// engine stayed unreachable for the whole wait.
func waitRunning(ctx context.Context, id string, timeout, interval time.Duration, status statusFunc) error {
	if timeout <= 0 {
		timeout = DefaultBootTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		st, err := status(ctx)
		switch {
		case err != nil:
			lastErr = err
		case st == StatusRunning:
			return nil
		case st == StatusNotFound:
			return containerMissing(id)
		default:
			lastErr = nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if lastErr != nil && errors.Is(lastErr, errors.ErrRuntimeUnreachable) {
				return lastErr
			}
			return errors.BootTimeout(id, timeout)
		case <-ticker.C:
		}
	}
}

// containerMissing reports a container the engine says does not exist.
func containerMissing(id string) error {
	e := errors.New(errors.ExitProvisionFailed, fmt.Sprintf("container for sandbox %s does not exist", id))
	e.Kind = errors.ErrNotFound
	e.SandboxID = id
	return e
}
