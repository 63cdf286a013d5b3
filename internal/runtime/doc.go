// Package runtime translates sandbox lifecycle intents into calls against a
// container engine and reports what the engine actually has.
//
// Supported runtimes:
//   - docker, podman: the engine CLI driven through system.CommandExecutor
//   - engine: the Docker Engine API through the docker SDK
//
// Use New to construct the configured runtime. Wrap it with NewAudited to
// record every mutating call in the audit log.
//
// # Runtime Interface
//
// The Runtime interface defines the narrow surface the control plane needs:
//   - Create, EnsureRunning, Stop, Delete: container lifecycle
//   - Status: observed container state
//   - List: enumerate all managed containers
//
// Create, Stop and Delete are idempotent: an existing container on Create and
// an absent container on Stop or Delete are success. Status distinguishes
// StatusNotFound (the engine says the container is gone) from StatusUnknown
// (the engine could not be asked), so callers never mistake an outage for a
// missing container.
//
// # Mock Runtime
//
// For testing, use NewMockRuntime() to create an in-memory implementation
// that records calls, injects per-operation errors and can simulate an
// unreachable engine or a slow boot.
package runtime
