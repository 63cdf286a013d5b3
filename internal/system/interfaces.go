// Package system wraps the host filesystem and command execution so
// workspaces and CLI runtimes can be exercised against in-memory fakes.
package system

import (
	"context"
	"io/fs"
	"os"
	"os/exec"
)

// FileSystem abstracts the file system operations used for sandbox
// workspace directories.
type FileSystem interface {
	// Stat returns file info for the named file.
	Stat(path string) (fs.FileInfo, error)

	// MkdirAll creates a directory named path, along with any necessary parents.
	MkdirAll(path string, perm fs.FileMode) error

	// RemoveAll removes path and any children it contains.
	RemoveAll(path string) error

	// Exists returns true if the path exists.
	Exists(path string) bool

	// ReadDir lists the entries of a directory, sorted by name.
	ReadDir(path string) ([]fs.DirEntry, error)
}

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Execute runs a command and returns its combined output.
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)

	// LookPath searches PATH for an executable.
	LookPath(name string) (string, error)
}

// DefaultFS returns the host filesystem.
func DefaultFS() FileSystem {
	return osFileSystem{}
}

// DefaultExecutor returns an executor that runs host commands.
func DefaultExecutor() CommandExecutor {
	return osExecutor{}
}

type osFileSystem struct{}

func (osFileSystem) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (osFileSystem) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (osFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (osFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (osFileSystem) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

type osExecutor struct{}

func (osExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

func (osExecutor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
