package workspace

import (
	stderrors "errors"
	"fmt"
	"io/fs"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/system"
)

// Dirs manages sandbox directories under a root.
type Dirs struct {
	root string
	fs   system.FileSystem
}

// New returns a Dirs rooted at root. A nil fsys uses system.DefaultFS().
func New(root string, fsys system.FileSystem) *Dirs {
	if fsys == nil {
		fsys = system.DefaultFS()
	}
	return &Dirs{root: root, fs: fsys}
}

// Root returns the directory holding all sandbox workspaces.
func (d *Dirs) Root() string {
	return d.root
}

// Path returns the workspace directory for a sandbox id without creating it.
func (d *Dirs) Path(id string) (string, error) {
	if err := record.ValidateID(id); err != nil {
		return "", err
	}
	path, err := securejoin.SecureJoin(d.root, id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace for %s: %w", id, err)
	}
	return path, nil
}

// Create makes the workspace directory for id and returns its path.
// Creating an existing workspace is not an error.
func (d *Dirs) Create(id string) (string, error) {
	path, err := d.Path(id)
	if err != nil {
		return "", err
	}
	if err := d.fs.MkdirAll(path, 0o750); err != nil {
		return "", fmt.Errorf("failed to create workspace %s: %w", path, err)
	}
	logging.Debug("workspace ready", "sandbox", id, "path", path)
	return path, nil
}

// Remove deletes the workspace directory for id. Removing a missing
// workspace is not an error.
func (d *Dirs) Remove(id string) error {
	path, err := d.Path(id)
	if err != nil {
		return err
	}
	if err := d.fs.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", path, err)
	}
	return nil
}

// Exists reports whether the workspace directory for id exists.
func (d *Dirs) Exists(id string) bool {
	path, err := d.Path(id)
	if err != nil {
		return false
	}
	return d.fs.Exists(path)
}

// List returns the sandbox ids that have a workspace directory. Entries that
// are not directories or are not valid ids are ignored. A missing root
// yields no ids.
func (d *Dirs) List() ([]string, error) {
	entries, err := d.fs.ReadDir(d.root)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list workspaces in %s: %w", d.root, err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if record.ValidateID(entry.Name()) != nil {
			continue
		}
		ids = append(ids, entry.Name())
	}
	return ids, nil
}
