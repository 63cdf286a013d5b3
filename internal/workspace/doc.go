// Package workspace manages the per-sandbox host directories that are bind
// mounted into containers at /workspace.
//
// Each sandbox owns exactly one directory, named after its id, directly
// under a configured root:
//
//	dirs := workspace.New("/var/lib/sandboxd/workspaces", system.DefaultFS())
//	path, err := dirs.Create("k3j9x0a2bq7z")
//	// path == "/var/lib/sandboxd/workspaces/k3j9x0a2bq7z"
//
// Paths are resolved with filepath-securejoin, so an id can never name a
// directory outside the root. List reports every directory under the root
// that looks like a sandbox id; the garbage collector compares it with the
// record store to find directories left behind by crashed teardowns.
package workspace
