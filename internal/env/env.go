package env

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/cruciblehq/cruxbuild/internal/archive"
)

// Parameters for creating an environment.
type Spec struct {
	Stage   string   // Identifier of the stage the environment belongs to.
	Base    string   // Base environment reference, resolved by the provider.
	Workdir string   // Working directory for commands, absolute or empty.
	Shell   string   // Shell commands are interpreted by.
	Env     []string // Environment variables in "KEY=VALUE" form.
}

// Outcome of a single command.
type ExecResult struct {
	ExitCode int    // Process exit code.
	Stdout   string // Captured standard output.
	Stderr   string // Captured standard error.
}

// Creates environments.
//
// Implementations must be safe for concurrent use; one environment is
// created per stage execution.
type Provider interface {
	Create(ctx context.Context, spec Spec) (Environment, error)
}

// An isolated filesystem and process context for one stage.
//
// An environment is used by a single stage and need not be safe for
// concurrent use.
type Environment interface {

	// Runs a command through the environment's shell in the working
	// directory. A non-zero exit is reported in the result, not as an
	// error; errors are reserved for failures of the environment itself.
	Exec(ctx context.Context, command string) (*ExecResult, error)

	// Returns the content of a regular file. Fails with [ErrNotExist] if
	// the path does not exist.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// Returns a normalized tar archive of a file or directory. Fails with
	// [ErrNotExist] if the path does not exist.
	Archive(ctx context.Context, path string) ([]byte, error)

	// Places the content of an archive produced by Archive at dest,
	// renaming its top component to the base name of dest.
	Extract(ctx context.Context, data []byte, dest string) error

	// Returns a normalized tar archive of the whole filesystem with entry
	// names relative to the root.
	Snapshot(ctx context.Context) ([]byte, error)

	// Releases every resource held by the environment.
	Close(ctx context.Context) error
}

// Resolves a command path against a working directory.
//
// Absolute paths are cleaned; relative paths are joined with workdir, or
// with the root when workdir is empty.
func Resolve(p, workdir string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	if workdir == "" {
		workdir = "/"
	}
	return path.Join(workdir, p)
}

// Prepares archive entries for extraction at dest.
//
// Returns the entries with their top component renamed to the base name of
// dest, along with the directory (relative to the root) they belong in.
func Relocate(data []byte, dest string) ([]archive.Entry, string, error) {
	entries, err := archive.Parse(data)
	if err != nil {
		return nil, "", err
	}
	dest = path.Clean("/" + dest)
	if dest == "/" {
		return nil, "", fmt.Errorf("%w: cannot extract onto the root", ErrEnvironment)
	}
	dir := strings.TrimPrefix(path.Dir(dest), "/")
	return archive.Retop(entries, path.Base(dest)), dir, nil
}

// Returns the "KEY=VALUE" pair for key, if present.
func Lookup(environ []string, key string) (string, bool) {
	for i := len(environ) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(environ[i], "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}
