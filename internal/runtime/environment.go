package runtime

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sync/atomic"

	"github.com/cruciblehq/cruxbuild/internal/archive"
	"github.com/cruciblehq/cruxbuild/internal/env"
)

// Sequence counter for container identifiers.
var containerSeq uint64

// Characters not allowed in containerd identifiers.
var invalidIDChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Starts a container for a stage.
//
// The base is prepared on first use, a container is started and the
// working directory created. The returned environment owns the container.
func (rt *Runtime) Create(ctx context.Context, spec env.Spec) (env.Environment, error) {
	tag, err := rt.Prepare(ctx, spec.Base)
	if err != nil {
		return nil, err
	}

	ctr, err := rt.startContainer(ctx, tag, spec)
	if err != nil {
		return nil, err
	}

	if spec.Workdir != "" {
		if err := ctr.MkdirAll(ctx, spec.Workdir); err != nil {
			ctr.Destroy(context.WithoutCancel(ctx))
			return nil, err
		}
	}

	return &Environment{ctr: ctr, spec: spec}, nil
}

// Container-backed stage environment.
type Environment struct {
	ctr  *Container // Container owned by the environment.
	spec env.Spec   // Creation parameters.
}

// Runs a command through the stage's shell.
func (e *Environment) Exec(ctx context.Context, command string) (*env.ExecResult, error) {
	return e.ctr.Exec(ctx, e.spec.Shell, command)
}

// Returns the content of a regular file.
func (e *Environment) ReadFile(ctx context.Context, p string) ([]byte, error) {
	abs, err := e.existing(ctx, p)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := e.ctr.tool(ctx, nil, &buf, "cat", abs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Returns a normalized tar archive of a path.
func (e *Environment) Archive(ctx context.Context, p string) ([]byte, error) {
	abs, err := e.existing(ctx, p)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := e.ctr.CopyFrom(ctx, &buf, abs); err != nil {
		return nil, err
	}
	return normalize(buf.Bytes())
}

// Places an archive at dest.
func (e *Environment) Extract(ctx context.Context, data []byte, dest string) error {
	entries, dir, err := env.Relocate(data, env.Resolve(dest, e.spec.Workdir))
	if err != nil {
		return err
	}

	relocated, err := archive.Bytes(entries)
	if err != nil {
		return err
	}

	dir = "/" + dir
	if err := e.ctr.MkdirAll(ctx, dir); err != nil {
		return err
	}
	return e.ctr.CopyTo(ctx, bytes.NewReader(relocated), dir)
}

// Returns a normalized tar archive of the container filesystem.
func (e *Environment) Snapshot(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.ctr.CopyRoot(ctx, &buf); err != nil {
		return nil, err
	}
	return normalize(buf.Bytes())
}

// Destroys the container.
func (e *Environment) Close(ctx context.Context) error {
	if err := e.ctr.Destroy(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	slog.Debug("container destroyed", "id", e.ctr.ID(), "stage", e.spec.Stage)
	return nil
}

// Resolves p against the workdir and checks that it exists.
func (e *Environment) existing(ctx context.Context, p string) (string, error) {
	abs := env.Resolve(p, e.spec.Workdir)
	ok, err := e.ctr.Exists(ctx, abs)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", env.ErrNotExist, p)
	}
	return abs, nil
}

// Rewrites a tar produced inside a container into normalized form.
func normalize(data []byte) ([]byte, error) {
	entries, err := archive.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return archive.Bytes(entries)
}

// Returns a unique containerd identifier for a stage.
func containerID(stage string) string {
	n := atomic.AddUint64(&containerSeq, 1)
	return fmt.Sprintf("cruxbuild-%s-%d", invalidIDChars.ReplaceAllString(path.Base("/"+stage), "_"), n)
}
