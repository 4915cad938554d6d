package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// Directories left out of filesystem snapshots.
var snapshotExcludes = []string{"./proc", "./sys", "./dev", "./run", "./tmp"}

// Creates a directory inside the container, including parents.
func (c *Container) MkdirAll(ctx context.Context, dir string) error {
	return c.tool(ctx, nil, nil, "mkdir", "-p", dir)
}

// Whether a path exists inside the container.
func (c *Container) Exists(ctx context.Context, p string) (bool, error) {
	code, err := c.run(ctx, nil, nil, nil, "/", "test", "-e", p)
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// Extracts a tar stream into destDir inside the container.
func (c *Container) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	return c.tool(ctx, r, nil, "tar", "xf", "-", "-C", destDir)
}

// Streams the file or directory at p as a tar whose single top-level entry
// is the base name of p.
func (c *Container) CopyFrom(ctx context.Context, w io.Writer, p string) error {
	return c.tool(ctx, nil, w, "tar", "cf", "-", "-C", path.Dir(p), path.Base(p))
}

// Streams the whole container filesystem as a tar, minus virtual and
// scratch directories.
func (c *Container) CopyRoot(ctx context.Context, w io.Writer) error {
	args := []string{"tar", "cf", "-", "-C", "/"}
	for _, ex := range snapshotExcludes {
		args = append(args, "--exclude="+ex)
	}
	args = append(args, ".")
	return c.tool(ctx, nil, w, args...)
}

// Runs a helper program from the container root, failing on a non-zero
// exit.
func (c *Container) tool(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) error {
	var stderr bytes.Buffer
	code, err := c.run(ctx, stdin, stdout, &stderr, "/", args...)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%w: %s in %s exited with code %d: %s",
			ErrRuntime, args[0], c.id, code, strings.TrimSpace(stderr.String()))
	}
	return nil
}
