package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/cruciblehq/cruxbuild/internal/archive"
	"github.com/cruciblehq/cruxbuild/internal/env"
	"github.com/cruciblehq/cruxbuild/internal/stage"
)

// Creates scratch-directory environments.
type Provider struct {
	scratch string            // Directory environment roots are created in.
	bases   map[string]string // Base reference to seed directory.
	keep    bool              // Whether roots survive Close.
}

// Creates a provider rooting environments under scratch.
//
// The bases map associates base references with host directories whose
// content seeds new environments. Environments with an unmapped base start
// empty.
func New(scratch string, bases map[string]string) *Provider {
	return &Provider{scratch: scratch, bases: bases}
}

// Keeps environment roots on disk after Close, for debugging.
func (p *Provider) Keep() {
	p.keep = true
}

// Creates an environment with a fresh root.
func (p *Provider) Create(ctx context.Context, spec env.Spec) (env.Environment, error) {
	if err := os.MkdirAll(p.scratch, 0755); err != nil {
		return nil, fmt.Errorf("%w: %w", env.ErrEnvironment, err)
	}

	root, err := os.MkdirTemp(p.scratch, spec.Stage+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", env.ErrEnvironment, err)
	}

	e := &Env{root: root, spec: spec, keep: p.keep}

	if seed, ok := p.bases[spec.Base]; ok {
		entries, err := archive.FromHost(seed, "")
		if err == nil {
			err = archive.ToHost(entries, root)
		}
		if err != nil {
			e.Close(ctx)
			return nil, fmt.Errorf("%w: seeding %s: %w", env.ErrEnvironment, spec.Base, err)
		}
	}

	if err := os.MkdirAll(e.host(spec.Workdir), 0755); err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("%w: %w", env.ErrEnvironment, err)
	}

	if spec.Shell != "" && spec.Shell != stage.DefaultShell {
		slog.Debug("local environments interpret commands in-process, ignoring shell", "stage", spec.Stage, "shell", spec.Shell)
	}

	e.environ = append([]string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + root,
	}, spec.Env...)

	slog.Debug("environment created", "stage", spec.Stage, "root", root)
	return e, nil
}

// Scratch-directory environment.
type Env struct {
	root    string   // Host directory acting as the filesystem root.
	spec    env.Spec // Creation parameters.
	environ []string // Command environment.
	keep    bool     // Whether the root survives Close.
}

// Returns the host directory acting as the environment's root.
func (e *Env) Root() string { return e.root }

// Interprets a command with paths mapped into the root.
//
// Path arguments, redirections, globs and directory changes resolve inside
// the root. External programs run on the host with the root-mapped working
// directory, so paths a program computes on its own are not confined.
func (e *Env) Exec(ctx context.Context, command string) (*env.ExecResult, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return &env.ExecResult{ExitCode: 2, Stderr: err.Error() + "\n"}, nil
	}

	var stdout, stderr bytes.Buffer
	runner, err := interp.New(
		interp.Dir(e.host(e.spec.Workdir)),
		interp.Env(expand.ListEnviron(e.environ...)),
		interp.StdIO(nil, &stdout, &stderr),
		interp.CallHandler(e.call),
		interp.OpenHandler(e.open),
		interp.StatHandler(e.stat),
		interp.ReadDirHandler2(e.readDir),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", env.ErrEnvironment, err)
	}

	res := &env.ExecResult{}
	err = runner.Run(ctx, file)
	if status, ok := interp.IsExitStatus(err); ok {
		res.ExitCode = int(status)
	} else if err != nil {
		return nil, fmt.Errorf("%w: %w", env.ErrEnvironment, err)
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res, nil
}

// Rewrites the arguments of a simple command so that paths resolve inside
// the root. Absolute paths are mapped under the root and relative paths that
// climb above it are clamped at the root, the way a chroot would. Arguments
// of text commands are left untouched.
func (e *Env) call(ctx context.Context, args []string) ([]string, error) {
	dir := interp.HandlerCtx(ctx).Dir
	if args[0] == "pwd" {
		return []string{"echo", e.virtual(dir)}, nil
	}

	out := make([]string, len(args))
	out[0] = e.confine(dir, args[0])
	for i, arg := range args[1:] {
		switch {
		case textCommands[args[0]]:
			out[i+1] = arg
		case strings.HasPrefix(arg, "-"):
			out[i+1] = e.confineFlag(dir, arg)
		default:
			out[i+1] = e.confine(dir, arg)
		}
	}
	return out, nil
}

// Commands whose arguments are text rather than paths.
var textCommands = map[string]bool{
	"echo":   true,
	"printf": true,
}

// Confines the value of a "--flag=/path" argument.
func (e *Env) confineFlag(dir, arg string) string {
	i := strings.Index(arg, "=/")
	if i < 0 {
		return arg
	}
	return arg[:i+1] + e.confine(dir, arg[i+1:])
}

// Maps a path, as seen by a command running in dir, to a host path inside
// the root. Paths already inside the root, relative paths that stay inside
// it and device paths are returned as is.
func (e *Env) confine(dir, p string) string {
	switch {
	case p == "" || p == "/dev" || strings.HasPrefix(p, "/dev/"):
		return p
	case !filepath.IsAbs(p):
		if !strings.HasPrefix(p, "..") || e.inside(filepath.Join(dir, p)) {
			return p
		}
		return e.under(path.Join(e.virtual(dir), filepath.ToSlash(p)))
	case e.inside(p):
		return p
	}
	return e.under(filepath.ToSlash(p))
}

// Reports whether a host path lies inside the root.
func (e *Env) inside(p string) bool {
	p = filepath.Clean(p)
	return p == e.root || strings.HasPrefix(p, e.root+string(filepath.Separator))
}

// Returns the host path of an absolute environment path.
func (e *Env) under(p string) string {
	return filepath.Join(e.root, filepath.FromSlash(path.Clean("/"+p)))
}

// Returns the environment path of a host directory inside the root.
func (e *Env) virtual(dir string) string {
	rel, err := filepath.Rel(e.root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "/"
	}
	return path.Clean("/" + filepath.ToSlash(rel))
}

// Opens files for redirections inside the root.
func (e *Env) open(ctx context.Context, p string, flag int, perm fs.FileMode) (io.ReadWriteCloser, error) {
	return interp.DefaultOpenHandler()(ctx, e.confine(interp.HandlerCtx(ctx).Dir, p), flag, perm)
}

// Stats files for tests and directory changes inside the root.
func (e *Env) stat(ctx context.Context, p string, follow bool) (fs.FileInfo, error) {
	return interp.DefaultStatHandler()(ctx, e.confine(e.root, p), follow)
}

// Reads directories for globbing inside the root.
func (e *Env) readDir(ctx context.Context, p string) ([]fs.DirEntry, error) {
	dir := interp.HandlerCtx(ctx).Dir
	p = e.confine(dir, p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	return interp.DefaultReadDirHandler2()(ctx, p)
}

// Returns the content of a regular file.
func (e *Env) ReadFile(ctx context.Context, p string) ([]byte, error) {
	data, err := os.ReadFile(e.host(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", env.ErrNotExist, p)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", env.ErrEnvironment, err)
	}
	return data, nil
}

// Returns a normalized tar archive of a file or directory.
func (e *Env) Archive(ctx context.Context, p string) ([]byte, error) {
	abs := env.Resolve(p, e.spec.Workdir)
	if abs == "/" {
		return nil, fmt.Errorf("%w: cannot archive the root", env.ErrEnvironment)
	}

	entries, err := archive.FromHost(e.host(abs), path.Base(abs))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", env.ErrNotExist, p)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", env.ErrEnvironment, err)
	}

	return archive.Bytes(entries)
}

// Places an archive at dest.
func (e *Env) Extract(ctx context.Context, data []byte, dest string) error {
	entries, dir, err := env.Relocate(data, env.Resolve(dest, e.spec.Workdir))
	if err != nil {
		return err
	}
	if err := archive.ToHost(entries, e.host("/"+dir)); err != nil {
		return fmt.Errorf("%w: %w", env.ErrEnvironment, err)
	}
	return nil
}

// Returns a normalized tar archive of the whole root.
func (e *Env) Snapshot(ctx context.Context) ([]byte, error) {
	entries, err := archive.FromHost(e.root, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", env.ErrEnvironment, err)
	}
	return archive.Bytes(entries)
}

// Removes the root unless the provider keeps roots.
func (e *Env) Close(ctx context.Context) error {
	if e.keep {
		slog.Info("keeping environment root", "stage", e.spec.Stage, "root", e.root)
		return nil
	}
	return os.RemoveAll(e.root)
}

// Maps an environment path to a host path inside the root.
func (e *Env) host(p string) string {
	abs := path.Clean("/" + env.Resolve(p, e.spec.Workdir))
	return filepath.Join(e.root, filepath.FromSlash(abs))
}
