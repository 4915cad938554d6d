package memenv

import (
	"archive/tar"
	"context"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"sync"

	"github.com/cruciblehq/cruxbuild/internal/archive"
	"github.com/cruciblehq/cruxbuild/internal/env"
)

// Runs a command in an environment.
//
// Handlers may inspect and modify the environment's filesystem through the
// [Env] methods. Returning an error reports a failure of the environment
// itself; a failing command is reported through the result's exit code.
type Handler func(ctx context.Context, e *Env, command string) (*env.ExecResult, error)

// Creates in-memory environments.
//
// Safe for concurrent use.
type Provider struct {
	handler Handler                    // Command handler shared by every environment.
	bases   map[string][]archive.Entry // Seed filesystems keyed by base reference.

	mu    sync.Mutex
	execs map[string]int // Commands run per stage.
	open  int            // Environments created and not yet closed.
}

// Creates a provider that hands commands to handler.
//
// A nil handler selects [Script].
func New(handler Handler) *Provider {
	if handler == nil {
		handler = Script
	}
	return &Provider{
		handler: handler,
		bases:   make(map[string][]archive.Entry),
		execs:   make(map[string]int),
	}
}

// Registers the seed filesystem for a base reference.
//
// Environments created from an unregistered base start empty.
func (p *Provider) Seed(base string, entries []archive.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bases[base] = entries
}

// Creates an environment seeded from the base reference.
func (p *Provider) Create(ctx context.Context, spec env.Spec) (env.Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := &Env{provider: p, spec: spec, fs: make(filesystem)}
	e.fs.insert(p.bases[spec.Base], "")
	if spec.Workdir != "" {
		e.fs.mkdirAll(spec.Workdir)
	}

	p.open++
	return e, nil
}

// Returns the number of commands run for a stage across all environments.
func (p *Provider) Execs(stage string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.execs[stage]
}

// Returns the number of commands run per stage.
func (p *Provider) AllExecs() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.execs)
}

// Returns the number of environments not yet closed.
func (p *Provider) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// In-memory environment.
type Env struct {
	provider *Provider
	spec     env.Spec
	fs       filesystem
	closed   bool
}

// Returns the parameters the environment was created with.
func (e *Env) Spec() env.Spec { return e.spec }

// Writes a regular file. Relative paths resolve against the workdir.
func (e *Env) WriteFile(name string, data []byte, mode fs.FileMode) {
	e.fs.writeFile(e.resolve(name), data, mode)
}

// Creates a directory and its parents.
func (e *Env) MkdirAll(name string) {
	e.fs.mkdirAll(e.resolve(name))
}

// Removes a path and everything beneath it.
func (e *Env) RemoveAll(name string) {
	e.fs.removeAll(e.resolve(name))
}

// Whether a path exists.
func (e *Env) Exists(name string) bool {
	_, ok := e.fs[e.resolve(name)]
	return ok
}

// Runs a command through the provider's handler.
func (e *Env) Exec(ctx context.Context, command string) (*env.ExecResult, error) {
	if e.closed {
		return nil, env.ErrClosed
	}

	e.provider.mu.Lock()
	e.provider.execs[e.spec.Stage]++
	e.provider.mu.Unlock()

	return e.provider.handler(ctx, e, command)
}

// Returns the content of a regular file.
func (e *Env) ReadFile(ctx context.Context, name string) ([]byte, error) {
	entry, ok := e.fs[e.resolve(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", env.ErrNotExist, name)
	}
	if entry.Type != tar.TypeReg {
		return nil, fmt.Errorf("%w: %s is not a regular file", env.ErrEnvironment, name)
	}
	return append([]byte(nil), entry.Data...), nil
}

// Returns a normalized tar archive of a path.
func (e *Env) Archive(ctx context.Context, name string) ([]byte, error) {
	key := e.resolve(name)
	if _, ok := e.fs[key]; !ok || key == "" {
		return nil, fmt.Errorf("%w: %s", env.ErrNotExist, name)
	}
	return archive.Bytes(e.fs.subtree(key, path.Base(key)))
}

// Places an archive at dest.
func (e *Env) Extract(ctx context.Context, data []byte, dest string) error {
	entries, dir, err := env.Relocate(data, env.Resolve(dest, e.spec.Workdir))
	if err != nil {
		return err
	}
	e.fs.insert(entries, dir)
	return nil
}

// Returns a normalized tar archive of the whole filesystem.
func (e *Env) Snapshot(ctx context.Context) ([]byte, error) {
	return archive.Bytes(e.fs.entries())
}

// Marks the environment closed.
func (e *Env) Close(ctx context.Context) error {
	if e.closed {
		return nil
	}
	e.closed = true

	e.provider.mu.Lock()
	e.provider.open--
	e.provider.mu.Unlock()
	return nil
}

// Maps a path to its filesystem key.
func (e *Env) resolve(name string) string {
	return archive.Clean(env.Resolve(name, e.spec.Workdir))
}
