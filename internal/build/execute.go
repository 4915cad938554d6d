package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cruciblehq/cruxbuild/internal/cache"
	"github.com/cruciblehq/cruxbuild/internal/env"
	"github.com/cruciblehq/cruxbuild/internal/stage"
)

// Maximum number of stderr bytes quoted in a command failure.
const stderrExcerpt = 2048

// Runs a single stage and reports its outcome.
//
// Never returns a Running or Pending result; every failure is captured in
// the result.
func (e *Engine) execute(ctx context.Context, inv *Invocation, d *stage.Descriptor) outcome {
	x := &execution{
		engine: e,
		inv:    inv,
		desc:   d,
		result: &ExecutionResult{Stage: d.ID(), Status: Running, Started: time.Now()},
	}

	snapshot, err := x.run(ctx)
	x.result.Finished = time.Now()

	switch {
	case err == nil:
		x.result.Status = Succeeded
		slog.Info("stage succeeded",
			"stage", d.ID(),
			"cached", x.result.Cached,
			"duration", x.result.Duration().Round(time.Millisecond),
		)
	case errors.Is(err, ErrCancelled), ctx.Err() != nil && errors.Is(err, context.Canceled):
		x.result.Status = Cancelled
		x.result.Err = err
		slog.Warn("stage cancelled", "stage", d.ID())
	default:
		x.result.Status = Failed
		x.result.Err = err
		slog.Error("stage failed", "stage", d.ID(), "error", err)
	}

	if x.result.Status != Succeeded {
		snapshot = nil
	}
	return outcome{result: x.result, snapshot: snapshot}
}

// A single stage execution in progress.
type execution struct {
	engine *Engine
	inv    *Invocation
	desc   *stage.Descriptor
	result *ExecutionResult
	stdout strings.Builder
	stderr strings.Builder
}

// Resolves imports, consults the cache and runs the stage when needed.
//
// Returns the filesystem snapshot for terminal stages.
func (x *execution) run(ctx context.Context) ([]byte, error) {
	imports, err := x.resolveImports()
	if err != nil {
		return nil, err
	}

	fp := fingerprint(x.desc, imports)
	x.result.Fingerprint = fp

	c := x.inv.Cache
	if c == nil {
		return x.runInEnvironment(ctx, imports)
	}

	c.Lock(fp)
	defer c.Unlock(fp)

	entry, ok, err := c.Lookup(fp)
	if err != nil {
		slog.Warn("cache lookup failed, running stage", "stage", x.desc.ID(), "error", err)
	}
	if ok {
		return x.restore(entry)
	}

	snapshot, err := x.runInEnvironment(ctx, imports)
	if err != nil {
		return nil, err
	}

	if err := c.Store(fp, x.entry(snapshot)); err != nil {
		slog.Warn("cache store failed", "stage", x.desc.ID(), "error", err)
	}
	return snapshot, nil
}

// Looks up every imported artifact in the invocation's store.
func (x *execution) resolveImports() ([]imported, error) {
	var out []imported
	for _, imp := range x.desc.Imports() {
		if !x.inv.Graph.CanImport(x.desc.ID(), imp.Stage) {
			return nil, fmt.Errorf("%w: %s is not a declared producer", ErrArtifactNotFound, imp.Stage)
		}
		rec, err := x.inv.Store.Get(imp.Stage, imp.Artifact)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrArtifactNotFound, err)
		}
		out = append(out, imported{rule: imp, record: rec})
	}
	return out, nil
}

// Creates the stage environment, runs the commands and exports artifacts.
func (x *execution) runInEnvironment(ctx context.Context, imports []imported) ([]byte, error) {
	d := x.desc

	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}

	slog.Info("stage started", "stage", d.ID(), "base", d.Base(), "commands", len(d.Commands()))

	environment, err := x.inv.Provider.Create(ctx, env.Spec{
		Stage:   d.ID(),
		Base:    d.Base(),
		Workdir: d.Workdir(),
		Shell:   d.Shell(),
		Env:     d.Environ(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnvironment, err)
	}
	defer func() {
		if err := environment.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to close environment", "stage", d.ID(), "error", err)
		}
	}()

	for _, imp := range imports {
		slog.Debug("import", "stage", d.ID(), "artifact", imp.record, "dest", imp.rule.Dest)
		if err := environment.Extract(ctx, imp.record.Bytes(), imp.rule.Dest); err != nil {
			return nil, fmt.Errorf("%w: importing %s: %w", ErrEnvironment, imp.rule, err)
		}
	}

	if err := x.runCommands(ctx, environment); err != nil {
		return nil, err
	}

	if err := x.export(ctx, environment); err != nil {
		return nil, err
	}

	if !d.Terminal() {
		return nil, nil
	}

	snapshot, err := environment.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %w", ErrEnvironment, err)
	}
	return snapshot, nil
}

// Runs the stage's commands in order, stopping at the first failure.
//
// Commands are not interrupted by cancellation; the context is checked
// between commands.
func (x *execution) runCommands(ctx context.Context, environment env.Environment) error {
	defer func() {
		x.result.Stdout = x.stdout.String()
		x.result.Stderr = x.stderr.String()
	}()

	for i, cmd := range x.desc.Commands() {
		if ctx.Err() != nil {
			return fmt.Errorf("%w before command %d", ErrCancelled, i+1)
		}

		slog.Debug("run", "stage", x.desc.ID(), "command", cmd)

		r, err := environment.Exec(context.WithoutCancel(ctx), cmd)
		if err != nil {
			return fmt.Errorf("%w: command %d: %w", ErrEnvironment, i+1, err)
		}
		x.stdout.WriteString(r.Stdout)
		x.stderr.WriteString(r.Stderr)

		if r.ExitCode != 0 {
			return fmt.Errorf("%w: command %d (%q) exited with code %d: %s",
				ErrCommandFailed, i+1, cmd, r.ExitCode, excerpt(r.Stderr))
		}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("%w after last command", ErrCancelled)
	}
	return nil
}

// Archives every export rule into the artifact store.
func (x *execution) export(ctx context.Context, environment env.Environment) error {
	for _, rule := range x.desc.Exports() {
		data, err := environment.Archive(ctx, rule.Source)
		if errors.Is(err, env.ErrNotExist) {
			return fmt.Errorf("%w: %s (export %q)", ErrArtifactNotFound, rule.Source, rule.Name)
		}
		if err != nil {
			return fmt.Errorf("%w: exporting %s: %w", ErrEnvironment, rule.Source, err)
		}

		rec, err := x.inv.Store.Put(x.desc.ID(), rule.Name, data)
		if err != nil {
			return err
		}
		x.result.Artifacts = append(x.result.Artifacts, rec)
		slog.Debug("export", "stage", x.desc.ID(), "artifact", rec, "size", rec.Size)
	}
	return nil
}

// Restores a cached execution into the artifact store.
func (x *execution) restore(entry *cache.Entry) ([]byte, error) {
	for _, a := range entry.Artifacts {
		rec, err := x.inv.Store.Put(x.desc.ID(), a.Name, a.Content)
		if err != nil {
			return nil, err
		}
		x.result.Artifacts = append(x.result.Artifacts, rec)
	}

	x.result.Cached = true
	x.result.Stdout = entry.Stdout
	x.result.Stderr = entry.Stderr

	slog.Debug("cache hit", "stage", x.desc.ID(), "fingerprint", x.result.Fingerprint)
	return entry.Layer, nil
}

// Builds the cache entry for a successful execution.
func (x *execution) entry(snapshot []byte) *cache.Entry {
	e := &cache.Entry{
		Stdout: x.result.Stdout,
		Stderr: x.result.Stderr,
		Layer:  snapshot,
	}
	for _, rec := range x.result.Artifacts {
		e.Artifacts = append(e.Artifacts, cache.Artifact{Name: rec.Name, Content: rec.Bytes()})
	}
	return e
}

// Returns the tail of a command's stderr for error messages.
func excerpt(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > stderrExcerpt {
		stderr = "..." + stderr[len(stderr)-stderrExcerpt:]
	}
	if stderr == "" {
		return "(no output)"
	}
	return stderr
}
