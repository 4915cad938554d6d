package build

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cruciblehq/cruxbuild/internal/archive"
	"github.com/cruciblehq/cruxbuild/internal/cache"
	"github.com/cruciblehq/cruxbuild/internal/env"
	"github.com/cruciblehq/cruxbuild/internal/graph"
	"github.com/cruciblehq/cruxbuild/internal/image"
)

// Controls graph execution.
type Options struct {
	WorkerLimit int               // Maximum number of concurrently running stages. Defaults to the number of CPUs.
	Provider    env.Provider      // Source of stage environments. Required.
	Cache       *cache.Cache      // Fingerprint cache. Nil disables caching.
	Scope       string            // Cache scope; binding a different scope invalidates the cache.
	Platform    string            // Platform recorded in the final image. Defaults to the host.
	Labels      map[string]string // Labels recorded in the final image config.
}

// Executes stage graphs.
//
// An engine holds no per-run state and may run several graphs, one after
// another or concurrently.
type Engine struct {
	opts Options
}

// Creates an [Engine].
func New(opts Options) *Engine {
	if opts.WorkerLimit < 1 {
		opts.WorkerLimit = runtime.NumCPU()
	}
	return &Engine{opts: opts}
}

// Returns the effective worker limit.
func (e *Engine) WorkerLimit() int {
	return e.opts.WorkerLimit
}

// Outcome of a stage execution as reported to the scheduler.
type outcome struct {
	result   *ExecutionResult
	snapshot []byte // Filesystem snapshot of a terminal stage.
}

// Executes every stage of the graph.
//
// Returns the per-stage results, and the final image when all stages
// succeeded and the graph has a terminal stage. The error is a *RunError
// when stages failed or the run was cancelled, or an image error when the
// final image could not be emitted. Results are returned in every case.
func (e *Engine) Run(ctx context.Context, g *graph.Graph) (*Result, error) {
	if e.opts.Provider == nil {
		return nil, fmt.Errorf("%w: no environment provider", ErrEnvironment)
	}

	inv := newInvocation(g, e.opts.Cache, e.opts.Provider)

	if inv.Cache != nil {
		release, invalidated, err := inv.Cache.Acquire(e.opts.Scope)
		if err != nil {
			return nil, err
		}
		defer release()
		if invalidated {
			slog.Debug("cache scope changed, entries invalidated", "scope", e.opts.Scope)
		}
	}

	res := &Result{
		Invocation: inv.ID,
		Order:      g.Order(),
		Stages:     make(map[string]*ExecutionResult, g.Len()),
		Started:    time.Now(),
	}
	for _, id := range res.Order {
		res.Stages[id] = &ExecutionResult{Stage: id, Status: Pending}
	}

	slog.Info("build started",
		"invocation", inv.ID,
		"stages", g.Len(),
		"workers", e.opts.WorkerLimit,
	)

	snapshot, cancelled := e.schedule(ctx, inv, res)
	res.Finished = time.Now()

	var failed []*StageError
	for _, r := range res.Ordered() {
		if r.Status == Failed {
			failed = append(failed, &StageError{Stage: r.Stage, Err: r.Err})
		}
	}

	if len(failed) > 0 || cancelled {
		runErr := newRunError(failed, cancelled)
		slog.Error("build failed", "invocation", inv.ID, "failed", runErr.Failed, "cancelled", cancelled)
		return res, runErr
	}

	if term, ok := g.Terminal(); ok {
		img, err := e.emit(inv, term.ID(), snapshot)
		if err != nil {
			return res, err
		}
		res.Image = img
	}

	slog.Info("build succeeded", "invocation", inv.ID, "duration", res.Finished.Sub(res.Started).Round(time.Millisecond))
	return res, nil
}

// Dispatches stages as their producers succeed until none can make
// progress.
//
// Runs on the caller's goroutine and is the only writer of res.Stages.
// Returns the snapshot of the terminal stage and whether the run was
// cancelled.
func (e *Engine) schedule(ctx context.Context, inv *Invocation, res *Result) ([]byte, bool) {
	g := inv.Graph
	position := make(map[string]int, len(res.Order))
	waiting := make(map[string]int, len(res.Order))
	var ready []string

	for i, id := range res.Order {
		position[id] = i
		waiting[id] = len(g.Predecessors(id))
		if waiting[id] == 0 {
			ready = append(ready, id)
		}
	}

	sem := semaphore.NewWeighted(int64(e.opts.WorkerLimit))
	done := make(chan outcome)
	running := 0
	cancelled := false
	cancelC := ctx.Done()
	var snapshot []byte

	for {
		for !cancelled && len(ready) > 0 && sem.TryAcquire(1) {
			id := ready[0]
			ready = ready[1:]

			d, _ := g.Stage(id)
			res.Stages[id].Status = Running
			running++

			go func() {
				o := e.execute(ctx, inv, d)
				sem.Release(1)
				done <- o
			}()
		}

		if running == 0 {
			break
		}

		select {
		case o := <-done:
			running--
			r := o.result
			res.Stages[r.Stage] = r
			if o.snapshot != nil {
				snapshot = o.snapshot
			}

			switch r.Status {
			case Succeeded:
				for _, dep := range g.Dependents(r.Stage) {
					waiting[dep]--
					if waiting[dep] == 0 && res.Stages[dep].Status == Pending {
						ready = insertOrdered(ready, dep, position)
					}
				}
			case Failed:
				e.failDownstream(g, res, r.Stage)
			}

		case <-cancelC:
			slog.Warn("build cancelled, waiting for running stages", "invocation", inv.ID, "running", running)
			cancelled = true
			cancelC = nil
		}
	}

	if cancelled || ctx.Err() != nil {
		for _, id := range res.Order {
			if r := res.Stages[id]; r.Status == Pending {
				r.Status = Cancelled
				r.Err = ErrCancelled
			}
		}
	}

	return snapshot, res.Count(Cancelled) > 0
}

// Fails every pending stage downstream of a failed one without running it.
func (e *Engine) failDownstream(g *graph.Graph, res *Result, failed string) {
	now := time.Now()
	for _, id := range g.Downstream(failed) {
		r := res.Stages[id]
		if r.Status != Pending {
			continue
		}
		r.Status = Failed
		r.Err = fmt.Errorf("%w: stage %q failed", ErrUpstreamFailure, failed)
		r.Finished = now
		slog.Warn("stage skipped", "stage", id, "upstream", failed)
	}
}

// Inserts id into the ready queue keeping topological order.
func insertOrdered(ready []string, id string, position map[string]int) []string {
	i, _ := slices.BinarySearchFunc(ready, id, func(a, b string) int {
		return position[a] - position[b]
	})
	return slices.Insert(ready, i, id)
}

// Assembles the final image from the terminal stage's snapshot and the
// artifacts it imports.
func (e *Engine) emit(inv *Invocation, terminal string, snapshot []byte) (*image.FinalImage, error) {
	d, _ := inv.Graph.Stage(terminal)
	layers := [][]byte{snapshot}

	for _, imp := range d.Imports() {
		rec, err := inv.Store.Get(imp.Stage, imp.Artifact)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrArtifactNotFound, err)
		}
		layer, err := artifactLayer(rec.Bytes(), imp.Dest)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", image.ErrImage, err)
		}
		layers = append(layers, layer)
	}

	meta := d.Image()
	vars := d.Env()
	maps.Copy(vars, meta.Env)

	img, err := image.Emit(image.Input{
		Layers:     layers,
		Workdir:    d.Workdir(),
		Entrypoint: meta.Entrypoint,
		Expose:     meta.Expose,
		Env:        vars,
		Platform:   e.opts.Platform,
		Labels:     e.opts.Labels,
	})
	if err != nil {
		slog.Error("image emission failed", "stage", terminal, "error", err)
		return nil, err
	}

	slog.Info("image emitted", "digest", img.ManifestDigest, "layers", len(img.Layers))
	return img, nil
}

// Turns an artifact archive into an image layer placed at dest.
func artifactLayer(data []byte, dest string) ([]byte, error) {
	entries, dir, err := env.Relocate(data, dest)
	if err != nil {
		return nil, err
	}
	return archive.Bytes(archive.Rebase(entries, dir))
}
