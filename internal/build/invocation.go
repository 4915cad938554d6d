package build

import (
	"github.com/google/uuid"

	"github.com/cruciblehq/cruxbuild/internal/artifact"
	"github.com/cruciblehq/cruxbuild/internal/cache"
	"github.com/cruciblehq/cruxbuild/internal/env"
	"github.com/cruciblehq/cruxbuild/internal/graph"
)

// State of a single run, shared by every stage execution.
//
// Created when a run starts and discarded when it returns. The artifact
// store never outlives the invocation; only entries written to the cache do.
type Invocation struct {
	ID       string          // Unique identifier for logs and reports.
	Graph    *graph.Graph    // Graph being executed.
	Store    *artifact.Store // Artifacts produced during the run.
	Cache    *cache.Cache    // Fingerprint cache, or nil when caching is disabled.
	Provider env.Provider    // Source of stage environments.
}

// Creates an [Invocation] with an empty artifact store.
func newInvocation(g *graph.Graph, c *cache.Cache, p env.Provider) *Invocation {
	return &Invocation{
		ID:       uuid.NewString(),
		Graph:    g,
		Store:    artifact.NewStore(),
		Cache:    c,
		Provider: p,
	}
}
