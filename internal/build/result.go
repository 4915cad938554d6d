package build

import (
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/cruxbuild/internal/artifact"
	"github.com/cruciblehq/cruxbuild/internal/image"
)

// Outcome of a single stage.
type ExecutionResult struct {
	Stage       string             // Stage identifier.
	Status      Status             // Final status.
	Err         error              // Reason for a Failed or Cancelled status.
	Stdout      string             // Standard output of all commands, in order.
	Stderr      string             // Standard error of all commands, in order.
	Artifacts   []*artifact.Record // Artifacts produced, in export order.
	Fingerprint digest.Digest      // Fingerprint of the execution, once imports resolved.
	Cached      bool               // Whether the outcome was restored from the cache.
	Started     time.Time          // When the stage started running.
	Finished    time.Time          // When the stage reached its final status.
}

// Returns the wall-clock time the stage spent running.
func (r *ExecutionResult) Duration() time.Duration {
	if r.Started.IsZero() || r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Outcome of a run.
type Result struct {
	Invocation string                      // Identifier of the invocation.
	Order      []string                    // Stage identifiers in topological order.
	Stages     map[string]*ExecutionResult // Per-stage outcomes.
	Image      *image.FinalImage           // Final image, nil when none was produced.
	Started    time.Time                   // When the run started.
	Finished   time.Time                   // When the run ended.
}

// Returns the outcomes in topological order.
func (r *Result) Ordered() []*ExecutionResult {
	out := make([]*ExecutionResult, 0, len(r.Order))
	for _, id := range r.Order {
		out = append(out, r.Stages[id])
	}
	return out
}

// Returns the number of stages with the given status.
func (r *Result) Count(s Status) int {
	n := 0
	for _, res := range r.Stages {
		if res.Status == s {
			n++
		}
	}
	return n
}
