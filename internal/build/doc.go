// Package build executes stage graphs.
//
// An [Engine] walks a validated graph and runs every stage in its own
// isolated environment obtained from an env.Provider. A stage is
// dispatched the moment all of its producers have succeeded, up to a
// configurable number of concurrent stages. Before running its commands a
// stage receives the artifacts it imports, extracted at their declared
// destinations; after its commands succeed, each export rule archives a
// path of the stage's filesystem into the invocation's artifact store.
//
// A failing stage fails every stage that transitively depends on it with
// [ErrUpstreamFailure] without running them, while independent stages
// continue. Cancelling the context stops dispatch; running stages finish
// their current command and report [ErrCancelled].
//
// Each stage execution is fingerprinted from its descriptor and the
// digests of its imported artifacts. When a fingerprint cache is
// configured, a stage whose fingerprint was recorded before is not run;
// its artifacts and logs are restored from the cache instead.
//
// When every stage succeeds and the graph has a terminal stage, the final
// image is assembled from the terminal stage's filesystem snapshot and the
// artifacts it imports.
//
// Example usage:
//
//	engine := build.New(build.Options{
//	    WorkerLimit: 4,
//	    Provider:    memenv.New(nil),
//	})
//
//	result, err := engine.Run(ctx, g)
//	if err != nil {
//	    var runErr *build.RunError
//	    if errors.As(err, &runErr) {
//	        os.Exit(runErr.ExitCode())
//	    }
//	    return err
//	}
package build
