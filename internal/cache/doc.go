// Package cache remembers stage executions by fingerprint.
//
// A fingerprint is a digest over everything that determines a stage's
// outputs: its base environment, commands, settings and the digests of the
// artifacts it imports. When a stage with a known fingerprint is about to
// run, the engine reuses the cached [Entry] instead. The cache is an
// optimization only and never changes build results.
//
// A [Cache] is process-wide state, bound to a scope (typically the recipe
// being built). Binding a different scope invalidates every entry, so
// unrelated builds never share results. A cache opened with [Open] is backed
// by a bbolt file and survives restarts; one created with [New] lives in
// memory only.
package cache
