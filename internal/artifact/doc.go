// Package artifact stores the named byte blobs that stages hand to each other.
//
// A [Store] maps (stage, name) to an immutable [Record] whose content digest
// is computed on insertion. The store is append-only for the lifetime of a
// build invocation: a key can be written once and never changed, so a
// consumer can only ever observe completed artifacts. Access is guarded by
// per-key locks, so unrelated stages never contend.
package artifact
