// Package memenv provides in-memory environments.
//
// Environments keep their filesystem in a map and hand every command to a
// [Handler]. The default handler, [Script], understands a small set of
// file-manipulation commands, which is enough to model real builds in tests
// and dry runs without a container runtime.
package memenv
