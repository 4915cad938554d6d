// Package local provides environments backed by scratch directories on the
// host.
//
// Each environment owns a fresh directory that acts as its filesystem root,
// optionally seeded from a host directory registered for the stage's base
// reference. Commands are interpreted in-process by a POSIX shell
// interpreter with the working directory mapped into the root, and file
// redirections to absolute paths are mapped into the root as well. External
// programs run on the host, so this backend isolates filesystems between
// stages but is not a security boundary; use the containerd backend for
// untrusted recipes.
package local
