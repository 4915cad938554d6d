// Package env defines the isolated environments stages execute in.
//
// An [Environment] is created from a base reference by a [Provider] and
// offers the handful of capabilities the execution engine needs: running a
// shell command, reading a file, archiving a path into a tar stream,
// extracting a tar stream at a destination and snapshotting the whole
// filesystem. Backends live in subpackages (local, memenv) and in the
// containerd runtime package.
//
// All tar streams exchanged with an environment follow the conventions of
// the archive package: an archive of a path has the path's base name as its
// top component, and a snapshot names entries relative to the root.
package env
