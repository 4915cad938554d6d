// Package archive reads and writes normalized tar streams.
//
// Every tar produced by the build (artifacts, stage snapshots, image layers)
// goes through [Write], which sorts entries by name, pins timestamps to the
// Unix epoch and drops ownership. Two archives with the same entries are therefore always
// byte-identical, which keeps content digests, fingerprints and image
// digests reproducible.
//
// Entry names are slash-separated and relative, without a leading "/" or
// "./". Archives of a single path use the path's base name as their top
// component, so "/app/dist" becomes "dist", "dist/index.html" and so on.
package archive
