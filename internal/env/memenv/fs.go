package memenv

import (
	"archive/tar"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/cruciblehq/cruxbuild/internal/archive"
)

// In-memory filesystem keyed by cleaned relative path.
type filesystem map[string]archive.Entry

// Creates directories for every ancestor of name.
func (f filesystem) mkdirAll(name string) {
	name = archive.Clean(name)
	for name != "" && name != "." {
		if e, ok := f[name]; ok && e.Type == tar.TypeDir {
			return
		}
		f[name] = archive.Entry{Name: name, Type: tar.TypeDir, Mode: 0755}
		name = parent(name)
	}
}

// Writes a regular file, creating its parent directories.
func (f filesystem) writeFile(name string, data []byte, mode fs.FileMode) {
	name = archive.Clean(name)
	f.mkdirAll(parent(name))
	f[name] = archive.Entry{Name: name, Type: tar.TypeReg, Mode: int64(mode.Perm()), Data: slices.Clone(data)}
}

// Removes name and everything beneath it.
func (f filesystem) removeAll(name string) {
	name = archive.Clean(name)
	for k := range f {
		if k == name || strings.HasPrefix(k, name+"/") {
			delete(f, k)
		}
	}
}

// Returns name and everything beneath it, renamed so that name becomes top.
func (f filesystem) subtree(name, top string) []archive.Entry {
	name = archive.Clean(name)
	var out []archive.Entry
	for k, e := range f {
		switch {
		case k == name:
			e.Name = top
		case strings.HasPrefix(k, name+"/"):
			e.Name = top + strings.TrimPrefix(k, name)
		default:
			continue
		}
		out = append(out, e)
	}
	return out
}

// Adds entries beneath dir.
func (f filesystem) insert(entries []archive.Entry, dir string) {
	for _, e := range archive.Rebase(entries, dir) {
		if e.Type == tar.TypeDir {
			f.mkdirAll(e.Name)
			continue
		}
		f.removeAll(e.Name)
		f.mkdirAll(parent(e.Name))
		f[e.Name] = e
	}
}

// Returns every entry in the filesystem.
func (f filesystem) entries() []archive.Entry {
	out := make([]archive.Entry, 0, len(f))
	for _, e := range f {
		out = append(out, e)
	}
	return out
}

func parent(name string) string {
	dir := path.Dir(name)
	if dir == "." {
		return ""
	}
	return dir
}
