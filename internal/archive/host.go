package archive

import (
	"archive/tar"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Collects a host file or directory tree into entries.
//
// When top is non-empty the path itself becomes the top entry and its
// contents are named "top/<rel>". When top is empty only the contents of
// the directory are collected, named by their relative path.
func FromHost(hostPath, top string) ([]Entry, error) {
	info, err := os.Lstat(hostPath)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if top == "" {
			return nil, fmt.Errorf("%s: not a directory", hostPath)
		}
		e, err := hostEntry(hostPath, top, info)
		if err != nil {
			return nil, err
		}
		return []Entry{e}, nil
	}

	var out []Entry
	err = filepath.WalkDir(hostPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(hostPath, p)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(filepath.Join(top, rel))
		if Clean(name) == "" {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		e, err := hostEntry(p, name, info)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Builds a single entry for a host path.
func hostEntry(hostPath, name string, info fs.FileInfo) (Entry, error) {
	e := Entry{Name: Clean(name), Mode: int64(info.Mode().Perm())}

	switch {
	case info.Mode().IsRegular():
		data, err := os.ReadFile(hostPath)
		if err != nil {
			return Entry{}, err
		}
		e.Type = tar.TypeReg
		e.Data = data
	case info.IsDir():
		e.Type = tar.TypeDir
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(hostPath)
		if err != nil {
			return Entry{}, err
		}
		e.Type = tar.TypeSymlink
		e.Linkname = target
	default:
		return Entry{}, fmt.Errorf("%s: unsupported file type %s", hostPath, info.Mode().Type())
	}

	return e, nil
}

// Writes entries into a host directory.
//
// Entry names must stay inside dir; names escaping it are rejected.
// Existing files are replaced.
func ToHost(entries []Entry, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	for _, e := range entries {
		target := filepath.Join(dir, filepath.FromSlash(Clean(e.Name)))
		if !within(dir, target) {
			return fmt.Errorf("%s: escapes extraction directory", e.Name)
		}

		switch e.Type {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(e.Mode)|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.WriteFile(target, e.Data, fs.FileMode(e.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(e.Linkname, target); err != nil {
				return err
			}
		}
	}

	return nil
}

// Whether target is dir or lies beneath it.
func within(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
