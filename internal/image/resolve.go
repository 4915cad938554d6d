package image

import (
	"archive/tar"
	"fmt"
	"path"
	"strings"

	"github.com/cruciblehq/cruxbuild/internal/archive"
)

// Search path for bare entrypoint names when the image sets no PATH.
const DefaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Maximum number of symbolic links followed while resolving a path.
const maxLinks = 16

// Merged view of the image filesystem, keyed by cleaned entry name.
type filesystem map[string]archive.Entry

// Overlays the layers in order; later entries replace earlier ones.
func merge(layers [][]archive.Entry) filesystem {
	fs := make(filesystem)
	for _, layer := range layers {
		for _, e := range layer {
			fs[archive.Clean(e.Name)] = e
		}
	}
	return fs
}

// Resolves the first entrypoint element to an executable regular file.
//
// Names containing a slash are taken as absolute paths or paths relative to
// workdir. Bare names are looked up in workdir and then in each directory of
// search, like a shell would. Returns the absolute path of the match.
func (fs filesystem) resolveEntrypoint(name, workdir, search string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty entrypoint", ErrMissingEntrypoint)
	}
	if workdir == "" {
		workdir = "/"
	}

	var candidates []string
	switch {
	case path.IsAbs(name):
		candidates = []string{name}
	case strings.Contains(name, "/"):
		candidates = []string{path.Join(workdir, name)}
	default:
		candidates = append(candidates, path.Join(workdir, name))
		for _, dir := range strings.Split(search, ":") {
			if dir != "" {
				candidates = append(candidates, path.Join(dir, name))
			}
		}
	}

	var reasons []string
	for _, c := range candidates {
		err := fs.executable(c)
		if err == nil {
			return path.Clean(c), nil
		}
		reasons = append(reasons, err.Error())
	}

	return "", fmt.Errorf("%w: %q not found as an executable file (%s)", ErrMissingEntrypoint, name, strings.Join(reasons, "; "))
}

// Checks that p names an executable regular file, following symlinks.
func (fs filesystem) executable(p string) error {
	name, err := fs.resolve(p)
	if err != nil {
		return err
	}

	e, ok := fs[name]
	switch {
	case !ok:
		return fmt.Errorf("%s: no such file", p)
	case e.Type != tar.TypeReg:
		return fmt.Errorf("%s: not a regular file", p)
	case !e.Executable():
		return fmt.Errorf("%s: not executable", p)
	}
	return nil
}

// Resolves symbolic links in every component of p and returns the entry
// name it leads to. Relative link targets are taken from the link's parent
// directory. Directories missing from the layers are treated as present, since
// layers may omit parent entries.
func (fs filesystem) resolve(p string) (string, error) {
	var resolved []string
	rest := components(p)

	for links := 0; len(rest) > 0; {
		part := rest[0]
		rest = rest[1:]

		if part == ".." {
			if len(resolved) > 0 {
				resolved = resolved[:len(resolved)-1]
			}
			continue
		}

		name := strings.Join(append(resolved[:len(resolved):len(resolved)], part), "/")
		e, ok := fs[name]
		switch {
		case !ok && len(rest) == 0:
			return "", fmt.Errorf("%s: no such file", p)
		case !ok || e.Type == tar.TypeDir:
			resolved = append(resolved, part)
		case e.Type == tar.TypeSymlink:
			if links++; links > maxLinks {
				return "", fmt.Errorf("%s: too many levels of symbolic links", p)
			}
			if path.IsAbs(e.Linkname) {
				resolved = resolved[:0]
			}
			rest = append(components(e.Linkname), rest...)
		case len(rest) > 0:
			return "", fmt.Errorf("%s: not a directory", p)
		default:
			resolved = append(resolved, part)
		}
	}

	return strings.Join(resolved, "/"), nil
}

// Splits a path into its components, dropping empty and "." elements.
func components(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" && part != "." {
			parts = append(parts, part)
		}
	}
	return parts
}
