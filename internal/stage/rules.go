package stage

import (
	"fmt"
	"path"
	"strings"
)

// Copies a path out of the stage filesystem under a logical artifact name.
type Export struct {
	Source string // Absolute, or relative to the stage working directory.
	Name   string // Logical name, unique within the stage.
}

// Places an artifact produced by another stage into this stage's filesystem.
type Import struct {
	Stage    string // Producing stage. Empty means the predecessor.
	Artifact string // Logical name of the artifact in the producing stage.
	Dest     string // Destination path in this stage's filesystem.
}

// Returns the rule in its textual form.
func (e Export) String() string {
	return e.Source + " " + e.Name
}

// Returns the rule in its textual form.
func (i Import) String() string {
	if i.Stage == "" {
		return i.Artifact + " " + i.Dest
	}
	return i.Stage + ":" + i.Artifact + " " + i.Dest
}

// Parses an export rule of the form "<src> [<name>]".
//
// When the name is omitted, the base name of the source path is used.
func ParseExport(s string) (Export, error) {
	parts := strings.Fields(s)
	switch len(parts) {
	case 1:
		name := path.Base(parts[0])
		if name == "/" || name == "." {
			return Export{}, fmt.Errorf("export %q needs an explicit name", s)
		}
		return Export{Source: parts[0], Name: name}, nil
	case 2:
		return Export{Source: parts[0], Name: parts[1]}, nil
	default:
		return Export{}, fmt.Errorf("expected source and optional name, got %q", s)
	}
}

// Parses an import rule of the form "[<stage>:]<name> <dest>".
//
// The string must contain exactly two whitespace-separated tokens.
func ParseImport(s string) (Import, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return Import{}, fmt.Errorf("expected artifact and destination, got %q", s)
	}

	imp := Import{Dest: parts[1]}
	if stage, name, ok := parseQualified(parts[0]); ok {
		imp.Stage, imp.Artifact = stage, name
	} else {
		imp.Artifact = parts[0]
	}

	return imp, nil
}

// Parses a stage-qualified artifact reference of the form "stage:name".
//
// Returns false if the reference carries no stage prefix. A colon preceded by
// a path separator is not a stage prefix (e.g. "/foo:bar").
func parseQualified(ref string) (stage, name string, ok bool) {
	i := strings.IndexByte(ref, ':')
	if i < 1 {
		return "", "", false
	}
	if strings.ContainsRune(ref[:i], '/') {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}

// Resolves a path against the working directory.
//
// Absolute paths are cleaned. Relative paths require a working directory.
func resolvePath(p, workdir string) (string, error) {
	if path.IsAbs(p) {
		return path.Clean(p), nil
	}
	if workdir == "" {
		return "", fmt.Errorf("relative path %q requires workdir", p)
	}
	return path.Join(workdir, p), nil
}
