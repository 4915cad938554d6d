package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"
)

// Modification time recorded for every entry.
var epoch = time.Unix(0, 0)

// One file, directory or symbolic link in an archive.
type Entry struct {
	Name     string // Relative slash-separated path.
	Type     byte   // tar.TypeReg, tar.TypeDir or tar.TypeSymlink.
	Mode     int64  // Permission bits.
	Linkname string // Symlink target.
	Data     []byte // Content of regular files.
}

// Whether the entry is a regular file with any execute bit set.
func (e Entry) Executable() bool {
	return e.Type == tar.TypeReg && e.Mode&0111 != 0
}

// Cleans an entry name into its canonical relative form.
//
// Returns "" for the archive root.
func Clean(name string) string {
	name = path.Clean("/" + name)
	return strings.TrimPrefix(name, "/")
}

// Writes entries as a normalized tar stream.
//
// Entries are sorted by name, modification times are fixed at the Unix epoch
// and ownership is left empty. Directory names carry a trailing slash. Later entries with a
// duplicate name replace earlier ones.
func Write(w io.Writer, entries []Entry) error {
	tw := tar.NewWriter(w)

	for _, e := range normalize(entries) {
		hdr := &tar.Header{
			Name:     e.Name,
			Typeflag: e.Type,
			Mode:     e.Mode,
			ModTime:  epoch,
			Format:   tar.FormatPAX,
		}
		switch e.Type {
		case tar.TypeDir:
			hdr.Name += "/"
		case tar.TypeSymlink:
			hdr.Linkname = e.Linkname
		case tar.TypeReg:
			hdr.Size = int64(len(e.Data))
		default:
			return fmt.Errorf("%s: unsupported entry type %q", e.Name, e.Type)
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if e.Type == tar.TypeReg {
			if _, err := tw.Write(e.Data); err != nil {
				return err
			}
		}
	}

	return tw.Close()
}

// Returns the normalized tar encoding of entries.
func Bytes(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Reads every supported entry from a tar stream.
//
// Names are cleaned; the root entry and unsupported types (devices, FIFOs)
// are skipped. Hard links are resolved to copies of their target.
func Read(r io.Reader) ([]Entry, error) {
	tr := tar.NewReader(r)
	var out []Entry
	byName := make(map[string]int)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		name := Clean(hdr.Name)
		if name == "" {
			continue
		}

		e := Entry{Name: name, Mode: int64(hdr.FileInfo().Mode().Perm())}
		switch hdr.Typeflag {
		case tar.TypeDir:
			e.Type = tar.TypeDir
		case tar.TypeSymlink:
			e.Type = tar.TypeSymlink
			e.Linkname = hdr.Linkname
		case tar.TypeReg, tar.TypeRegA:
			e.Type = tar.TypeReg
			if e.Data, err = io.ReadAll(tr); err != nil {
				return nil, err
			}
		case tar.TypeLink:
			i, ok := byName[Clean(hdr.Linkname)]
			if !ok {
				return nil, fmt.Errorf("%s: hard link to unknown entry %q", name, hdr.Linkname)
			}
			e.Type = tar.TypeReg
			e.Mode = out[i].Mode
			e.Data = out[i].Data
		default:
			continue
		}

		byName[name] = len(out)
		out = append(out, e)
	}

	return out, nil
}

// Parses a tar byte slice. See [Read].
func Parse(data []byte) ([]Entry, error) {
	return Read(bytes.NewReader(data))
}

// Renames the top component of every entry.
//
// Used when an archive of one path is placed under a different name, e.g.
// an artifact archived from "/app/dist" and imported at "/srv/html".
func Retop(entries []Entry, top string) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		_, rest, found := strings.Cut(e.Name, "/")
		if found {
			e.Name = top + "/" + rest
		} else {
			e.Name = top
		}
		out = append(out, e)
	}
	return out
}

// Prefixes every entry name with dir.
func Rebase(entries []Entry, dir string) []Entry {
	dir = Clean(dir)
	if dir == "" {
		return slices.Clone(entries)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e.Name = dir + "/" + e.Name
		out = append(out, e)
	}
	return out
}

// Sorts entries by name, keeping the last entry for duplicate names.
func normalize(entries []Entry) []Entry {
	byName := make(map[string]Entry, len(entries))
	for _, e := range entries {
		e.Name = Clean(e.Name)
		if e.Name == "" {
			continue
		}
		e.Mode &= 07777
		byName[e.Name] = e
	}

	out := make([]Entry, 0, len(byName))
	for _, e := range byName {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out
}
