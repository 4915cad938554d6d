package build

import (
	"encoding/json"

	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/cruxbuild/internal/artifact"
	"github.com/cruciblehq/cruxbuild/internal/stage"
)

// Everything that determines the outcome of a stage execution.
type fingerprintInput struct {
	Base     string         `json:"base"`
	Workdir  string         `json:"workdir"`
	Shell    string         `json:"shell"`
	Env      []string       `json:"env"`
	Commands []string       `json:"commands"`
	Exports  []string       `json:"exports"`
	Imports  []importedHash `json:"imports"`
	Terminal bool           `json:"terminal"`
}

// Content hash of an artifact at its destination.
type importedHash struct {
	Dest   string        `json:"dest"`
	Digest digest.Digest `json:"digest"`
}

// An artifact resolved for a stage import.
type imported struct {
	rule   stage.Import
	record *artifact.Record
}

// Computes the fingerprint of a stage execution.
//
// The fingerprint covers the base reference, working directory, shell,
// environment, commands, export rules and the destination and digest of
// every imported artifact, in declaration order. Equal fingerprints imply
// equal outputs for deterministic commands.
func fingerprint(d *stage.Descriptor, imports []imported) digest.Digest {
	in := fingerprintInput{
		Base:     d.Base(),
		Workdir:  d.Workdir(),
		Shell:    d.Shell(),
		Env:      d.Environ(),
		Commands: d.Commands(),
		Terminal: d.Terminal(),
	}
	for _, e := range d.Exports() {
		in.Exports = append(in.Exports, e.String())
	}
	for _, imp := range imports {
		in.Imports = append(in.Imports, importedHash{Dest: imp.rule.Dest, Digest: imp.record.Digest})
	}

	// Marshalling plain strings and slices cannot fail.
	data, _ := json.Marshal(in)
	return digest.FromBytes(data)
}
