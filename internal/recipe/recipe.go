package recipe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/cruciblehq/cruxbuild/internal/stage"
)

// Recipe file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Top-level recipe document.
type File struct {
	Stages []Stage `yaml:"stages" toml:"stages"`
}

// One stage as written in a recipe file.
type Stage struct {
	ID      string            `yaml:"id" toml:"id"`
	Base    string            `yaml:"base" toml:"base"`
	Workdir string            `yaml:"workdir,omitempty" toml:"workdir,omitempty"`
	Shell   string            `yaml:"shell,omitempty" toml:"shell,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`
	From    string            `yaml:"from,omitempty" toml:"from,omitempty"`
	Imports []string          `yaml:"imports,omitempty" toml:"imports,omitempty"`
	Run     []string          `yaml:"run,omitempty" toml:"run,omitempty"`
	Exports []string          `yaml:"exports,omitempty" toml:"exports,omitempty"`
	Image   *Image            `yaml:"image,omitempty" toml:"image,omitempty"`
}

// Final-image metadata as written in a recipe file.
type Image struct {
	Entrypoint []string          `yaml:"entrypoint,omitempty" toml:"entrypoint,omitempty"`
	Expose     []int             `yaml:"expose,omitempty" toml:"expose,omitempty"`
	Env        map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`
}

// Returns the format implied by a file name's extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, path)
	}
}

// Reads and decodes the recipe file at path.
func Load(path string) ([]*stage.Descriptor, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	stages, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return stages, nil
}

// Decodes recipe bytes in the given format into stage descriptors.
//
// Descriptors are returned in declaration order. Each stage is validated by
// [stage.New]; textual import and export rules are parsed with
// [stage.ParseImport] and [stage.ParseExport].
func Decode(data []byte, format Format) ([]*stage.Descriptor, error) {
	var f File
	if err := unmarshal(data, format, &f); err != nil {
		return nil, err
	}

	if len(f.Stages) == 0 {
		return nil, fmt.Errorf("%w: no stages", ErrRecipe)
	}

	out := make([]*stage.Descriptor, 0, len(f.Stages))
	for i, s := range f.Stages {
		spec, err := s.spec()
		if err != nil {
			return nil, fmt.Errorf("%w: stage %d: %w", ErrRecipe, i+1, err)
		}
		d, err := stage.New(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	return out, nil
}

// Strictly decodes data into f.
func unmarshal(data []byte, format Format, f *File) error {
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", ErrRecipe, err)
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(f); err != nil {
			return fmt.Errorf("%w: %w", ErrRecipe, err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return nil
}

// Converts the file representation into a [stage.Spec].
func (s Stage) spec() (stage.Spec, error) {
	spec := stage.Spec{
		ID:          s.ID,
		Base:        s.Base,
		Workdir:     s.Workdir,
		Shell:       s.Shell,
		Env:         s.Env,
		Commands:    s.Run,
		Predecessor: s.From,
	}

	for _, raw := range s.Imports {
		imp, err := stage.ParseImport(raw)
		if err != nil {
			return stage.Spec{}, err
		}
		spec.Imports = append(spec.Imports, imp)
	}

	for _, raw := range s.Exports {
		exp, err := stage.ParseExport(raw)
		if err != nil {
			return stage.Spec{}, err
		}
		spec.Exports = append(spec.Exports, exp)
	}

	if s.Image != nil {
		spec.Image = &stage.ImageConfig{
			Entrypoint: s.Image.Entrypoint,
			Expose:     s.Image.Expose,
			Env:        s.Image.Env,
		}
	}

	return spec, nil
}
