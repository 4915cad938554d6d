package stage

import (
	"maps"
	"regexp"
	"slices"
)

// Default shell used to interpret stage commands.
const DefaultShell = "/bin/sh"

// Valid stage identifiers.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Final-image metadata carried by the terminal stage.
type ImageConfig struct {
	Entrypoint []string          // Command run when the image starts.
	Expose     []int             // Ports the image listens on.
	Env        map[string]string // Environment baked into the image config.
}

// Input for [New]. Fields mirror the recipe file.
type Spec struct {
	ID          string            // Unique, stable identifier.
	Base        string            // Base environment reference, resolved by the environment backend.
	Workdir     string            // Working directory for commands.
	Shell       string            // Shell for commands. Defaults to [DefaultShell].
	Env         map[string]string // Environment variables for commands.
	Commands    []string          // Commands, executed in order.
	Predecessor string            // Stage whose artifacts unqualified imports refer to.
	Imports     []Import          // Artifacts copied in before the commands run.
	Exports     []Export          // Artifacts captured after the commands succeed.
	Image       *ImageConfig      // Final-image metadata. Marks the terminal stage.
}

// Validated, immutable description of one build stage.
type Descriptor struct {
	spec Spec
}

// Validates the spec and creates a [Descriptor].
//
// Relative import destinations and export sources are resolved against the
// working directory. All slices and maps are copied so later changes to the
// spec do not affect the descriptor.
func New(s Spec) (*Descriptor, error) {
	if s.ID == "" {
		return nil, invalidf("", "identifier is required")
	}
	if !idPattern.MatchString(s.ID) {
		return nil, invalidf(s.ID, "identifier must match %s", idPattern)
	}
	if s.Base == "" {
		return nil, invalidf(s.ID, "base environment is required")
	}
	if s.Shell == "" {
		s.Shell = DefaultShell
	}

	if s.Workdir != "" {
		wd, err := resolvePath(s.Workdir, "")
		if err != nil {
			return nil, invalidf(s.ID, "workdir must be absolute, got %q", s.Workdir)
		}
		s.Workdir = wd
	}

	if s.Predecessor == s.ID {
		return nil, invalidf(s.ID, "stage cannot be its own predecessor")
	}

	exports, err := validateExports(s)
	if err != nil {
		return nil, err
	}

	imports, err := validateImports(s)
	if err != nil {
		return nil, err
	}

	image, err := validateImage(s)
	if err != nil {
		return nil, err
	}

	return &Descriptor{spec: Spec{
		ID:          s.ID,
		Base:        s.Base,
		Workdir:     s.Workdir,
		Shell:       s.Shell,
		Env:         maps.Clone(s.Env),
		Commands:    slices.Clone(s.Commands),
		Predecessor: s.Predecessor,
		Imports:     imports,
		Exports:     exports,
		Image:       image,
	}}, nil
}

// Checks export rules and resolves their sources.
func validateExports(s Spec) ([]Export, error) {
	out := make([]Export, 0, len(s.Exports))
	names := make(map[string]struct{}, len(s.Exports))

	for _, e := range s.Exports {
		if e.Source == "" {
			return nil, invalidf(s.ID, "export %q has an empty source path", e.Name)
		}
		if e.Name == "" {
			return nil, invalidf(s.ID, "export of %q has an empty name", e.Source)
		}
		if _, dup := names[e.Name]; dup {
			return nil, invalidf(s.ID, "duplicate export name %q", e.Name)
		}
		names[e.Name] = struct{}{}

		src, err := resolvePath(e.Source, s.Workdir)
		if err != nil {
			return nil, invalidf(s.ID, "export %q: %v", e.Name, err)
		}
		out = append(out, Export{Source: src, Name: e.Name})
	}

	return out, nil
}

// Checks import rules and resolves their destinations.
func validateImports(s Spec) ([]Import, error) {
	out := make([]Import, 0, len(s.Imports))

	for _, i := range s.Imports {
		if i.Artifact == "" {
			return nil, invalidf(s.ID, "import into %q has an empty artifact name", i.Dest)
		}
		if i.Dest == "" {
			return nil, invalidf(s.ID, "import of %q has an empty destination", i.Artifact)
		}
		if i.Stage == s.ID {
			return nil, invalidf(s.ID, "import of %q refers to the stage itself", i.Artifact)
		}

		dest, err := resolvePath(i.Dest, s.Workdir)
		if err != nil {
			return nil, invalidf(s.ID, "import %q: %v", i.Artifact, err)
		}
		out = append(out, Import{Stage: i.Stage, Artifact: i.Artifact, Dest: dest})
	}

	return out, nil
}

// Checks final-image metadata.
func validateImage(s Spec) (*ImageConfig, error) {
	if s.Image == nil {
		return nil, nil
	}

	for _, p := range s.Image.Expose {
		if p < 1 || p > 65535 {
			return nil, invalidf(s.ID, "exposed port %d out of range 1-65535", p)
		}
	}

	return &ImageConfig{
		Entrypoint: slices.Clone(s.Image.Entrypoint),
		Expose:     slices.Clone(s.Image.Expose),
		Env:        maps.Clone(s.Image.Env),
	}, nil
}

// Returns the stage identifier.
func (d *Descriptor) ID() string { return d.spec.ID }

// Returns the base environment reference.
func (d *Descriptor) Base() string { return d.spec.Base }

// Returns the working directory, or "" when unset.
func (d *Descriptor) Workdir() string { return d.spec.Workdir }

// Returns the shell used to interpret commands.
func (d *Descriptor) Shell() string { return d.spec.Shell }

// Returns the predecessor stage identifier, or "" when the stage has none.
func (d *Descriptor) Predecessor() string { return d.spec.Predecessor }

// Returns a copy of the command list.
func (d *Descriptor) Commands() []string { return slices.Clone(d.spec.Commands) }

// Returns a copy of the environment variables.
func (d *Descriptor) Env() map[string]string { return maps.Clone(d.spec.Env) }

// Returns a copy of the export rules.
func (d *Descriptor) Exports() []Export { return slices.Clone(d.spec.Exports) }

// Returns a copy of the import rules.
//
// Unqualified imports are returned with Stage set to the predecessor.
func (d *Descriptor) Imports() []Import {
	out := slices.Clone(d.spec.Imports)
	for i := range out {
		if out[i].Stage == "" {
			out[i].Stage = d.spec.Predecessor
		}
	}
	return out
}

// Returns a copy of the final-image metadata, or nil.
func (d *Descriptor) Image() *ImageConfig {
	if d.spec.Image == nil {
		return nil
	}
	return &ImageConfig{
		Entrypoint: slices.Clone(d.spec.Image.Entrypoint),
		Expose:     slices.Clone(d.spec.Image.Expose),
		Env:        maps.Clone(d.spec.Image.Env),
	}
}

// Whether the stage carries final-image metadata.
func (d *Descriptor) Terminal() bool { return d.spec.Image != nil }

// Formats the environment as a sorted list of "key=value" strings.
func (d *Descriptor) Environ() []string {
	keys := slices.Sorted(maps.Keys(d.spec.Env))
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+d.spec.Env[k])
	}
	return env
}
