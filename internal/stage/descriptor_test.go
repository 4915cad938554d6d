package stage

import (
	"errors"
	"testing"
)

func TestNewValid(t *testing.T) {
	d, err := New(Spec{
		ID:          "build",
		Base:        "node:20",
		Workdir:     "/app/",
		Predecessor: "clone",
		Commands:    []string{"npm ci", "npm run build"},
		Imports:     []Import{{Artifact: "src", Dest: "."}},
		Exports:     []Export{{Source: "dist", Name: "dist"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.Workdir() != "/app" {
		t.Errorf("workdir = %q, want /app", d.Workdir())
	}
	if d.Shell() != DefaultShell {
		t.Errorf("shell = %q, want %q", d.Shell(), DefaultShell)
	}
	if got := d.Exports()[0].Source; got != "/app/dist" {
		t.Errorf("export source = %q, want /app/dist", got)
	}
	imp := d.Imports()[0]
	if imp.Dest != "/app" || imp.Stage != "clone" {
		t.Errorf("import = %+v, want dest /app from clone", imp)
	}
	if d.Terminal() {
		t.Error("stage without image metadata reported as terminal")
	}
}

func TestNewInvalid(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{name: "empty id", spec: Spec{Base: "alpine"}},
		{name: "bad id", spec: Spec{ID: "has space", Base: "alpine"}},
		{name: "empty base", spec: Spec{ID: "a"}},
		{name: "relative workdir", spec: Spec{ID: "a", Base: "alpine", Workdir: "app"}},
		{name: "self predecessor", spec: Spec{ID: "a", Base: "alpine", Predecessor: "a"}},
		{
			name: "empty export source",
			spec: Spec{ID: "a", Base: "alpine", Exports: []Export{{Name: "x"}}},
		},
		{
			name: "empty export name",
			spec: Spec{ID: "a", Base: "alpine", Exports: []Export{{Source: "/x"}}},
		},
		{
			name: "duplicate export name",
			spec: Spec{ID: "a", Base: "alpine", Exports: []Export{
				{Source: "/x", Name: "out"},
				{Source: "/y", Name: "out"},
			}},
		},
		{
			name: "relative export without workdir",
			spec: Spec{ID: "a", Base: "alpine", Exports: []Export{{Source: "x", Name: "x"}}},
		},
		{
			name: "import without dest",
			spec: Spec{ID: "a", Base: "alpine", Imports: []Import{{Artifact: "x"}}},
		},
		{
			name: "import from self",
			spec: Spec{ID: "a", Base: "alpine", Imports: []Import{{Stage: "a", Artifact: "x", Dest: "/x"}}},
		},
		{
			name: "port out of range",
			spec: Spec{ID: "a", Base: "alpine", Image: &ImageConfig{Expose: []int{70000}}},
		},
		{
			name: "port zero",
			spec: Spec{ID: "a", Base: "alpine", Image: &ImageConfig{Expose: []int{0}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.spec)
			if !errors.Is(err, ErrInvalidDescriptor) {
				t.Fatalf("err = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
}

func TestDescriptorImmutable(t *testing.T) {
	cmds := []string{"make"}
	env := map[string]string{"A": "1"}
	d, err := New(Spec{ID: "a", Base: "alpine", Commands: cmds, Env: env})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmds[0] = "rm -rf /"
	env["A"] = "2"
	if d.Commands()[0] != "make" {
		t.Fatal("descriptor commands changed through the spec slice")
	}
	if d.Env()["A"] != "1" {
		t.Fatal("descriptor env changed through the spec map")
	}

	got := d.Commands()
	got[0] = "other"
	if d.Commands()[0] != "make" {
		t.Fatal("descriptor commands changed through an accessor")
	}
}

func TestEnvironSorted(t *testing.T) {
	d, err := New(Spec{ID: "a", Base: "alpine", Env: map[string]string{"B": "2", "A": "1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env := d.Environ()
	if len(env) != 2 || env[0] != "A=1" || env[1] != "B=2" {
		t.Fatalf("environ = %v, want [A=1 B=2]", env)
	}
}
