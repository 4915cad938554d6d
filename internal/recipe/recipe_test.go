package recipe

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cruciblehq/cruxbuild/internal/stage"
)

const yamlRecipe = `
stages:
  - id: clone
    base: alpine/git
    workdir: /app
    run: ["git clone https://example.com/app.git ."]
    exports: ["/app src"]
  - id: build
    base: node:20
    from: clone
    workdir: /app
    env:
      NODE_ENV: production
    imports: ["src /app"]
    run: ["npm ci", "npm run build"]
    exports: ["dist"]
  - id: deploy
    base: nginx:alpine
    from: build
    imports: ["build:dist /app/dist"]
    image:
      entrypoint: ["serve"]
      expose: [80]
`

const tomlRecipe = `
[[stages]]
id = "clone"
base = "alpine/git"
workdir = "/app"
run = ["git clone https://example.com/app.git ."]
exports = ["/app src"]

[[stages]]
id = "build"
base = "node:20"
from = "clone"
workdir = "/app"
imports = ["src /app"]
run = ["npm ci", "npm run build"]
exports = ["dist"]

[stages.env]
NODE_ENV = "production"

[[stages]]
id = "deploy"
base = "nginx:alpine"
from = "build"
imports = ["build:dist /app/dist"]

[stages.image]
entrypoint = ["serve"]
expose = [80]
`

func checkPipeline(t *testing.T, stages []*stage.Descriptor) {
	t.Helper()

	if len(stages) != 3 {
		t.Fatalf("len(stages) = %d, want 3", len(stages))
	}

	build := stages[1]
	if build.Predecessor() != "clone" {
		t.Errorf("build predecessor = %q, want clone", build.Predecessor())
	}
	if got := build.Exports()[0]; got.Source != "/app/dist" || got.Name != "dist" {
		t.Errorf("build export = %+v, want /app/dist as dist", got)
	}
	if build.Env()["NODE_ENV"] != "production" {
		t.Errorf("build env = %v, want NODE_ENV=production", build.Env())
	}
	if len(build.Commands()) != 2 {
		t.Errorf("build commands = %v, want 2 entries", build.Commands())
	}

	deploy := stages[2]
	img := deploy.Image()
	if img == nil {
		t.Fatal("deploy image metadata missing")
	}
	if len(img.Entrypoint) != 1 || img.Entrypoint[0] != "serve" {
		t.Errorf("entrypoint = %v, want [serve]", img.Entrypoint)
	}
	if len(img.Expose) != 1 || img.Expose[0] != 80 {
		t.Errorf("expose = %v, want [80]", img.Expose)
	}
	if imp := deploy.Imports()[0]; imp.Stage != "build" || imp.Dest != "/app/dist" {
		t.Errorf("deploy import = %+v", imp)
	}
}

func TestDecodeYAML(t *testing.T) {
	stages, err := Decode([]byte(yamlRecipe), FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkPipeline(t, stages)
}

func TestDecodeTOML(t *testing.T) {
	stages, err := Decode([]byte(tomlRecipe), FormatTOML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkPipeline(t, stages)
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()

	for name, content := range map[string]string{
		"recipe.yaml": yamlRecipe,
		"recipe.toml": tomlRecipe,
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		stages, err := Load(path)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		checkPipeline(t, stages)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		format Format
		want   error
	}{
		{name: "unknown field", input: "stages:\n  - id: a\n    base: x\n    bogus: 1\n", format: FormatYAML, want: ErrRecipe},
		{name: "no stages", input: "stages: []\n", format: FormatYAML, want: ErrRecipe},
		{name: "empty document", input: "", format: FormatYAML, want: ErrRecipe},
		{name: "bad import", input: "stages:\n  - id: a\n    base: x\n    imports: [\"only\"]\n", format: FormatYAML, want: ErrRecipe},
		{name: "invalid stage", input: "stages:\n  - id: a\n", format: FormatYAML, want: stage.ErrInvalidDescriptor},
		{name: "toml unknown field", input: "[[stages]]\nid = \"a\"\nbase = \"x\"\nbogus = 1\n", format: FormatTOML, want: ErrRecipe},
		{name: "unknown format", input: "", format: "xml", want: ErrUnknownFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input), tt.format)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFormatOf(t *testing.T) {
	if _, err := FormatOf("recipe.xml"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("err = %v, want ErrUnknownFormat", err)
	}
	if f, _ := FormatOf("Recipe.YML"); f != FormatYAML {
		t.Fatalf("format = %q, want yaml", f)
	}
}
