package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cruciblehq/cruxbuild/internal/build"
	"github.com/cruciblehq/cruxbuild/internal/env"
	"github.com/cruciblehq/cruxbuild/internal/graph"
	"github.com/cruciblehq/cruxbuild/internal/stage"
)

func newEnv(t *testing.T, bases map[string]string, spec env.Spec) env.Environment {
	t.Helper()
	p := New(t.TempDir(), bases)
	e, err := p.Create(context.Background(), spec)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func TestExecInWorkdir(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil, env.Spec{Stage: "build", Workdir: "/app", Env: []string{"GREETING=hello"}})

	res, err := e.Exec(ctx, `mkdir dist; echo "$GREETING" > dist/out.txt; echo ok`)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit = %d, stderr = %q", res.ExitCode, res.Stderr)
	}
	if res.Stdout != "ok\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}

	data, err := e.ReadFile(ctx, "/app/dist/out.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\n" {
		t.Errorf("content = %q", data)
	}
}

func TestExecAbsoluteRedirect(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil, env.Spec{Stage: "s", Workdir: "/app"})

	if _, err := e.Exec(ctx, `echo x > /app/abs.txt`); err != nil {
		t.Fatal(err)
	}
	data, err := e.ReadFile(ctx, "abs.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "x\n" {
		t.Errorf("content = %q", data)
	}
}

func TestExecConfinesAbsolutePaths(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil, env.Spec{Stage: "s", Workdir: "/app"})
	dir := "/cruxbuild-" + filepath.Base(t.TempDir())

	res, err := e.Exec(ctx, "mkdir -p "+dir+"/bin && cd "+dir+" && touch bin/tool && test -f "+dir+"/bin/tool && pwd")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit = %d, stderr = %q", res.ExitCode, res.Stderr)
	}
	if res.Stdout != dir+"\n" {
		t.Errorf("stdout = %q, want %q", res.Stdout, dir+"\n")
	}

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		os.RemoveAll(dir)
		t.Fatalf("command wrote to the host: %v", err)
	}
	if _, err := e.ReadFile(ctx, dir+"/bin/tool"); err != nil {
		t.Fatalf("file missing from root: %v", err)
	}
}

func TestExecClampsParentDirectories(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil, env.Spec{Stage: "s", Workdir: "/app"})

	res, err := e.Exec(ctx, "mkdir ../../../top && cd ../../.. && pwd")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit = %d, stderr = %q", res.ExitCode, res.Stderr)
	}
	if res.Stdout != "/\n" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "/\n")
	}
	if _, err := os.Stat(filepath.Join(e.(*Env).Root(), "top")); err != nil {
		t.Errorf("directory not created at the root: %v", err)
	}
}

func TestExecGlobsInsideRoot(t *testing.T) {
	e := newEnv(t, nil, env.Spec{Stage: "s", Workdir: "/app"})

	res, err := e.Exec(context.Background(), "touch /app/a.txt /app/b.txt && echo /app/*.txt")
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "/app/a.txt /app/b.txt\n" {
		t.Errorf("stdout = %q, stderr = %q", res.Stdout, res.Stderr)
	}
}

func TestEnginePipeline(t *testing.T) {
	var ds []*stage.Descriptor
	for _, s := range []stage.Spec{
		{
			ID:       "clone",
			Base:     "scratch",
			Workdir:  "/app",
			Commands: []string{`mkdir -p /app/src && printf '#!/bin/sh\necho served\n' > /app/src/serve`},
			Exports:  []stage.Export{{Source: "/app", Name: "app"}},
		},
		{
			ID:          "build",
			Base:        "scratch",
			Workdir:     "/app",
			Predecessor: "clone",
			Imports:     []stage.Import{{Artifact: "app", Dest: "/app"}},
			Commands:    []string{"mkdir -p /app/dist && cp /app/src/serve /app/dist/serve && chmod 0755 /app/dist/serve"},
			Exports:     []stage.Export{{Source: "/app/dist", Name: "dist"}},
		},
		{
			ID:          "deploy",
			Base:        "scratch",
			Workdir:     "/app/dist",
			Predecessor: "build",
			Imports:     []stage.Import{{Artifact: "dist", Dest: "/app/dist"}},
			Commands:    []string{"test -x /app/dist/serve"},
			Image:       &stage.ImageConfig{Entrypoint: []string{"serve"}},
		},
	} {
		d, err := stage.New(s)
		if err != nil {
			t.Fatal(err)
		}
		ds = append(ds, d)
	}
	g, err := graph.Build(ds)
	if err != nil {
		t.Fatal(err)
	}

	res, err := build.New(build.Options{Provider: New(t.TempDir(), nil)}).Run(context.Background(), g)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"clone", "build", "deploy"} {
		if st := res.Stages[id].Status; st != build.Succeeded {
			t.Errorf("%s: status = %v", id, st)
		}
	}
	if res.Image == nil {
		t.Fatal("no image")
	}
	if res.Image.EntrypointPath != "/app/dist/serve" {
		t.Errorf("entrypoint = %q", res.Image.EntrypointPath)
	}
	if _, err := os.Stat("/app/dist/serve"); err == nil {
		t.Error("pipeline wrote to the host")
	}
}

func TestExecExitCode(t *testing.T) {
	e := newEnv(t, nil, env.Spec{Stage: "s", Workdir: "/w"})

	res, err := e.Exec(context.Background(), `echo boom >&2; exit 7`)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 7 {
		t.Errorf("exit = %d, want 7", res.ExitCode)
	}
	if res.Stderr != "boom\n" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestExecSyntaxError(t *testing.T) {
	e := newEnv(t, nil, env.Spec{Stage: "s", Workdir: "/w"})
	res, err := e.Exec(context.Background(), `if then`)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 2 {
		t.Errorf("exit = %d, want 2", res.ExitCode)
	}
}

func TestSeedFromBase(t *testing.T) {
	seed := t.TempDir()
	if err := os.MkdirAll(filepath.Join(seed, "etc"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(seed, "etc", "os-release"), []byte("ID=test"), 0644); err != nil {
		t.Fatal(err)
	}

	e := newEnv(t, map[string]string{"testos": seed}, env.Spec{Stage: "s", Base: "testos", Workdir: "/app"})
	data, err := e.ReadFile(context.Background(), "/etc/os-release")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ID=test" {
		t.Errorf("content = %q", data)
	}
}

func TestArchiveExtractAcrossEnvironments(t *testing.T) {
	ctx := context.Background()
	src := newEnv(t, nil, env.Spec{Stage: "a", Workdir: "/app"})
	dst := newEnv(t, nil, env.Spec{Stage: "b", Workdir: "/srv"})

	if _, err := src.Exec(ctx, `mkdir -p dist/js && echo app > dist/js/app.js`); err != nil {
		t.Fatal(err)
	}

	data, err := src.Archive(ctx, "dist")
	if err != nil {
		t.Fatal(err)
	}
	if err := dst.Extract(ctx, data, "/srv/www"); err != nil {
		t.Fatal(err)
	}

	got, err := dst.ReadFile(ctx, "/srv/www/js/app.js")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "app\n" {
		t.Errorf("content = %q", got)
	}
}

func TestArchiveMissing(t *testing.T) {
	e := newEnv(t, nil, env.Spec{Stage: "s", Workdir: "/w"})
	if _, err := e.Archive(context.Background(), "missing"); !errors.Is(err, env.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestCloseRemovesRoot(t *testing.T) {
	p := New(t.TempDir(), nil)
	e, err := p.Create(context.Background(), env.Spec{Stage: "s"})
	if err != nil {
		t.Fatal(err)
	}
	root := e.(*Env).Root()
	if err := e.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("root still exists: %v", err)
	}
}
