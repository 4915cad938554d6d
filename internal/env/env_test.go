package env

import (
	"archive/tar"
	"testing"

	"github.com/cruciblehq/cruxbuild/internal/archive"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		path, workdir, want string
	}{
		{"/usr/bin/../bin/sh", "/app", "/usr/bin/sh"},
		{"dist", "/app", "/app/dist"},
		{"./dist/", "/app", "/app/dist"},
		{"dist", "", "/dist"},
	}

	for _, tt := range tests {
		if got := Resolve(tt.path, tt.workdir); got != tt.want {
			t.Errorf("Resolve(%q, %q) = %q, want %q", tt.path, tt.workdir, got, tt.want)
		}
	}
}

func TestRelocate(t *testing.T) {
	data, err := archive.Bytes([]archive.Entry{
		{Name: "dist", Type: tar.TypeDir, Mode: 0755},
		{Name: "dist/index.html", Type: tar.TypeReg, Mode: 0644, Data: []byte("hi")},
	})
	if err != nil {
		t.Fatal(err)
	}

	entries, dir, err := Relocate(data, "/srv/www/html")
	if err != nil {
		t.Fatal(err)
	}
	if dir != "srv/www" {
		t.Errorf("dir = %q, want srv/www", dir)
	}
	if entries[0].Name != "html" || entries[1].Name != "html/index.html" {
		t.Errorf("names = %q, %q", entries[0].Name, entries[1].Name)
	}
}

func TestRelocateRoot(t *testing.T) {
	data, _ := archive.Bytes(nil)
	if _, _, err := Relocate(data, "/"); err == nil {
		t.Fatal("expected error extracting onto the root")
	}
}

func TestLookup(t *testing.T) {
	environ := []string{"PATH=/bin", "A=1", "A=2"}
	if v, ok := Lookup(environ, "A"); !ok || v != "2" {
		t.Errorf("Lookup(A) = %q, %v", v, ok)
	}
	if _, ok := Lookup(environ, "B"); ok {
		t.Error("Lookup(B) found a value")
	}
}
