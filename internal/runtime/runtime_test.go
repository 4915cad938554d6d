package runtime

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"testing"
)

func TestImageTag(t *testing.T) {
	tag := imageTag("/bases/alpine.tar")

	if !strings.HasPrefix(tag, "import/") {
		t.Fatalf("tag %q missing import/ prefix", tag)
	}
	if !strings.HasSuffix(tag, ":latest") {
		t.Fatalf("tag %q missing :latest suffix", tag)
	}
	if imageTag("/bases/alpine.tar") != tag {
		t.Fatal("imageTag is not deterministic")
	}
	if imageTag("/bases/debian.tar") == tag {
		t.Fatal("different paths produced the same tag")
	}
}

func TestDefaultPlatform(t *testing.T) {
	p := defaultPlatform()
	parts := strings.Split(p, "/")
	if len(parts) != 2 || parts[0] != "linux" || parts[1] == "" {
		t.Fatalf("defaultPlatform = %q, want linux/<arch>", p)
	}
}

func TestIsArchive(t *testing.T) {
	tests := map[string]bool{
		"/bases/alpine.tar":             true,
		"alpine.tar":                    true,
		"docker.io/library/alpine:3.20": false,
		"registry.local/base:tar":       false,
	}
	for base, want := range tests {
		if got := isArchive(base); got != want {
			t.Errorf("isArchive(%q) = %v, want %v", base, got, want)
		}
	}
}

func TestContainerID(t *testing.T) {
	valid := regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

	a := containerID("build")
	b := containerID("build")
	if a == b {
		t.Fatalf("containerID returned duplicate: %q", a)
	}
	for _, id := range []string{a, b, containerID("we!rd stage")} {
		if !valid.MatchString(id) {
			t.Errorf("containerID = %q, not a valid identifier", id)
		}
	}
}

func TestDoneReader(t *testing.T) {
	dr := newDoneReader(bytes.NewReader([]byte("payload")))

	select {
	case <-dr.done:
		t.Fatal("done closed before EOF")
	default:
	}

	if _, err := io.ReadAll(dr); err != nil {
		t.Fatal(err)
	}

	select {
	case <-dr.done:
	default:
		t.Fatal("done not closed after EOF")
	}

	// Further reads after EOF must not panic on a second close.
	dr.Read(make([]byte, 1))
}
