package image

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruciblehq/cruxbuild/internal/archive"
)

func layer(t *testing.T, entries ...archive.Entry) []byte {
	t.Helper()
	data, err := archive.Bytes(entries)
	require.NoError(t, err)
	return data
}

func exe(name string) archive.Entry {
	return archive.Entry{Name: name, Type: tar.TypeReg, Mode: 0755, Data: []byte("#!/bin/sh\n")}
}

func plain(name string) archive.Entry {
	return archive.Entry{Name: name, Type: tar.TypeReg, Mode: 0644, Data: []byte("data")}
}

func dir(name string) archive.Entry {
	return archive.Entry{Name: name, Type: tar.TypeDir, Mode: 0755}
}

func input(t *testing.T) Input {
	return Input{
		Layers: [][]byte{
			layer(t, dir("app"), exe("app/serve")),
			layer(t, dir("app/dist"), plain("app/dist/index.html")),
		},
		Workdir:    "/app",
		Entrypoint: []string{"serve", "--port", "80"},
		Expose:     []int{443, 80, 80},
		Env:        map[string]string{"MODE": "prod"},
		Platform:   "linux/amd64",
	}
}

func TestEmit(t *testing.T) {
	img, err := Emit(input(t))
	require.NoError(t, err)

	assert.Len(t, img.Layers, 2)
	assert.Equal(t, []int{80, 443}, img.Ports)
	assert.Equal(t, "/app/serve", img.EntrypointPath)

	var config ocispec.Image
	require.NoError(t, json.Unmarshal(img.Config(), &config))
	assert.Equal(t, []string{"serve", "--port", "80"}, config.Config.Entrypoint)
	assert.Equal(t, "/app", config.Config.WorkingDir)
	assert.Equal(t, []string{"MODE=prod"}, config.Config.Env)
	assert.Contains(t, config.Config.ExposedPorts, "80/tcp")
	assert.Contains(t, config.Config.ExposedPorts, "443/tcp")
	assert.Equal(t, "amd64", config.Architecture)
	assert.Nil(t, config.Created)
	require.Len(t, config.RootFS.DiffIDs, 2)

	var manifest ocispec.Manifest
	require.NoError(t, json.Unmarshal(img.Manifest(), &manifest))
	assert.Equal(t, img.ConfigDigest, manifest.Config.Digest)
	require.Len(t, manifest.Layers, 2)
	assert.Equal(t, img.Layers[0].Digest, manifest.Layers[0].Digest)
	assert.Equal(t, ocispec.MediaTypeImageLayerGzip, manifest.Layers[0].MediaType)
}

func TestEmitLayersDecompressToInput(t *testing.T) {
	in := input(t)
	img, err := Emit(in)
	require.NoError(t, err)

	for i, l := range img.Layers {
		zr, err := gzip.NewReader(bytes.NewReader(l.Blob()))
		require.NoError(t, err)
		raw, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, in.Layers[i], raw, "layer %d", i)
	}
}

func TestEmitDeterministic(t *testing.T) {
	a, err := Emit(input(t))
	require.NoError(t, err)
	b, err := Emit(input(t))
	require.NoError(t, err)

	assert.Equal(t, a.ManifestDigest, b.ManifestDigest)

	var x, y bytes.Buffer
	require.NoError(t, a.WriteArchive(&x, "app:latest"))
	require.NoError(t, b.WriteArchive(&y, "app:latest"))
	assert.True(t, bytes.Equal(x.Bytes(), y.Bytes()), "archives differ")
}

func TestEmitEntrypointResolution(t *testing.T) {
	base := []archive.Entry{
		dir("app"), exe("app/serve"), plain("app/readme"),
		dir("usr"), dir("usr/bin"), exe("usr/bin/env"),
		dir("bin"), {Name: "bin/run", Type: tar.TypeSymlink, Linkname: "../usr/bin/env"},
		{Name: "bin/loop", Type: tar.TypeSymlink, Linkname: "loop"},
		{Name: "bin/dangling", Type: tar.TypeSymlink, Linkname: "/nope"},
		dir("usr/sbin"), exe("usr/sbin/nginx"),
		{Name: "sbin", Type: tar.TypeSymlink, Linkname: "usr/sbin"},
		{Name: "opt", Type: tar.TypeSymlink, Linkname: "/sbin"},
		{Name: "app/bin", Type: tar.TypeSymlink, Linkname: "../usr/sbin/"},
	}

	tests := []struct {
		name       string
		entrypoint string
		env        map[string]string
		want       string
		wantErr    bool
	}{
		{name: "absolute", entrypoint: "/app/serve", want: "/app/serve"},
		{name: "relative to workdir", entrypoint: "./serve", want: "/app/serve"},
		{name: "bare name in workdir", entrypoint: "serve", want: "/app/serve"},
		{name: "bare name on default path", entrypoint: "env", want: "/usr/bin/env"},
		{name: "symlink to executable", entrypoint: "/bin/run", want: "/bin/run"},
		{name: "symlinked directory", entrypoint: "/sbin/nginx", want: "/sbin/nginx"},
		{name: "chained directory symlinks", entrypoint: "/opt/nginx", want: "/opt/nginx"},
		{name: "relative directory symlink", entrypoint: "bin/nginx", want: "/app/bin/nginx"},
		{name: "symlinked directory on search path", entrypoint: "nginx", env: map[string]string{"PATH": "/sbin"}, want: "/sbin/nginx"},
		{name: "file used as directory", entrypoint: "/app/serve/x", wantErr: true},
		{name: "custom search path", entrypoint: "env", env: map[string]string{"PATH": "/bin"}, wantErr: true},
		{name: "missing", entrypoint: "/app/missing", wantErr: true},
		{name: "not executable", entrypoint: "/app/readme", wantErr: true},
		{name: "directory", entrypoint: "/app", wantErr: true},
		{name: "symlink loop", entrypoint: "/bin/loop", wantErr: true},
		{name: "dangling symlink", entrypoint: "/bin/dangling", wantErr: true},
		{name: "empty", entrypoint: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Emit(Input{
				Layers:     [][]byte{layer(t, base...)},
				Workdir:    "/app",
				Entrypoint: []string{tt.entrypoint},
				Env:        tt.env,
			})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMissingEntrypoint), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, img.EntrypointPath)
		})
	}
}

func TestEmitNoEntrypoint(t *testing.T) {
	_, err := Emit(Input{Layers: [][]byte{layer(t, exe("serve"))}})
	assert.ErrorIs(t, err, ErrMissingEntrypoint)
}

func TestEmitLaterLayerShadows(t *testing.T) {
	_, err := Emit(Input{
		Layers: [][]byte{
			layer(t, exe("serve")),
			layer(t, plain("serve")),
		},
		Entrypoint: []string{"/serve"},
	})
	assert.ErrorIs(t, err, ErrMissingEntrypoint)
}

func TestEmitInvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		in := input(t)
		in.Expose = []int{80, port}
		_, err := Emit(in)
		assert.ErrorIs(t, err, ErrInvalidPort, "port %d", port)
	}
}

func TestWriteArchiveLayout(t *testing.T) {
	img, err := Emit(input(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, img.WriteArchive(&buf, "registry.local/app:1.0"))

	entries, err := archive.Read(&buf)
	require.NoError(t, err)

	files := make(map[string][]byte)
	for _, e := range entries {
		files[e.Name] = e.Data
	}

	require.Contains(t, files, "oci-layout")
	require.Contains(t, files, "index.json")
	assert.Contains(t, files, "blobs/sha256/"+img.ConfigDigest.Encoded())
	assert.Contains(t, files, "blobs/sha256/"+img.ManifestDigest.Encoded())
	for _, l := range img.Layers {
		assert.Contains(t, files, "blobs/sha256/"+l.Digest.Encoded())
	}

	var index ocispec.Index
	require.NoError(t, json.Unmarshal(files["index.json"], &index))
	require.Len(t, index.Manifests, 1)
	assert.Equal(t, img.ManifestDigest, index.Manifests[0].Digest)
	assert.Equal(t, "registry.local/app:1.0", index.Manifests[0].Annotations[ocispec.AnnotationRefName])
}
