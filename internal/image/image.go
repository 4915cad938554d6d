package image

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/containerd/platforms"
	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cruciblehq/cruxbuild/internal/archive"
)

// Everything the final image is assembled from.
type Input struct {
	Layers     [][]byte          // Uncompressed tar layers, lowest first.
	Workdir    string            // Working directory of the image.
	Entrypoint []string          // Command the image runs.
	Expose     []int             // Ports the image listens on.
	Env        map[string]string // Environment variables of the image.
	Platform   string            // Target platform; empty selects the host platform.
	Labels     map[string]string // Config labels.
}

// One compressed filesystem layer.
type Layer struct {
	Digest digest.Digest // Digest of the compressed blob.
	DiffID digest.Digest // Digest of the uncompressed tar.
	Size   int64         // Size of the compressed blob.
	blob   []byte
}

// Returns a copy of the compressed blob.
func (l Layer) Blob() []byte { return bytes.Clone(l.blob) }

// The assembled image.
type FinalImage struct {
	Layers         []Layer       // Layers, lowest first.
	Entrypoint     []string      // Entrypoint as declared.
	EntrypointPath string        // Absolute path the entrypoint resolved to.
	Ports          []int         // Exposed ports, sorted and unique.
	ConfigDigest   digest.Digest // Digest of the config blob.
	ManifestDigest digest.Digest // Digest of the manifest blob.
	config         []byte
	manifest       []byte
}

// Returns a copy of the serialized OCI image config.
func (img *FinalImage) Config() []byte { return bytes.Clone(img.config) }

// Returns a copy of the serialized OCI image manifest.
func (img *FinalImage) Manifest() []byte { return bytes.Clone(img.manifest) }

// Returns the total compressed size of all layers.
func (img *FinalImage) Size() int64 {
	var n int64
	for _, l := range img.Layers {
		n += l.Size
	}
	return n
}

// Assembles the final image.
//
// Fails with [ErrInvalidPort] when an exposed port lies outside 1-65535 and
// with [ErrMissingEntrypoint] when the first entrypoint element does not
// resolve to an executable regular file in the merged layers.
func Emit(in Input) (*FinalImage, error) {
	ports, err := normalizePorts(in.Expose)
	if err != nil {
		return nil, err
	}

	platform, err := parsePlatform(in.Platform)
	if err != nil {
		return nil, err
	}

	parsed := make([][]archive.Entry, len(in.Layers))
	for i, data := range in.Layers {
		if parsed[i], err = archive.Parse(data); err != nil {
			return nil, fmt.Errorf("%w: layer %d: %w", ErrImage, i, err)
		}
	}

	if len(in.Entrypoint) == 0 {
		return nil, fmt.Errorf("%w: no entrypoint declared", ErrMissingEntrypoint)
	}

	search := DefaultPath
	if p, ok := in.Env["PATH"]; ok {
		search = p
	}
	resolved, err := merge(parsed).resolveEntrypoint(in.Entrypoint[0], in.Workdir, search)
	if err != nil {
		return nil, err
	}

	img := &FinalImage{
		Entrypoint:     slices.Clone(in.Entrypoint),
		EntrypointPath: resolved,
		Ports:          ports,
	}

	for i, entries := range parsed {
		layer, err := compress(entries)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %d: %w", ErrImage, i, err)
		}
		img.Layers = append(img.Layers, layer)
	}

	if err := img.assemble(in, platform); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImage, err)
	}

	return img, nil
}

// Serializes the config and manifest blobs.
func (img *FinalImage) assemble(in Input, platform ocispec.Platform) error {
	config := ocispec.Image{
		Platform: platform,
		Config: ocispec.ImageConfig{
			Entrypoint:   img.Entrypoint,
			WorkingDir:   in.Workdir,
			Env:          environ(in.Env),
			ExposedPorts: exposed(img.Ports),
			Labels:       maps.Clone(in.Labels),
		},
		RootFS: ocispec.RootFS{Type: "layers"},
	}

	manifest := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
	}

	for _, l := range img.Layers {
		config.RootFS.DiffIDs = append(config.RootFS.DiffIDs, l.DiffID)
		manifest.Layers = append(manifest.Layers, ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageLayerGzip,
			Digest:    l.Digest,
			Size:      l.Size,
		})
	}

	var err error
	var configDesc ocispec.Descriptor
	if img.config, configDesc, err = blob(ocispec.MediaTypeImageConfig, config); err != nil {
		return err
	}
	img.ConfigDigest = configDesc.Digest
	manifest.Config = configDesc

	var manifestDesc ocispec.Descriptor
	if img.manifest, manifestDesc, err = blob(ocispec.MediaTypeImageManifest, manifest); err != nil {
		return err
	}
	img.ManifestDigest = manifestDesc.Digest

	return nil
}

// Serializes a value and returns it with its descriptor.
func blob(mediaType string, v any) ([]byte, ocispec.Descriptor, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, ocispec.Descriptor{}, err
	}
	return b, ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(b),
		Size:      int64(len(b)),
	}, nil
}

// Produces a gzip-compressed layer from normalized entries.
//
// The gzip header carries no name or modification time, so equal entries
// always compress to equal bytes.
func compress(entries []archive.Entry) (Layer, error) {
	raw, err := archive.Bytes(entries)
	if err != nil {
		return Layer{}, err
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return Layer{}, err
	}
	if _, err := zw.Write(raw); err != nil {
		return Layer{}, err
	}
	if err := zw.Close(); err != nil {
		return Layer{}, err
	}

	return Layer{
		Digest: digest.FromBytes(buf.Bytes()),
		DiffID: digest.FromBytes(raw),
		Size:   int64(buf.Len()),
		blob:   buf.Bytes(),
	}, nil
}

// Validates, sorts and deduplicates exposed ports.
func normalizePorts(ports []int) ([]int, error) {
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if p < 1 || p > 65535 {
			return nil, fmt.Errorf("%w: %d is outside 1-65535", ErrInvalidPort, p)
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Parses a platform specifier, defaulting to the host platform.
func parsePlatform(s string) (ocispec.Platform, error) {
	if s == "" {
		return platforms.DefaultSpec(), nil
	}
	p, err := platforms.Parse(s)
	if err != nil {
		return ocispec.Platform{}, fmt.Errorf("%w: %w", ErrImage, err)
	}
	return platforms.Normalize(p), nil
}

// Formats an environment map as sorted "KEY=VALUE" pairs.
func environ(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Formats exposed ports as OCI "port/tcp" keys.
func exposed(ports []int) map[string]struct{} {
	if len(ports) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(ports))
	for _, p := range ports {
		out[strconv.Itoa(p)+"/tcp"] = struct{}{}
	}
	return out
}
