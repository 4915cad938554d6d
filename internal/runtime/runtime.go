package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"
	"strings"
	"sync"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/moby/locker"
)

const (

	// Default containerd socket address.
	DefaultAddress = "/run/containerd/containerd.sock"

	// Default containerd namespace for images and containers.
	DefaultNamespace = "cruxbuild"

	// Snapshotter used for container filesystems. fuse-overlayfs provides
	// overlay semantics without requiring root privileges (no mount(2)),
	// allowing builds to run as a regular user.
	snapshotter = "fuse-overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"
)

// Manages the containerd client and provides image and container operations.
//
// Safe for concurrent use. Bases are prepared once per runtime; concurrent
// stages sharing a base wait for the same import.
type Runtime struct {
	client   *containerd.Client // Containerd client for managing containers and images.
	platform string             // OCI platform containers are created for.
	locks    *locker.Locker     // Per-base locks serializing image preparation.
	prepared sync.Map           // Base reference to prepared image tag.
}

// Creates a runtime connected to the containerd socket at the given address.
//
// The namespace scopes all containerd operations to a single tenant. The
// runtime must be closed when no longer needed.
func New(address, namespace string) (*Runtime, error) {
	if address == "" {
		address = DefaultAddress
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return &Runtime{
		client:   client,
		platform: defaultPlatform(),
		locks:    locker.New(),
	}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Makes a base reference usable for new containers and returns its tag.
//
// References ending in ".tar" are imported as OCI archives and tagged with a
// name derived from the archive path. Any other reference must name an image
// already present in the namespace. Either way the image is unpacked for the
// runtime's platform.
func (rt *Runtime) Prepare(ctx context.Context, base string) (string, error) {
	if tag, ok := rt.prepared.Load(base); ok {
		return tag.(string), nil
	}

	rt.locks.Lock(base)
	defer rt.locks.Unlock(base)

	if tag, ok := rt.prepared.Load(base); ok {
		return tag.(string), nil
	}

	tag := base
	if isArchive(base) {
		tag = imageTag(base)

		source, err := rt.importArchive(ctx, base)
		if err != nil {
			return "", fmt.Errorf("%w: importing %s: %w", ErrRuntime, base, err)
		}
		if err := rt.tagImage(ctx, source, tag); err != nil {
			return "", fmt.Errorf("%w: %w", ErrRuntime, err)
		}
	}

	if err := rt.unpackImage(ctx, tag); err != nil {
		return "", fmt.Errorf("%w: unpacking %s: %w", ErrRuntime, base, err)
	}

	slog.Debug("base prepared", "base", base, "tag", tag)

	rt.prepared.Store(base, tag)
	return tag, nil
}

// Imports an OCI archive into the content store.
//
// The archive must contain exactly one image. Multi-platform archives
// are supported (single OCI index with per-platform manifests).
func (rt *Runtime) importArchive(ctx context.Context, path string) (images.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return images.Image{}, err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh)
	if err != nil {
		return images.Image{}, err
	}

	// One record per image in index.json. A multi-platform archive has a
	// single entry; platform selection happens in resolveImage.
	if len(imported) == 0 {
		return images.Image{}, ErrEmptyArchive
	} else if len(imported) > 1 {
		return images.Image{}, ErrMultipleImages
	}

	return imported[0], nil
}

// Tags an imported image under a deterministic name.
//
// Updates the tag if it already exists. Removes the source record when
// its name differs from the tag to avoid duplicates.
func (rt *Runtime) tagImage(ctx context.Context, source images.Image, tag string) error {
	is := rt.client.ImageService()

	img := images.Image{
		Name:   tag,
		Target: source.Target,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}

	if source.Name != tag {
		_ = is.Delete(ctx, source.Name)
	}

	return nil
}

// Unpacks the image layers for the runtime's platform into the snapshotter.
func (rt *Runtime) unpackImage(ctx context.Context, tag string) error {
	image, err := rt.resolveImage(ctx, tag)
	if err != nil {
		return err
	}

	return image.Unpack(ctx, snapshotter)
}

// Looks up a tagged image and selects the manifest for the runtime's
// platform.
func (rt *Runtime) resolveImage(ctx context.Context, tag string) (containerd.Image, error) {
	p, err := platforms.Parse(rt.platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, tag)
	if err != nil {
		return nil, err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)), nil
}

// Whether a base reference names an OCI archive on the host.
func isArchive(base string) bool {
	return strings.HasSuffix(base, ".tar")
}

// Produces a containerd image tag from an archive path.
//
// The path is hashed to produce a tag that is always valid for OCI references
// regardless of which characters the path contains.
func imageTag(path string) string {
	h := sha256.Sum256([]byte(path))
	return fmt.Sprintf("import/%s:latest", hex.EncodeToString(h[:]))
}

// Returns the default OCI platform for the host architecture.
func defaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}
