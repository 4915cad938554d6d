package image

import (
	"archive/tar"
	"encoding/json"
	"io"

	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cruciblehq/cruxbuild/internal/archive"
)

// Annotation containerd reads the image name from on import.
const containerdImageName = "io.containerd.image.name"

// Writes the image as an OCI image-layout tar archive.
//
// The archive holds the oci-layout marker, an index.json referencing the
// manifest and every blob under blobs/sha256. A non-empty tag is recorded as
// the reference name of the manifest. The output is deterministic.
func (img *FinalImage) WriteArchive(w io.Writer, tag string) error {
	layout, err := json.Marshal(ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion})
	if err != nil {
		return err
	}

	desc := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageManifest,
		Digest:    img.ManifestDigest,
		Size:      int64(len(img.manifest)),
	}
	if tag != "" {
		desc.Annotations = map[string]string{
			ocispec.AnnotationRefName: tag,
			containerdImageName:       tag,
		}
	}

	index, err := json.Marshal(ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{desc},
	})
	if err != nil {
		return err
	}

	entries := []archive.Entry{
		file(ocispec.ImageLayoutFile, layout),
		file(ocispec.ImageIndexFile, index),
		{Name: ocispec.ImageBlobsDir, Type: tar.TypeDir, Mode: 0755},
		{Name: ocispec.ImageBlobsDir + "/sha256", Type: tar.TypeDir, Mode: 0755},
		blobFile(img.ConfigDigest.Encoded(), img.config),
		blobFile(img.ManifestDigest.Encoded(), img.manifest),
	}
	for _, l := range img.Layers {
		entries = append(entries, blobFile(l.Digest.Encoded(), l.blob))
	}

	return archive.Write(w, entries)
}

func file(name string, data []byte) archive.Entry {
	return archive.Entry{Name: name, Type: tar.TypeReg, Mode: 0644, Data: data}
}

func blobFile(encoded string, data []byte) archive.Entry {
	return file(ocispec.ImageBlobsDir+"/sha256/"+encoded, data)
}
