// Package image assembles the final OCI image of a build.
//
// [Emit] takes the filesystem layers of the terminal stage (its snapshot,
// followed by one layer per imported artifact) together with the image
// metadata, validates the entrypoint against the merged filesystem and the
// exposed ports, and produces the OCI config, manifest and compressed layer
// blobs. Emission is a pure function of its input: layers are normalized
// tar streams, compression is deterministic and no timestamps are recorded,
// so identical inputs always produce the same digests.
//
// A [FinalImage] can be written as an OCI image-layout tar archive with
// [FinalImage.WriteArchive], which container runtimes import directly.
//
// Example usage:
//
//	img, err := image.Emit(image.Input{
//	    Layers:     [][]byte{snapshot, distLayer},
//	    Workdir:    "/app",
//	    Entrypoint: []string{"serve"},
//	    Expose:     []int{80},
//	})
//	if err != nil {
//	    return err
//	}
//	err = img.WriteArchive(f, "registry.local/app:latest")
package image
