package build

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ReadLayout returns the root descriptor of a single-image OCI layout as
// written by `buildx --output type=oci,tar=false`. For multi-platform builds
// the root is an image index.
func ReadLayout(dir string) (ocispec.Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, ocispec.ImageIndexFile))
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("reading OCI layout: %w", err)
	}

	var idx ocispec.Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("parsing %s: %w", ocispec.ImageIndexFile, err)
	}
	if len(idx.Manifests) != 1 {
		return ocispec.Descriptor{}, fmt.Errorf("OCI layout holds %d images, want exactly 1", len(idx.Manifests))
	}

	desc := idx.Manifests[0]
	if err := desc.Digest.Validate(); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("OCI layout root digest: %w", err)
	}

	blob := filepath.Join(dir, ocispec.ImageBlobsDir, desc.Digest.Algorithm().String(), desc.Digest.Encoded())
	if _, err := os.Stat(blob); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("OCI layout root blob missing: %w", err)
	}
	return desc, nil
}
