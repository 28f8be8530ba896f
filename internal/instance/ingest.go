// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package instance

import (
	"context"
	"fmt"
	"sort"

	"github.com/jeranaias/parley/internal/ollama"
)

// IngestModel imports local model files through a driver: each file is
// digested, probed on the blob endpoint, uploaded when missing, and only
// then named in the create request by its sha256 reference. A blob is
// never referenced in the create spec before the endpoint holds it.
//
// files maps create-spec file names to local paths. spec.Files is
// overwritten with the computed references.
func IngestModel(ctx context.Context, d Driver, spec ollama.CreateRequest, files map[string]string, fn ollama.ProgressFunc) error {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	refs := make(map[string]string, len(files))
	for _, name := range names {
		path := files[name]
		digest, err := ollama.DigestFile(path)
		if err != nil {
			return fmt.Errorf("digest %s: %w", name, err)
		}
		if !d.GGUFExists(ctx, digest) {
			if fn != nil {
				fn(ollama.Progress{Status: "uploading " + name, Pulse: true})
			}
			if err := d.UploadBlob(ctx, path, digest); err != nil {
				return fmt.Errorf("upload %s: %w", name, err)
			}
		}
		refs[name] = "sha256:" + digest
	}

	spec.Files = refs
	return d.CreateModel(ctx, spec, fn)
}
