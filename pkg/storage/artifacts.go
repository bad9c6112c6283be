// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmengine.
//
// go-tpmengine is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Artifact names within an object directory
const (
	// ArtifactContext is the saved context blob of a parent object
	ArtifactContext = "context"

	// ArtifactPublic is the TPM2B_PUBLIC blob of an object
	ArtifactPublic = "public"

	// ArtifactPrivate is the TPM2B_PRIVATE blob of an object
	ArtifactPrivate = "private"

	// ArtifactName is the TPM2B_NAME blob written after a successful load
	ArtifactName = "name"
)

// ArtifactKey resolves the storage key of artifact name inside directory
// dir for a backend rooted at root. Relative directories are resolved
// against root; absolute directories must lie beneath it.
func ArtifactKey(root, dir, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("%w: empty directory", ErrInvalidKey)
	}
	if name == "" || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("%w: invalid artifact name %q", ErrInvalidKey, name)
	}
	if root == "" {
		root = string(filepath.Separator)
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(dir))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrInvalidKey, dir, root)
	}
	return filepath.ToSlash(filepath.Join(rel, name)), nil
}

// IsSecretArtifact reports whether the artifact must be written with
// owner-only permissions
func IsSecretArtifact(key string) bool {
	base := filepath.Base(key)
	return base == ArtifactPrivate || base == ArtifactContext
}
