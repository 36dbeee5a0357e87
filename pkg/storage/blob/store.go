// Package blob stores version bundles and hands out time-limited download
// URLs for them.
//
// Bundle paths are immutable: Put never overwrites an existing object and
// reports ErrAlreadyExists instead. Two backends are provided, S3 (or any
// S3-compatible service) and the local filesystem.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrAlreadyExists is returned by Put when an object is already stored at the path
var ErrAlreadyExists = errors.New("blob already exists")

// ErrInvalidPath is returned for paths that are empty, absolute or escape the store root
var ErrInvalidPath = errors.New("invalid blob path")

// Store is the object storage collaborator
type Store interface {
	// Put writes data at path and returns the stored location. It fails with
	// ErrAlreadyExists rather than overwrite.
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// SignedURL returns a URL that retrieves the object until ttl elapses
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	HealthCheck(ctx context.Context) error
}

// BundleExtension is the file extension of every stored bundle
const BundleExtension = ".zip"

// BundlePath returns the storage path for a version bundle
func BundlePath(publisherSlug, extensionSlug, version string) string {
	return fmt.Sprintf("%s/%s/%s%s", publisherSlug, extensionSlug, version, BundleExtension)
}

// cleanPath validates a store-relative path
func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned != p || cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}
