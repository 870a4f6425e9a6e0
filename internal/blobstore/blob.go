// Package blobstore is the single-blob read/write/delete primitive (§4.3
// component C). It mirrors storage/azure_blob.py's AzureBlob: a thin
// wrapper that knows how to download, overwrite, and delete exactly one
// blob path inside one container. Everything about grouping, metadata,
// and history lives one layer up in internal/resource.
package blobstore

import "context"

// Blob is one addressable object inside a container.
type Blob interface {
	// Path returns the blob's path within its container.
	Path() string
	// Exists reports whether the blob currently has content.
	Exists(ctx context.Context) (bool, error)
	// Read returns the blob's full content.
	Read(ctx context.Context) ([]byte, error)
	// Download streams the blob to localPath. If overwrite is false and
	// localPath already exists, it refuses to clobber it.
	Download(ctx context.Context, localPath string, overwrite bool) error
	// Update replaces the blob's content. A nil data deletes it,
	// matching storage/azure_blob.py's AzureBlob.update(None).
	Update(ctx context.Context, data []byte) error
	// Delete removes the blob.
	Delete(ctx context.Context) error
}

// Client opens Blob handles within one container.
type Client interface {
	// Blob returns a handle for path; it does not itself touch the network.
	Blob(path string) Blob
	// List returns every blob path with the given prefix, used only for
	// maintenance tooling — resource discovery must never use this (§3.3.4).
	List(ctx context.Context, prefix string) ([]string, error)
}
