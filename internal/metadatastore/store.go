// Package metadatastore is the JSON-encoded sidecar blob with an
// optional in-memory cache and atomic full-overwrite replace (§4.3
// component D). It is the only place a resource's metadata document is
// read from or written to storage.
package metadatastore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dpaw/resource-tracking/internal/blobstore"
	"github.com/dpaw/resource-tracking/internal/logging"
)

// Store layers JSON document semantics over a single blob.
type Store struct {
	blob  blobstore.Blob
	cache bool

	mu     sync.RWMutex
	cached json.RawMessage
	have   bool
}

// New returns a Store over blob. When cache is true the last-read
// document is memoized and refreshed by every Update call.
func New(blob blobstore.Blob, cache bool) *Store {
	return &Store{blob: blob, cache: cache}
}

// JSON returns the document's raw JSON bytes, or nil if the blob is
// absent; Decode unmarshals them.
func (s *Store) JSON(ctx context.Context) (json.RawMessage, error) {
	if s.cache {
		s.mu.RLock()
		if s.have {
			defer s.mu.RUnlock()
			return s.cached, nil
		}
		s.mu.RUnlock()
	}

	exists, err := s.blob.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking metadata existence: %w", err)
	}
	if !exists {
		if s.cache {
			s.mu.Lock()
			s.cached, s.have = nil, true
			s.mu.Unlock()
		}
		return nil, nil
	}

	data, err := s.blob.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading metadata document: %w", err)
	}

	if s.cache {
		s.mu.Lock()
		s.cached, s.have = data, true
		s.mu.Unlock()
	}
	return data, nil
}

// Decode reads the document and unmarshals it into v. When the document
// is absent, v is left untouched and ok is false.
func (s *Store) Decode(ctx context.Context, v any) (ok bool, err error) {
	raw, err := s.JSON(ctx)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decoding metadata document: %w", err)
	}
	return true, nil
}

// Update encodes v and atomically replaces the document via a single
// overwrite, refreshing the cache on success.
func (s *Store) Update(ctx context.Context, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata document: %w", err)
	}
	if err := s.blob.Update(ctx, data); err != nil {
		return fmt.Errorf("writing metadata document: %w", err)
	}

	if s.cache {
		s.mu.Lock()
		s.cached, s.have = data, true
		s.mu.Unlock()
	}
	logging.Named(logging.LoggerStorage).Debugf("updated metadata document %s", s.blob.Path())
	return nil
}

// Delete removes the document entirely (used when a group is fully deleted).
func (s *Store) Delete(ctx context.Context) error {
	if err := s.blob.Delete(ctx); err != nil {
		return err
	}
	if s.cache {
		s.mu.Lock()
		s.cached, s.have = nil, true
		s.mu.Unlock()
	}
	return nil
}
