package persistence

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/signetlabs/signet/pkg/api"
)

// MemoryBlobStore is a goroutine-safe api.BlobStore backed by a map. It is
// the default blob store when none is configured; production deployments
// plug in object storage instead.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ api.BlobStore = (*MemoryBlobStore)(nil)

// NewMemoryBlobStore creates an empty MemoryBlobStore.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	id := uuid.NewString()

	c := make([]byte, len(data))
	copy(c, data)

	s.mu.Lock()
	s.blobs[id] = c
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryBlobStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[id]
	if !ok {
		return nil, ErrBlobNotFound
	}
	c := make([]byte, len(data))
	copy(c, data)
	return c, nil
}

// Len returns the number of stored blobs. Intended for tests.
func (s *MemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
