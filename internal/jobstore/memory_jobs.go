package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a goroutine-safe Store backed by a map. Non-durable; jobs
// are lost on process exit.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

func (s *MemoryStore) Upsert(ctx context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	s.jobs[j.Key] = j
	return nil
}

func (s *MemoryStore) Cancel(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, key)
	return nil
}

func (s *MemoryStore) Due(ctx context.Context, now time.Time) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []Job
	for _, j := range s.jobs {
		if !j.NextRun.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NextRun.Before(due[k].NextRun) })
	return due, nil
}

func (s *MemoryStore) Reschedule(ctx context.Context, key string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[key]
	if !ok {
		return ErrJobNotFound
	}
	j.NextRun = next
	s.jobs[key] = j
	return nil
}

func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs), nil
}
