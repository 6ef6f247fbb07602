package registry

import (
	"context"
	"sync"

	"github.com/stebofarm/gateway/internal/model"
	"github.com/stebofarm/gateway/internal/repository"
)

// MemoryStore is a Store backed by two maps. Name and key digest are both
// unique, mirroring the database constraints.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]*model.Frontend
	names  map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*model.Frontend),
		names:  make(map[string]struct{}),
	}
}

// CreateFrontend stores a copy of f.
func (s *MemoryStore) CreateFrontend(_ context.Context, f *model.Frontend) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.names[f.Name]; ok {
		return repository.ErrFrontendNameExists
	}
	if _, ok := s.byHash[f.KeyHash]; ok {
		return repository.ErrFrontendKeyExists
	}

	stored := *f
	stored.UniqueKey = ""
	s.byHash[f.KeyHash] = &stored
	s.names[f.Name] = struct{}{}
	return nil
}

// GetFrontendByKeyHash returns a copy of the frontend stored under keyHash.
func (s *MemoryStore) GetFrontendByKeyHash(_ context.Context, keyHash string) (*model.Frontend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.byHash[keyHash]
	if !ok {
		return nil, repository.ErrFrontendNotFound
	}
	out := *f
	return &out, nil
}

// Ping always succeeds; it lets the store stand in for the database in
// readiness checks.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored frontends.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHash)
}
