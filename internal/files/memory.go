package files

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStorage is an in process Storage for tests and local runs.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (s *MemoryStorage) GetFile(_ context.Context, filename string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[filename]
	if !ok {
		return nil, errors.Wrap(ErrNotExist, filename)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStorage) PutFile(_ context.Context, filename string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[filename] = append([]byte(nil), data...)
	return nil
}
