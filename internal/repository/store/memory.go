package store

import (
	"context"
	"sync"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
)

// MemoryStore keeps submissions in process. It is used for single node runs
// and in tests.
type MemoryStore struct {
	mu          sync.Mutex
	submissions map[string]*models.Submission
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: make(map[string]*models.Submission),
		now:         time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[sub.Id]; ok {
		return errors.Wrap(ErrExists, sub.Id)
	}
	cp := clone(sub)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.submissions[sub.Id] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	return clone(sub), nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, status models.Status, m *models.Metrics) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return false, errors.Wrap(ErrNotFound, id)
	}
	return applyTransition(sub, status, m, s.now())
}

func (s *MemoryStore) Reset(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return false, errors.Wrap(ErrNotFound, id)
	}
	return applyReset(sub, s.now())
}
