package audit

import (
	"context"
	"sync"

	"switchyard/api/model"
)

// MemoryStore keeps attempts in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	attempts []model.DeploymentAttempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, a *model.DeploymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]model.DeploymentAttempt, error) {
	s.mu.Lock()
	// Reverse insertion order so equal start times list newest first.
	out := make([]model.DeploymentAttempt, 0, len(s.attempts))
	for i := len(s.attempts) - 1; i >= 0; i-- {
		out = append(out, s.attempts[i])
	}
	s.mu.Unlock()
	return newestFirst(out, limit), nil
}
