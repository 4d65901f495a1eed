package registry

import (
	"context"
	"sync"

	"switchyard/api/model"
)

// MemoryBackend keeps the document in process memory. It does not survive
// a restart and is meant for tests and dry runs.
type MemoryBackend struct {
	mu sync.Mutex
	st *model.RegistryState
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Load(_ context.Context) (*model.RegistryState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st == nil {
		return nil, model.ErrNotFound
	}
	return m.st.Clone(), nil
}

func (m *MemoryBackend) Save(_ context.Context, st *model.RegistryState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = st.Clone()
	return nil
}
