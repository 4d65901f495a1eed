// Package registry tracks the two deployment slots and which one is active.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"switchyard/api/model"
)

// Backend persists the whole registry document. Save must be durable
// before it returns. Load returns model.ErrNotFound when nothing has been
// saved yet.
type Backend interface {
	Load(ctx context.Context) (*model.RegistryState, error)
	Save(ctx context.Context, st *model.RegistryState) error
}

// Registry is the only writer of the active slot. Writes are serialized
// here even though the orchestrator already holds its own guard.
type Registry struct {
	mu      sync.RWMutex
	backend Backend
	now     func() time.Time
}

func New(b Backend) *Registry {
	return &Registry{backend: b, now: time.Now}
}

// Other returns the slot that is not s.
func Other(s model.SlotID) model.SlotID {
	return s.Other()
}

// Bootstrap creates the registry document on first run. On later runs it
// refreshes slot addresses from the site and leaves the active slot alone.
func (r *Registry) Bootstrap(ctx context.Context, addresses map[model.SlotID]string, initial model.SlotID) (*model.RegistryState, error) {
	if !initial.Valid() {
		return nil, fmt.Errorf("%w: initial slot %q", model.ErrInvalidConfig, initial)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.backend.Load(ctx)
	switch {
	case errors.Is(err, model.ErrNotFound):
		st = model.NewRegistryState(initial, addresses, r.now())
	case err != nil:
		return nil, storageErr("load", err)
	default:
		if err := st.Check(); err != nil {
			return nil, storageErr("check", err)
		}
		changed := false
		for id, addr := range addresses {
			if s := st.Slots[id]; s != nil && s.Address != addr {
				s.Address = addr
				changed = true
			}
		}
		if !changed {
			return st.Clone(), nil
		}
	}

	if err := r.backend.Save(ctx, st); err != nil {
		return nil, storageErr("save", err)
	}
	return st.Clone(), nil
}

// State returns a copy of the persisted document.
func (r *Registry) State(ctx context.Context) (*model.RegistryState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.load(ctx)
}

func (r *Registry) GetActive(ctx context.Context) (model.SlotID, error) {
	st, err := r.State(ctx)
	if err != nil {
		return "", err
	}
	return st.Active.ActiveSlot, nil
}

// Slot returns one slot record.
func (r *Registry) Slot(ctx context.Context, id model.SlotID) (model.Slot, error) {
	st, err := r.State(ctx)
	if err != nil {
		return model.Slot{}, err
	}
	s, ok := st.Slots[id]
	if !ok {
		return model.Slot{}, fmt.Errorf("%w: slot %q", model.ErrInvalidConfig, id)
	}
	return *s, nil
}

// SetActive persists slot as active. It returns only after the backend
// has made the write durable.
func (r *Registry) SetActive(ctx context.Context, slot model.SlotID) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: slot %q", model.ErrInvalidConfig, slot)
	}
	return r.update(ctx, func(st *model.RegistryState) {
		st.Active = model.ActiveState{ActiveSlot: slot, UpdatedAt: r.now()}
	})
}

// MarkHealthy records the last time slot passed a health probe.
func (r *Registry) MarkHealthy(ctx context.Context, slot model.SlotID, at time.Time) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: slot %q", model.ErrInvalidConfig, slot)
	}
	return r.update(ctx, func(st *model.RegistryState) {
		t := at
		st.Slots[slot].LastKnownHealthy = &t
	})
}

// RecordVersion stores the version last provisioned onto slot.
func (r *Registry) RecordVersion(ctx context.Context, slot model.SlotID, version string) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: slot %q", model.ErrInvalidConfig, slot)
	}
	return r.update(ctx, func(st *model.RegistryState) {
		st.Slots[slot].LastDeployedVersion = version
	})
}

func (r *Registry) update(ctx context.Context, fn func(st *model.RegistryState)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.load(ctx)
	if err != nil {
		return err
	}
	fn(st)
	if err := r.backend.Save(ctx, st); err != nil {
		return storageErr("save", err)
	}
	return nil
}

func (r *Registry) load(ctx context.Context) (*model.RegistryState, error) {
	st, err := r.backend.Load(ctx)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: registry not bootstrapped", model.ErrStorageUnavailable)
	}
	if err != nil {
		return nil, storageErr("load", err)
	}
	if err := st.Check(); err != nil {
		return nil, storageErr("check", err)
	}
	return st.Clone(), nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: registry %s: %v", model.ErrStorageUnavailable, op, err)
}
