// Package registrytest provides contract tests for [registry.Backend]
// implementations.
package registrytest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"switchyard/api/model"
	"switchyard/api/registry"
)

// Factory creates a fresh, empty [registry.Backend] for each test.
type Factory func(t *testing.T) registry.Backend

var addresses = map[model.SlotID]string{
	model.SlotA: "127.0.0.1:8081",
	model.SlotB: "127.0.0.1:8082",
}

// Run exercises the [registry.Backend] contract, directly and through a
// [registry.Registry].
func Run(t *testing.T, factory Factory) {
	t.Run("LoadEmpty", func(t *testing.T) {
		b := factory(t)
		_, err := b.Load(context.Background())
		if !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("Load: got %v, want ErrNotFound", err)
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)
		st := model.NewRegistryState(model.SlotB, addresses, now)
		st.Slots[model.SlotA].LastDeployedVersion = "v1"
		st.Slots[model.SlotB].LastKnownHealthy = &now

		if err := b.Save(ctx, st); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := b.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Active.ActiveSlot != model.SlotB {
			t.Errorf("ActiveSlot = %s, want B", got.Active.ActiveSlot)
		}
		if !got.Active.UpdatedAt.Equal(now) {
			t.Errorf("UpdatedAt = %v, want %v", got.Active.UpdatedAt, now)
		}
		if got.Slots[model.SlotA].LastDeployedVersion != "v1" {
			t.Errorf("A version = %q", got.Slots[model.SlotA].LastDeployedVersion)
		}
		if got.Slots[model.SlotB].LastKnownHealthy == nil || !got.Slots[model.SlotB].LastKnownHealthy.Equal(now) {
			t.Errorf("B lastKnownHealthy = %v", got.Slots[model.SlotB].LastKnownHealthy)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		if err := b.Save(ctx, model.NewRegistryState(model.SlotA, addresses, time.Now())); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := b.Save(ctx, model.NewRegistryState(model.SlotB, addresses, time.Now())); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := b.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Active.ActiveSlot != model.SlotB {
			t.Errorf("ActiveSlot = %s, want B", got.Active.ActiveSlot)
		}
	})

	t.Run("BootstrapKeepsActive", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		reg := registry.New(b)
		if _, err := reg.Bootstrap(ctx, addresses, model.SlotA); err != nil {
			t.Fatalf("Bootstrap: %v", err)
		}
		if err := reg.SetActive(ctx, model.SlotB); err != nil {
			t.Fatalf("SetActive: %v", err)
		}

		moved := map[model.SlotID]string{model.SlotA: "10.0.0.1:80", model.SlotB: "10.0.0.2:80"}
		st, err := registry.New(b).Bootstrap(ctx, moved, model.SlotA)
		if err != nil {
			t.Fatalf("second Bootstrap: %v", err)
		}
		if st.Active.ActiveSlot != model.SlotB {
			t.Errorf("ActiveSlot = %s, want B after restart", st.Active.ActiveSlot)
		}
		if st.Slots[model.SlotA].Address != "10.0.0.1:80" {
			t.Errorf("A address = %q, want refreshed", st.Slots[model.SlotA].Address)
		}
	})

	t.Run("GetActiveBeforeBootstrap", func(t *testing.T) {
		reg := registry.New(factory(t))
		_, err := reg.GetActive(context.Background())
		if !errors.Is(err, model.ErrStorageUnavailable) {
			t.Fatalf("GetActive: got %v, want ErrStorageUnavailable", err)
		}
	})

	t.Run("SlotRecords", func(t *testing.T) {
		reg := registry.New(factory(t))
		ctx := context.Background()
		if _, err := reg.Bootstrap(ctx, addresses, model.SlotA); err != nil {
			t.Fatalf("Bootstrap: %v", err)
		}
		at := time.Now().UTC().Truncate(time.Millisecond)
		if err := reg.MarkHealthy(ctx, model.SlotB, at); err != nil {
			t.Fatalf("MarkHealthy: %v", err)
		}
		if err := reg.RecordVersion(ctx, model.SlotB, "2024.06.1"); err != nil {
			t.Fatalf("RecordVersion: %v", err)
		}
		s, err := reg.Slot(ctx, model.SlotB)
		if err != nil {
			t.Fatalf("Slot: %v", err)
		}
		if s.LastDeployedVersion != "2024.06.1" {
			t.Errorf("version = %q", s.LastDeployedVersion)
		}
		if s.LastKnownHealthy == nil || !s.LastKnownHealthy.Equal(at) {
			t.Errorf("lastKnownHealthy = %v, want %v", s.LastKnownHealthy, at)
		}
		active, err := reg.GetActive(ctx)
		if err != nil {
			t.Fatalf("GetActive: %v", err)
		}
		if active != model.SlotA {
			t.Errorf("slot updates changed active slot to %s", active)
		}
	})

	t.Run("ConcurrentSetActive", func(t *testing.T) {
		reg := registry.New(factory(t))
		ctx := context.Background()
		if _, err := reg.Bootstrap(ctx, addresses, model.SlotA); err != nil {
			t.Fatalf("Bootstrap: %v", err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			slot := model.Slots[i%2]
			go func() {
				defer wg.Done()
				if err := reg.SetActive(ctx, slot); err != nil {
					t.Errorf("SetActive: %v", err)
				}
			}()
			go func() {
				defer wg.Done()
				active, err := reg.GetActive(ctx)
				if err != nil {
					t.Errorf("GetActive: %v", err)
					return
				}
				if !active.Valid() {
					t.Errorf("observed invalid active slot %q", active)
				}
			}()
		}
		wg.Wait()

		st, err := reg.State(ctx)
		if err != nil {
			t.Fatalf("State: %v", err)
		}
		if err := st.Check(); err != nil {
			t.Errorf("final state: %v", err)
		}
	})

	t.Run("SetActiveRejectsUnknownSlot", func(t *testing.T) {
		reg := registry.New(factory(t))
		err := reg.SetActive(context.Background(), "C")
		if !errors.Is(err, model.ErrInvalidConfig) {
			t.Fatalf("SetActive(C): got %v, want ErrInvalidConfig", err)
		}
	})
}
