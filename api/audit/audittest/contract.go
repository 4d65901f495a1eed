// Package audittest provides contract tests for [audit.Store] implementations.
package audittest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"switchyard/api/audit"
	"switchyard/api/model"
)

// Factory creates a fresh, empty [audit.Store] for each test.
type Factory func(t *testing.T) audit.Store

// Attempt builds a finished attempt that started at start.
func Attempt(id string, start time.Time, outcome model.Outcome) *model.DeploymentAttempt {
	return &model.DeploymentAttempt{
		ID:         id,
		App:        "shop",
		Version:    "v-" + id,
		FromSlot:   model.SlotA,
		TargetSlot: model.SlotB,
		Outcome:    outcome,
		Reason:     string(outcome),
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	}
}

// Run exercises the [audit.Store] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("ListEmpty", func(t *testing.T) {
		s := factory(t)
		got, err := s.List(context.Background(), 10)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("got %d attempts, want 0", len(got))
		}
	})

	t.Run("AppendAndList", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		// Appended out of order on purpose.
		for _, i := range []int{1, 0, 2} {
			a := Attempt(fmt.Sprintf("a%d", i), base.Add(time.Duration(i)*time.Minute), model.OutcomeSuccess)
			if err := s.Append(ctx, a); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}

		got, err := s.List(ctx, 10)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d attempts, want 3", len(got))
		}
		want := []string{"a2", "a1", "a0"}
		for i, id := range want {
			if got[i].ID != id {
				t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, id)
			}
		}
		if got[0].TargetSlot != model.SlotB || got[0].Version != "v-a2" {
			t.Errorf("fields not preserved: %+v", got[0])
		}
		if !got[0].StartedAt.Equal(base.Add(2 * time.Minute)) {
			t.Errorf("StartedAt = %v", got[0].StartedAt)
		}
	})

	t.Run("ListLimit", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			if err := s.Append(ctx, Attempt(fmt.Sprintf("l%d", i), base.Add(time.Duration(i)*time.Second), model.OutcomeHealthCheckFailed)); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		got, err := s.List(ctx, 2)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d attempts, want 2", len(got))
		}
		if got[0].ID != "l4" || got[1].ID != "l3" {
			t.Errorf("got %s, %s; want l4, l3", got[0].ID, got[1].ID)
		}
	})
}
