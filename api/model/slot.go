package model

import (
	"fmt"
	"strings"
	"time"
)

// SlotID names one of the two permanent deployment slots.
type SlotID string

const (
	SlotA SlotID = "A"
	SlotB SlotID = "B"
)

// Slots lists both slot identities in a stable order.
var Slots = []SlotID{SlotA, SlotB}

func (s SlotID) Valid() bool { return s == SlotA || s == SlotB }

// Other returns the opposite slot. Anything that is not A maps to A.
func (s SlotID) Other() SlotID {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// Color returns the historical blue/green name of the slot.
func (s SlotID) Color() string {
	if s == SlotA {
		return "blue"
	}
	return "green"
}

// ParseSlot accepts A/B as well as blue/green, case-insensitively.
func ParseSlot(raw string) (SlotID, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "a", "blue":
		return SlotA, nil
	case "b", "green":
		return SlotB, nil
	}
	return "", fmt.Errorf("unknown slot %q (want A or B)", raw)
}

type Slot struct {
	ID                  SlotID     `json:"id"`
	Address             string     `json:"address"`
	LastKnownHealthy    *time.Time `json:"lastKnownHealthy,omitempty"`
	LastDeployedVersion string     `json:"lastDeployedVersion,omitempty"`
}

type ActiveState struct {
	ActiveSlot SlotID    `json:"activeSlot"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// RegistryState is the single persisted registry document. Keeping the
// active slot as one field of one document means a reader can never see
// zero or two active slots.
type RegistryState struct {
	Active ActiveState      `json:"active"`
	Slots  map[SlotID]*Slot `json:"slots"`
}

// NewRegistryState builds a fresh document with both slots present.
func NewRegistryState(active SlotID, addresses map[SlotID]string, now time.Time) *RegistryState {
	st := &RegistryState{
		Active: ActiveState{ActiveSlot: active, UpdatedAt: now},
		Slots:  make(map[SlotID]*Slot, 2),
	}
	for _, id := range Slots {
		st.Slots[id] = &Slot{ID: id, Address: addresses[id]}
	}
	return st
}

// Clone returns a deep copy so callers cannot mutate cached state.
func (st *RegistryState) Clone() *RegistryState {
	out := &RegistryState{Active: st.Active, Slots: make(map[SlotID]*Slot, len(st.Slots))}
	for id, s := range st.Slots {
		cp := *s
		if s.LastKnownHealthy != nil {
			t := *s.LastKnownHealthy
			cp.LastKnownHealthy = &t
		}
		out.Slots[id] = &cp
	}
	return out
}

// Check reports whether the document satisfies the registry invariants.
func (st *RegistryState) Check() error {
	if !st.Active.ActiveSlot.Valid() {
		return fmt.Errorf("active slot %q is not A or B", st.Active.ActiveSlot)
	}
	for _, id := range Slots {
		if st.Slots[id] == nil {
			return fmt.Errorf("slot %s missing", id)
		}
	}
	if len(st.Slots) != len(Slots) {
		return fmt.Errorf("registry holds %d slots, want %d", len(st.Slots), len(Slots))
	}
	return nil
}
