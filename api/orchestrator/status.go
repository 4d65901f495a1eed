package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"switchyard/api/metrics"
	"switchyard/api/model"
)

type Status struct {
	App           string                   `json:"app"`
	ActiveSlot    model.SlotID             `json:"activeSlot"`
	UpdatedAt     time.Time                `json:"updatedAt"`
	Slots         []model.Slot             `json:"slots"`
	State         State                    `json:"state"`
	Current       *model.DeploymentAttempt `json:"current,omitempty"`
	LastAttempt   *model.DeploymentAttempt `json:"lastAttempt,omitempty"`
	RouterAddress string                   `json:"routerAddress,omitempty"`
	Warnings      []string                 `json:"warnings,omitempty"`
}

// Status never waits for a running deploy. A registry failure is
// returned; audit and router read failures become warnings.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	st, err := o.registry.State(ctx)
	if err != nil {
		return nil, err
	}

	s := &Status{
		App:        o.app,
		ActiveSlot: st.Active.ActiveSlot,
		UpdatedAt:  st.Active.UpdatedAt,
	}
	for _, id := range model.Slots {
		s.Slots = append(s.Slots, *st.Slots[id])
	}

	o.mu.RLock()
	s.State = o.state
	if o.current != nil {
		cur := *o.current
		s.Current = &cur
	}
	o.mu.RUnlock()

	last, err := o.audit.Last(ctx)
	if err != nil {
		s.Warnings = append(s.Warnings, fmt.Sprintf("read audit log: %v", err))
	}
	s.LastAttempt = last

	addr, err := o.router.Current(ctx)
	if err != nil {
		s.Warnings = append(s.Warnings, fmt.Sprintf("read router: %v", err))
	}
	s.RouterAddress = addr
	return s, nil
}

// History returns up to limit attempts, newest first.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]model.DeploymentAttempt, error) {
	return o.audit.List(ctx, limit)
}

// Reconcile points the router at the registry's active slot. The registry
// is the source of truth after a crash between switch and commit.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	o.guard.Lock()
	defer o.guard.Unlock()

	st, err := o.registry.State(ctx)
	if err != nil {
		return err
	}
	active := st.Slots[st.Active.ActiveSlot]
	metrics.SetActive(o.app, active.ID)

	cur, err := o.router.Current(ctx)
	if err != nil {
		log.Printf("WARNING: orchestrator: %s: read router: %v", o.app, err)
	}
	if cur == active.Address {
		return nil
	}
	log.Printf("orchestrator: %s: router points at %q, registry says slot %s (%s); switching",
		o.app, cur, active.ID, active.Address)
	return o.router.Switch(ctx, active.ID, active.Address)
}
