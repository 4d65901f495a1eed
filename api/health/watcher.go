package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"switchyard/api/hub"
	"switchyard/api/metrics"
	"switchyard/api/model"
	"switchyard/api/registry"
)

// Watcher probes both slots on a cron schedule and records the last time
// each one answered healthy. It never touches the router.
type Watcher struct {
	App      string
	Registry *registry.Registry
	Prober   *Prober
	WS       *hub.Hub
	Policy   Policy
	Schedule string
}

// SlotStatus is the result of one background check.
type SlotStatus struct {
	Slot    model.SlotID `json:"slot"`
	Address string       `json:"address"`
	Verdict Verdict      `json:"verdict"`
	Error   string       `json:"error,omitempty"`
}

// Run starts the schedule. It blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	schedule := w.Schedule
	if schedule == "" {
		schedule = model.DefaultWatchSchedule
	}

	c := cron.New()
	var mu sync.Mutex
	if _, err := c.AddFunc(schedule, func() {
		if !mu.TryLock() {
			return // previous sweep still running
		}
		defer mu.Unlock()
		w.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("%w: watch schedule %q: %v", model.ErrInvalidConfig, schedule, err)
	}

	// Run once immediately on start
	w.Sweep(ctx)

	c.Start()
	log.Printf("health: watching %s on %q", w.App, schedule)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Sweep probes both slots concurrently with a single attempt each.
func (w *Watcher) Sweep(ctx context.Context) []SlotStatus {
	st, err := w.Registry.State(ctx)
	if err != nil {
		log.Printf("health: registry unavailable: %v", err)
		return nil
	}

	p := w.Policy
	p.MaxAttempts = 1
	if p.Timeout <= 0 {
		p.Timeout = model.DefaultProbeTimeout
	}

	results := make([]SlotStatus, len(model.Slots))
	// A plain Group: one slot failing to record must not cancel the
	// other slot's probe.
	var g errgroup.Group
	for i, id := range model.Slots {
		slot := st.Slots[id]
		sp := p
		sp.OnAttempt = func(_ int, err error) { metrics.ObserveProbe(w.App, id, err) }
		g.Go(func() error {
			verdict, rep, err := w.Prober.Probe(ctx, slot.Address, sp)
			res := SlotStatus{Slot: id, Address: slot.Address, Verdict: verdict, Error: rep.LastError}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res

			healthy := verdict == Healthy
			metrics.SetSlotHealthy(w.App, id, healthy)
			if !healthy {
				log.Printf("health: slot %s (%s) unhealthy: %s", id, slot.Address, res.Error)
				return nil
			}
			if err := w.Registry.MarkHealthy(ctx, id, time.Now().UTC()); err != nil {
				return fmt.Errorf("record slot %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("WARNING: health: %v", err)
	}

	for _, res := range results {
		w.WS.Broadcast(hub.Event{Type: hub.SlotHealth, App: w.App, Payload: res})
	}
	return results
}
