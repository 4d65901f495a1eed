// Package orchestrator runs blue-green deployments: provision the idle
// slot, probe it, switch traffic, commit.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"switchyard/api/audit"
	"switchyard/api/health"
	"switchyard/api/hub"
	"switchyard/api/metrics"
	"switchyard/api/model"
	"switchyard/api/provision"
	"switchyard/api/registry"
	"switchyard/api/router"
)

// Prober checks a slot before traffic moves to it.
type Prober interface {
	Probe(ctx context.Context, address string, p health.Policy) (health.Verdict, health.Report, error)
}

type Config struct {
	App           string
	Registry      *registry.Registry
	Prober        Prober
	Router        router.Switcher
	Provisioner   provision.Provisioner
	Audit         *audit.Log
	WS            *hub.Hub
	Policy        health.Policy
	DeployTimeout time.Duration
}

type Orchestrator struct {
	app      string
	registry *registry.Registry
	prober   Prober
	router   router.Switcher
	prov     provision.Provisioner
	audit    *audit.Log
	ws       *hub.Hub
	policy   health.Policy
	timeout  time.Duration
	now      func() time.Time

	// guard is held for a whole Idle -> ... -> Idle cycle.
	guard sync.Mutex

	mu      sync.RWMutex
	state   State
	current *model.DeploymentAttempt
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil || cfg.Prober == nil || cfg.Router == nil || cfg.Audit == nil {
		return nil, fmt.Errorf("%w: orchestrator needs registry, prober, router and audit log", model.ErrInvalidConfig)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	prov := cfg.Provisioner
	if prov == nil {
		prov = provision.None{}
	}
	timeout := cfg.DeployTimeout
	if timeout <= 0 {
		timeout = model.DefaultDeployTimeout
	}
	return &Orchestrator{
		app:      cfg.App,
		registry: cfg.Registry,
		prober:   cfg.Prober,
		router:   cfg.Router,
		prov:     prov,
		audit:    cfg.Audit,
		ws:       cfg.WS,
		policy:   cfg.Policy,
		timeout:  timeout,
		now:      time.Now,
		state:    Idle,
	}, nil
}

// Result is what Deploy hands back for a finished attempt.
type Result struct {
	Attempt  model.DeploymentAttempt `json:"attempt"`
	Warnings []string                `json:"warnings,omitempty"`
}

// Err maps the outcome to its sentinel error, nil on success.
func (r *Result) Err() error {
	a := r.Attempt
	switch a.Outcome {
	case model.OutcomeSuccess:
		return nil
	case model.OutcomeProvisionFailed:
		return fmt.Errorf("%w: %s", model.ErrProvisionFailed, a.Reason)
	case model.OutcomeHealthCheckFailed:
		return fmt.Errorf("%w: %s", model.ErrHealthCheckFailed, a.Reason)
	case model.OutcomeRouterApplyFailed:
		return fmt.Errorf("%w: %s", model.ErrRouterApplyFailed, a.Reason)
	}
	switch a.Kind {
	case model.KindTimeout:
		return fmt.Errorf("%w: %s", model.ErrTimeout, a.Reason)
	case model.KindStorageUnavailable:
		return fmt.Errorf("%w: %s", model.ErrStorageUnavailable, a.Reason)
	}
	return errors.New(a.Reason)
}

// State returns the machine's current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	mustTransition(from, to)
	o.state = to
	var id string
	if o.current != nil {
		id = o.current.ID
	}
	o.mu.Unlock()

	log.Printf("orchestrator: %s: %s -> %s", o.app, from, to)
	o.ws.Broadcast(hub.Event{Type: hub.DeployState, App: o.app, Payload: map[string]string{
		"attemptId": id,
		"from":      string(from),
		"to":        string(to),
	}})
}

// Deploy runs one attempt for version. It returns an error without
// touching anything when version is empty or another deploy is running.
// Otherwise it always returns a Result; failed outcomes are reported in
// the attempt, not as an error.
func (o *Orchestrator) Deploy(ctx context.Context, version string) (*Result, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, fmt.Errorf("%w: version is required", model.ErrInvalidConfig)
	}
	if !o.guard.TryLock() {
		return nil, model.ErrDeploymentInProgress
	}
	defer o.guard.Unlock()

	metrics.InProgress.WithLabelValues(o.app).Set(1)
	defer metrics.InProgress.WithLabelValues(o.app).Set(0)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	a := &model.DeploymentAttempt{
		ID:        uuid.New().String(),
		App:       o.app,
		Version:   version,
		StartedAt: o.now().UTC(),
	}
	o.mu.Lock()
	o.current = a
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.current = nil
		o.mu.Unlock()
	}()

	log.Printf("orchestrator: %s: deploy %s started (attempt %s)", o.app, version, a.ID)
	res := &Result{}
	o.run(ctx, a, res)
	o.finish(ctx, a, res)
	return res, nil
}

// run drives the machine up to the point where the outcome is known.
func (o *Orchestrator) run(ctx context.Context, a *model.DeploymentAttempt, res *Result) {
	st, err := o.registry.State(ctx)
	if err != nil {
		o.abort(a, model.OutcomeAborted, model.KindStorageUnavailable, fmt.Sprintf("read active slot: %v", err))
		return
	}
	from := *st.Slots[st.Active.ActiveSlot]
	target := *st.Slots[registry.Other(from.ID)]
	a.FromSlot = from.ID
	a.TargetSlot = target.ID

	o.transition(Provisioning)
	if err := o.prov.Provision(ctx, target, a.Version); err != nil {
		if ctx.Err() != nil {
			o.timedOut(ctx, a, "provisioning")
			return
		}
		o.abort(a, model.OutcomeProvisionFailed, model.KindProvisionFailed, fmt.Sprintf("provision slot %s: %v", target.ID, err))
		return
	}
	if ctx.Err() != nil {
		o.timedOut(ctx, a, "provisioning")
		return
	}
	if err := o.registry.RecordVersion(ctx, target.ID, a.Version); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("record version: %v", err))
	}

	o.transition(HealthChecking)
	policy := o.policy
	policy.OnAttempt = func(n int, err error) {
		metrics.ObserveProbe(o.app, target.ID, err)
		payload := map[string]any{"attemptId": a.ID, "slot": target.ID, "attempt": n, "ok": err == nil}
		if err != nil {
			payload["error"] = err.Error()
		}
		o.ws.Broadcast(hub.Event{Type: hub.ProbeAttempt, App: o.app, Payload: payload})
	}
	verdict, rep, err := o.prober.Probe(ctx, target.Address, policy)
	a.ProbeAttempts = rep.Attempts
	if err != nil {
		if ctx.Err() != nil {
			o.timedOut(ctx, a, "health checking")
			return
		}
		o.abort(a, model.OutcomeHealthCheckFailed, model.KindHealthCheckFailed, fmt.Sprintf("probe slot %s: %v", target.ID, err))
		return
	}
	if verdict != health.Healthy {
		if ctx.Err() != nil {
			o.timedOut(ctx, a, "health checking")
			return
		}
		reason := fmt.Sprintf("slot %s unhealthy after %d attempts", target.ID, rep.Attempts)
		if rep.LastError != "" {
			reason += ": " + rep.LastError
		}
		o.abort(a, model.OutcomeHealthCheckFailed, model.KindHealthCheckFailed, reason)
		return
	}
	probedAt := o.now().UTC()

	// From here on the deadline no longer applies: a switch that has
	// started is finished and committed, or undone.
	sctx := context.WithoutCancel(ctx)
	o.transition(Switching)
	if err := o.router.Switch(sctx, target.ID, target.Address); err != nil {
		o.abort(a, model.OutcomeRouterApplyFailed, model.KindRouterApplyFailed, fmt.Sprintf("switch to slot %s: %v", target.ID, err))
		return
	}
	if err := o.registry.SetActive(sctx, target.ID); err != nil {
		reason := fmt.Sprintf("commit slot %s: %v", target.ID, err)
		if rerr := o.router.Switch(sctx, from.ID, from.Address); rerr != nil {
			// Router and registry now disagree. Reconcile on next start
			// points the router back at the registry's slot.
			log.Printf("WARNING: orchestrator: %s: switch back to slot %s failed: %v", o.app, from.ID, rerr)
			reason += fmt.Sprintf("; switch back to slot %s failed: %v", from.ID, rerr)
		} else {
			reason += fmt.Sprintf("; traffic switched back to slot %s", from.ID)
		}
		o.abort(a, model.OutcomeAborted, model.KindStorageUnavailable, reason)
		return
	}
	if err := o.registry.MarkHealthy(sctx, target.ID, probedAt); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("record health: %v", err))
	}
	metrics.SetActive(o.app, target.ID)

	a.Outcome = model.OutcomeSuccess
	a.Reason = fmt.Sprintf("slot %s now serves %s", target.ID, a.Version)
	o.transition(Idle)
}

func (o *Orchestrator) abort(a *model.DeploymentAttempt, outcome model.Outcome, kind, reason string) {
	a.Outcome = outcome
	a.Kind = kind
	a.Reason = reason
	o.transition(Aborting)
	o.transition(Idle)
}

func (o *Orchestrator) timedOut(ctx context.Context, a *model.DeploymentAttempt, during string) {
	reason := fmt.Sprintf("deploy timed out after %s while %s", o.timeout, during)
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = fmt.Sprintf("deploy cancelled while %s: %v", during, ctx.Err())
	}
	o.abort(a, model.OutcomeAborted, model.KindTimeout, reason)
}

// finish seals the attempt and records it. An audit failure becomes a
// warning and never changes the outcome.
func (o *Orchestrator) finish(ctx context.Context, a *model.DeploymentAttempt, res *Result) {
	a.FinishedAt = o.now().UTC()

	if err := o.audit.Append(context.WithoutCancel(ctx), a); err != nil {
		log.Printf("WARNING: orchestrator: %s: %v", o.app, err)
		res.Warnings = append(res.Warnings, err.Error())
	}
	res.Attempt = *a
	metrics.ObserveAttempt(*a)

	evt := hub.DeployCompleted
	if !a.Succeeded() {
		evt = hub.DeployFailed
	}
	o.ws.Broadcast(hub.Event{Type: evt, App: o.app, Payload: res})
	log.Printf("orchestrator: %s: deploy %s finished: %s (%s) in %s",
		o.app, a.Version, a.Outcome, a.Reason, a.Duration().Round(time.Millisecond))
}
