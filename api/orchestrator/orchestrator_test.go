package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"switchyard/api/audit"
	"switchyard/api/health"
	"switchyard/api/model"
	"switchyard/api/registry"
)

const (
	addrA = "10.0.0.1:8080"
	addrB = "10.0.0.2:8080"
)

// flakyBackend is a registry backend whose saves can be made to fail.
type flakyBackend struct {
	*registry.MemoryBackend
	failSave atomic.Bool
}

func (b *flakyBackend) Save(ctx context.Context, st *model.RegistryState) error {
	if b.failSave.Load() {
		return errors.New("disk full")
	}
	return b.MemoryBackend.Save(ctx, st)
}

type fakeProber struct {
	mu      sync.Mutex
	calls   []string
	verdict health.Verdict
	report  health.Report
	err     error
	block   chan struct{} // if set, Probe waits on it or ctx
}

func (p *fakeProber) Probe(ctx context.Context, address string, pol health.Policy) (health.Verdict, health.Report, error) {
	p.mu.Lock()
	p.calls = append(p.calls, address)
	block := p.block
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return health.Unhealthy, health.Report{Attempts: 1}, ctx.Err()
		}
	}
	return p.verdict, p.report, p.err
}

func (p *fakeProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeRouter struct {
	mu       sync.Mutex
	current  string
	switches []model.SlotID
	fail     bool
	onSwitch func(slot model.SlotID)
}

func (r *fakeRouter) Switch(_ context.Context, slot model.SlotID, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.switches = append(r.switches, slot)
	if r.onSwitch != nil {
		r.onSwitch(slot)
	}
	if r.fail {
		return errors.New("router apply failed: nginx: [emerg] unexpected \"}\"")
	}
	r.current = address
	return nil
}

func (r *fakeRouter) Current(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, nil
}

type fakeProvisioner struct {
	mu    sync.Mutex
	calls []model.SlotID
	err   error
}

func (p *fakeProvisioner) Provision(_ context.Context, slot model.Slot, version string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, slot.ID)
	return p.err
}

type brokenAudit struct{}

func (brokenAudit) Append(context.Context, *model.DeploymentAttempt) error {
	return errors.New("bucket unreachable")
}

func (brokenAudit) List(context.Context, int) ([]model.DeploymentAttempt, error) {
	return nil, errors.New("bucket unreachable")
}

type harness struct {
	backend *flakyBackend
	reg     *registry.Registry
	prober  *fakeProber
	router  *fakeRouter
	prov    *fakeProvisioner
	store   *audit.MemoryStore
	orch    *Orchestrator
}

func newHarness(t *testing.T, active model.SlotID, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		backend: &flakyBackend{MemoryBackend: registry.NewMemoryBackend()},
		prober:  &fakeProber{verdict: health.Healthy, report: health.Report{Attempts: 1}},
		router:  &fakeRouter{},
		prov:    &fakeProvisioner{},
		store:   audit.NewMemoryStore(),
	}
	h.reg = registry.New(h.backend)
	if _, err := h.reg.Bootstrap(context.Background(), map[model.SlotID]string{
		model.SlotA: addrA,
		model.SlotB: addrB,
	}, active); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if active == model.SlotA {
		h.router.current = addrA
	} else {
		h.router.current = addrB
	}

	cfg := Config{
		App:         "shop",
		Registry:    h.reg,
		Prober:      h.prober,
		Router:      h.router,
		Provisioner: h.prov,
		Audit:       audit.NewLog(h.store),
		Policy:      health.Policy{Path: "/health", Interval: time.Millisecond, MaxAttempts: 30, Timeout: time.Second},
	}
	for _, o := range opts {
		o(&cfg)
	}
	orch, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h.orch = orch
	return h
}

func (h *harness) active(t *testing.T) model.SlotID {
	t.Helper()
	s, err := h.reg.GetActive(context.Background())
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	return s
}

func deploy(t *testing.T, o *Orchestrator, version string) *Result {
	t.Helper()
	res, err := o.Deploy(context.Background(), version)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	return res
}

func TestDeploySuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	h := &harness{
		backend: &flakyBackend{MemoryBackend: registry.NewMemoryBackend()},
		router:  &fakeRouter{current: addrA},
		prov:    &fakeProvisioner{},
		store:   audit.NewMemoryStore(),
	}
	h.reg = registry.New(h.backend)
	if _, err := h.reg.Bootstrap(context.Background(), map[model.SlotID]string{
		model.SlotA: addrA,
		model.SlotB: addr,
	}, model.SlotA); err != nil {
		t.Fatal(err)
	}
	orch, err := New(Config{
		App:         "shop",
		Registry:    h.reg,
		Prober:      health.NewProber(),
		Router:      h.router,
		Provisioner: h.prov,
		Audit:       audit.NewLog(h.store),
		Policy:      health.Policy{Path: "/health", Interval: time.Millisecond, MaxAttempts: 30, Timeout: time.Second},
	})
	if err != nil {
		t.Fatal(err)
	}

	res := deploy(t, orch, "v2")
	a := res.Attempt
	if a.Outcome != model.OutcomeSuccess {
		t.Fatalf("outcome = %s (%s)", a.Outcome, a.Reason)
	}
	if res.Err() != nil {
		t.Errorf("Err() = %v", res.Err())
	}
	if a.FromSlot != model.SlotA || a.TargetSlot != model.SlotB {
		t.Errorf("from %s to %s", a.FromSlot, a.TargetSlot)
	}
	if a.ProbeAttempts != 3 {
		t.Errorf("probe attempts = %d, want 3", a.ProbeAttempts)
	}
	if got := h.active(t); got != model.SlotB {
		t.Errorf("active = %s, want B", got)
	}
	if cur, _ := h.router.Current(context.Background()); cur != addr {
		t.Errorf("router = %q, want %q", cur, addr)
	}
	slot, _ := h.reg.Slot(context.Background(), model.SlotB)
	if slot.LastDeployedVersion != "v2" || slot.LastKnownHealthy == nil {
		t.Errorf("slot B = %+v", slot)
	}
	if a.FinishedAt.Before(a.StartedAt) || a.FinishedAt.IsZero() {
		t.Errorf("timestamps: %v -> %v", a.StartedAt, a.FinishedAt)
	}
	if orch.State() != Idle {
		t.Errorf("state = %s, want idle", orch.State())
	}
	list, _ := h.store.List(context.Background(), 10)
	if len(list) != 1 || list[0].ID != a.ID {
		t.Errorf("audit = %+v", list)
	}
}

func TestDeployHealthCheckFailed(t *testing.T) {
	h := newHarness(t, model.SlotA)
	h.prober.verdict = health.Unhealthy
	h.prober.report = health.Report{Attempts: 30, LastError: "status 503"}

	res := deploy(t, h.orch, "v2")
	if res.Attempt.Outcome != model.OutcomeHealthCheckFailed {
		t.Fatalf("outcome = %s", res.Attempt.Outcome)
	}
	if !errors.Is(res.Err(), model.ErrHealthCheckFailed) {
		t.Errorf("Err() = %v", res.Err())
	}
	if !strings.Contains(res.Attempt.Reason, "30 attempts") || !strings.Contains(res.Attempt.Reason, "status 503") {
		t.Errorf("reason = %q", res.Attempt.Reason)
	}
	if len(h.router.switches) != 0 {
		t.Errorf("router switched on unhealthy target: %v", h.router.switches)
	}
	if got := h.active(t); got != model.SlotA {
		t.Errorf("active = %s, want A", got)
	}
}

func TestDeployProvisionFailed(t *testing.T) {
	h := newHarness(t, model.SlotB)
	h.prov.err = errors.New("image pull failed")

	res := deploy(t, h.orch, "v3")
	a := res.Attempt
	if a.Outcome != model.OutcomeProvisionFailed || a.Kind != model.KindProvisionFailed {
		t.Fatalf("outcome = %s kind = %s", a.Outcome, a.Kind)
	}
	if a.TargetSlot != model.SlotA {
		t.Errorf("target = %s, want A", a.TargetSlot)
	}
	if h.prober.count() != 0 {
		t.Error("prober invoked after provision failure")
	}
	if len(h.router.switches) != 0 {
		t.Error("router invoked after provision failure")
	}
	if got := h.active(t); got != model.SlotB {
		t.Errorf("active = %s, want B", got)
	}
}

func TestDeployRouterApplyFailed(t *testing.T) {
	h := newHarness(t, model.SlotA)
	h.router.fail = true

	res := deploy(t, h.orch, "v2")
	if res.Attempt.Outcome != model.OutcomeRouterApplyFailed {
		t.Fatalf("outcome = %s", res.Attempt.Outcome)
	}
	if !errors.Is(res.Err(), model.ErrRouterApplyFailed) {
		t.Errorf("Err() = %v", res.Err())
	}
	if len(h.router.switches) != 1 {
		t.Errorf("switches = %v, want exactly one", h.router.switches)
	}
	if got := h.active(t); got != model.SlotA {
		t.Errorf("active = %s, want A", got)
	}
}

func TestDeployAuditWriteFailed(t *testing.T) {
	h := newHarness(t, model.SlotA, func(c *Config) { c.Audit = audit.NewLog(brokenAudit{}) })

	res := deploy(t, h.orch, "v2")
	if res.Attempt.Outcome != model.OutcomeSuccess {
		t.Fatalf("outcome = %s (%s)", res.Attempt.Outcome, res.Attempt.Reason)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], model.ErrAuditWriteFailed.Error()) {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if got := h.active(t); got != model.SlotB {
		t.Errorf("active = %s, want B", got)
	}
}

func TestDeployCommitFailureSwitchesBack(t *testing.T) {
	h := newHarness(t, model.SlotA)
	h.router.onSwitch = func(slot model.SlotID) {
		if slot == model.SlotB {
			h.backend.failSave.Store(true)
		}
	}

	res := deploy(t, h.orch, "v2")
	a := res.Attempt
	if a.Outcome != model.OutcomeAborted || a.Kind != model.KindStorageUnavailable {
		t.Fatalf("outcome = %s kind = %s", a.Outcome, a.Kind)
	}
	if !errors.Is(res.Err(), model.ErrStorageUnavailable) {
		t.Errorf("Err() = %v", res.Err())
	}
	if len(h.router.switches) != 2 || h.router.switches[1] != model.SlotA {
		t.Errorf("switches = %v, want [B A]", h.router.switches)
	}
	if cur, _ := h.router.Current(context.Background()); cur != addrA {
		t.Errorf("router = %q, want %q", cur, addrA)
	}
	h.backend.failSave.Store(false)
	if got := h.active(t); got != model.SlotA {
		t.Errorf("active = %s, want A", got)
	}
}

func TestDeployRegistryUnavailable(t *testing.T) {
	store := audit.NewMemoryStore()
	prov := &fakeProvisioner{}
	orch, err := New(Config{
		App:         "shop",
		Registry:    registry.New(registry.NewMemoryBackend()), // never bootstrapped
		Prober:      &fakeProber{},
		Router:      &fakeRouter{},
		Provisioner: prov,
		Audit:       audit.NewLog(store),
		Policy:      health.Policy{MaxAttempts: 1, Timeout: time.Second},
	})
	if err != nil {
		t.Fatal(err)
	}
	res := deploy(t, orch, "v2")
	if res.Attempt.Kind != model.KindStorageUnavailable {
		t.Fatalf("kind = %s", res.Attempt.Kind)
	}
	if len(prov.calls) != 0 {
		t.Error("provisioned without knowing the active slot")
	}
	if list, _ := store.List(context.Background(), 5); len(list) != 1 {
		t.Errorf("audit records = %d, want 1", len(list))
	}
}

func TestDeployTimeout(t *testing.T) {
	h := newHarness(t, model.SlotA, func(c *Config) { c.DeployTimeout = 50 * time.Millisecond })
	h.prober.block = make(chan struct{})

	res := deploy(t, h.orch, "v2")
	a := res.Attempt
	if a.Outcome != model.OutcomeAborted || a.Kind != model.KindTimeout {
		t.Fatalf("outcome = %s kind = %s (%s)", a.Outcome, a.Kind, a.Reason)
	}
	if !errors.Is(res.Err(), model.ErrTimeout) {
		t.Errorf("Err() = %v", res.Err())
	}
	if len(h.router.switches) != 0 {
		t.Error("router touched after timeout")
	}
	if got := h.active(t); got != model.SlotA {
		t.Errorf("active = %s, want A", got)
	}
	if list, _ := h.store.List(context.Background(), 1); len(list) != 1 {
		t.Error("timed-out attempt not audited")
	}
}

func TestDeployTimeoutDuringLastProbeAttempt(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)
	addr := strings.TrimPrefix(srv.URL, "http://")

	h := &harness{
		backend: &flakyBackend{MemoryBackend: registry.NewMemoryBackend()},
		router:  &fakeRouter{current: addrA},
		prov:    &fakeProvisioner{},
		store:   audit.NewMemoryStore(),
	}
	h.reg = registry.New(h.backend)
	if _, err := h.reg.Bootstrap(context.Background(), map[model.SlotID]string{
		model.SlotA: addrA,
		model.SlotB: addr,
	}, model.SlotA); err != nil {
		t.Fatal(err)
	}
	orch, err := New(Config{
		App:           "shop",
		Registry:      h.reg,
		Prober:        health.NewProber(),
		Router:        h.router,
		Provisioner:   h.prov,
		Audit:         audit.NewLog(h.store),
		Policy:        health.Policy{Path: "/health", Interval: time.Millisecond, MaxAttempts: 1, Timeout: 2 * time.Second},
		DeployTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	res := deploy(t, orch, "v2")
	a := res.Attempt
	if a.Outcome != model.OutcomeAborted || a.Kind != model.KindTimeout {
		t.Fatalf("outcome = %s kind = %s (%s)", a.Outcome, a.Kind, a.Reason)
	}
	if !errors.Is(res.Err(), model.ErrTimeout) {
		t.Errorf("Err() = %v", res.Err())
	}
	if len(h.router.switches) != 0 {
		t.Error("router touched after timeout")
	}
	if got := h.active(t); got != model.SlotA {
		t.Errorf("active = %s, want A", got)
	}
}

func TestDeployConcurrent(t *testing.T) {
	h := newHarness(t, model.SlotA)
	release := make(chan struct{})
	h.prober.block = release

	done := make(chan *Result)
	go func() {
		res, _ := h.orch.Deploy(context.Background(), "v2")
		done <- res
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.prober.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.orch.State() != HealthChecking {
		t.Fatalf("state = %s, want health_checking", h.orch.State())
	}

	if _, err := h.orch.Deploy(context.Background(), "v3"); !errors.Is(err, model.ErrDeploymentInProgress) {
		t.Errorf("second deploy err = %v, want ErrDeploymentInProgress", err)
	}
	st, err := h.orch.Status(context.Background())
	if err != nil {
		t.Fatalf("status during deploy: %v", err)
	}
	if st.Current == nil || st.Current.Version != "v2" {
		t.Errorf("current = %+v", st.Current)
	}

	close(release)
	res := <-done
	if res.Attempt.Outcome != model.OutcomeSuccess {
		t.Errorf("first deploy outcome = %s", res.Attempt.Outcome)
	}
	if len(h.prov.calls) != 1 {
		t.Errorf("provision calls = %d, want 1", len(h.prov.calls))
	}
}

func TestDeployRejectsEmptyVersion(t *testing.T) {
	h := newHarness(t, model.SlotA)
	if _, err := h.orch.Deploy(context.Background(), "  "); !errors.Is(err, model.ErrInvalidConfig) {
		t.Fatalf("err = %v", err)
	}
	if len(h.prov.calls) != 0 {
		t.Error("provisioned for empty version")
	}
	if list, _ := h.store.List(context.Background(), 1); len(list) != 0 {
		t.Error("rejected request was audited")
	}
}

func TestDeployAlternatesSlots(t *testing.T) {
	h := newHarness(t, model.SlotA)
	want := []model.SlotID{model.SlotB, model.SlotA, model.SlotB}
	for i, w := range want {
		res := deploy(t, h.orch, "v"+string(rune('1'+i)))
		if res.Attempt.TargetSlot != w {
			t.Errorf("deploy %d target = %s, want %s", i, res.Attempt.TargetSlot, w)
		}
		st, err := h.reg.State(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if err := st.Check(); err != nil {
			t.Fatalf("registry invalid after deploy %d: %v", i, err)
		}
		if st.Active.ActiveSlot != w {
			t.Errorf("deploy %d active = %s", i, st.Active.ActiveSlot)
		}
	}
	hist, _ := h.orch.History(context.Background(), 0)
	if len(hist) != 3 || hist[0].Version != "v3" {
		t.Errorf("history = %+v", hist)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, model.SlotA)
	deploy(t, h.orch, "v2")

	st, err := h.orch.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.ActiveSlot != model.SlotB || st.State != Idle {
		t.Errorf("status = %+v", st)
	}
	if st.LastAttempt == nil || st.LastAttempt.Version != "v2" {
		t.Errorf("last attempt = %+v", st.LastAttempt)
	}
	if st.RouterAddress != addrB {
		t.Errorf("router address = %q", st.RouterAddress)
	}
	if len(st.Slots) != 2 || st.Current != nil {
		t.Errorf("slots = %v current = %v", st.Slots, st.Current)
	}
}

func TestReconcile(t *testing.T) {
	h := newHarness(t, model.SlotB)
	h.router.current = addrA // crashed after switching but before commit

	if err := h.orch.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cur, _ := h.router.Current(context.Background()); cur != addrB {
		t.Errorf("router = %q, want %q", cur, addrB)
	}
	n := len(h.router.switches)
	if err := h.orch.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.router.switches) != n {
		t.Error("reconcile switched an already consistent router")
	}
}

func TestNewRejectsZeroAttempts(t *testing.T) {
	_, err := New(Config{
		Registry: registry.New(registry.NewMemoryBackend()),
		Prober:   &fakeProber{},
		Router:   &fakeRouter{},
		Audit:    audit.NewLog(audit.NewMemoryStore()),
		Policy:   health.Policy{MaxAttempts: 0, Timeout: time.Second},
	})
	if !errors.Is(err, model.ErrInvalidConfig) {
		t.Errorf("err = %v", err)
	}
}
