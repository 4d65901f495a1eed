package router

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"

	"switchyard/api/model"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]int // argv joined -> remaining failures
}

func (f *fakeRunner) Run(_ context.Context, argv []string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, argv)
	key := strings.Join(argv, " ")
	if f.fail[key] > 0 {
		f.fail[key]--
		return []byte("boom"), errors.New("exit status 1")
	}
	return nil, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newNginx(t *testing.T, run Runner) *Nginx {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upstream.conf")
	return NewNginx(model.RouterSpec{Kind: "nginx", ConfigPath: path, Upstream: "shop"}, run)
}

func TestNginxSwitch(t *testing.T) {
	run := &fakeRunner{}
	n := newNginx(t, run)
	ctx := context.Background()

	if cur, err := n.Current(ctx); err != nil || cur != "" {
		t.Fatalf("Current before switch = %q, %v", cur, err)
	}
	if err := n.Switch(ctx, model.SlotB, "10.0.0.2:8080"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	data, _ := os.ReadFile(n.Path)
	if !strings.Contains(string(data), "upstream shop {") || !strings.Contains(string(data), "server 10.0.0.2:8080;") {
		t.Errorf("rendered file:\n%s", data)
	}
	if cur, _ := n.Current(ctx); cur != "10.0.0.2:8080" {
		t.Errorf("Current = %q", cur)
	}
	if run.count() != 2 {
		t.Errorf("commands = %v, want test + reload", run.calls)
	}
}

func TestNginxSwitchIdempotent(t *testing.T) {
	run := &fakeRunner{}
	n := newNginx(t, run)
	ctx := context.Background()

	if err := n.Switch(ctx, model.SlotA, "10.0.0.1:8080"); err != nil {
		t.Fatal(err)
	}
	before := run.count()
	if err := n.Switch(ctx, model.SlotA, "10.0.0.1:8080"); err != nil {
		t.Fatalf("second switch: %v", err)
	}
	if run.count() != before {
		t.Errorf("same target reloaded nginx again: %v", run.calls)
	}
}

func TestNginxTestFailureRestores(t *testing.T) {
	run := &fakeRunner{fail: map[string]int{}}
	n := newNginx(t, run)
	ctx := context.Background()

	if err := n.Switch(ctx, model.SlotA, "10.0.0.1:8080"); err != nil {
		t.Fatal(err)
	}
	original, _ := os.ReadFile(n.Path)

	run.fail["nginx -t"] = 1
	err := n.Switch(ctx, model.SlotB, "10.0.0.2:8080")
	if !errors.Is(err, model.ErrRouterApplyFailed) {
		t.Fatalf("err = %v, want ErrRouterApplyFailed", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error should carry command output: %v", err)
	}
	after, _ := os.ReadFile(n.Path)
	if string(after) != string(original) {
		t.Errorf("file not restored:\n%s", after)
	}
	if cur, _ := n.Current(ctx); cur != "10.0.0.1:8080" {
		t.Errorf("Current = %q, want previous address", cur)
	}
}

func TestNginxReloadFailureRestores(t *testing.T) {
	run := &fakeRunner{fail: map[string]int{"nginx -s reload": 1}}
	n := newNginx(t, run)

	err := n.Switch(context.Background(), model.SlotB, "10.0.0.2:8080")
	if !errors.Is(err, model.ErrRouterApplyFailed) {
		t.Fatalf("err = %v, want ErrRouterApplyFailed", err)
	}
	if _, err := os.Stat(n.Path); !os.IsNotExist(err) {
		t.Errorf("file should be removed when there was none before, stat err = %v", err)
	}
}

func TestNginxEmptyAddress(t *testing.T) {
	n := newNginx(t, &fakeRunner{})
	if err := n.Switch(context.Background(), model.SlotA, ""); !errors.Is(err, model.ErrRouterApplyFailed) {
		t.Errorf("err = %v", err)
	}
}

const tunnelYAML = `tunnel: 6ff42ae2
credentials-file: /etc/cloudflared/6ff42ae2.json
warp-routing:
  enabled: true
ingress:
  - hostname: shop.example.com
    service: http://10.0.0.1:8080
    originRequest:
      noTLSVerify: true
  - hostname: other.example.com
    service: http://10.0.0.9:80
  - service: http_status:404
`

func TestCloudflaredSwitch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(tunnelYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	run := &fakeRunner{}
	c := NewCloudflared(model.RouterSpec{Kind: "cloudflared", ConfigPath: path, Hostname: "https://shop.example.com"}, run)
	ctx := context.Background()

	if cur, _ := c.Current(ctx); cur != "10.0.0.1:8080" {
		t.Fatalf("Current = %q", cur)
	}
	if err := c.Switch(ctx, model.SlotB, "10.0.0.2:8080"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if cur, _ := c.Current(ctx); cur != "10.0.0.2:8080" {
		t.Errorf("Current = %q", cur)
	}

	var cfg TunnelConfig
	data, _ := os.ReadFile(path)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatal(err)
	}
	if _, ok := cfg.Rest["warp-routing"]; !ok {
		t.Error("unmanaged top-level keys dropped")
	}
	if _, ok := cfg.Ingress[0].Rest["originRequest"]; !ok {
		t.Error("originRequest dropped from rule")
	}
	if len(cfg.Ingress) != 3 || cfg.Ingress[2].Service != "http_status:404" {
		t.Errorf("ingress = %+v", cfg.Ingress)
	}

	before := run.count()
	if err := c.Switch(ctx, model.SlotB, "10.0.0.2:8080"); err != nil {
		t.Fatal(err)
	}
	if run.count() != before {
		t.Error("unchanged rule restarted cloudflared")
	}
}

func TestCloudflaredValidateFailureRestores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	os.WriteFile(path, []byte(tunnelYAML), 0o644)
	spec := model.RouterSpec{Kind: "cloudflared", ConfigPath: path, Hostname: "shop.example.com", TestCommand: []string{"validate"}}
	run := &fakeRunner{fail: map[string]int{"validate": 1}}
	c := NewCloudflared(spec, run)

	if err := c.Switch(context.Background(), model.SlotB, "10.0.0.2:8080"); !errors.Is(err, model.ErrRouterApplyFailed) {
		t.Fatalf("err = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != tunnelYAML {
		t.Errorf("config not restored:\n%s", data)
	}
}

func TestCloudflaredDefaultCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	os.WriteFile(path, []byte(tunnelYAML), 0o644)
	run := &fakeRunner{}
	c := NewCloudflared(model.RouterSpec{Kind: "cloudflared", ConfigPath: path, Hostname: "shop.example.com"}, run)

	if err := c.Switch(context.Background(), model.SlotB, "10.0.0.2:8080"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	want := []string{
		"cloudflared tunnel --config " + path + " ingress validate",
		"systemctl restart cloudflared",
	}
	if len(run.calls) != len(want) {
		t.Fatalf("commands = %v", run.calls)
	}
	for i, argv := range run.calls {
		if got := strings.Join(argv, " "); got != want[i] {
			t.Errorf("command %d = %q, want %q", i, got, want[i])
		}
	}
}

func TestSetIngressAppendsBeforeCatchAll(t *testing.T) {
	cfg := &TunnelConfig{Ingress: []IngressRule{{Service: "http_status:404"}}}
	if !SetIngress(cfg, "new.example.com", "http://1.2.3.4:80") {
		t.Fatal("expected change")
	}
	if cfg.Ingress[0].Hostname != "new.example.com" || cfg.Ingress[1].Hostname != "" {
		t.Errorf("ingress = %+v", cfg.Ingress)
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New(model.RouterSpec{Kind: "haproxy"}, nil); !errors.Is(err, model.ErrInvalidConfig) {
		t.Errorf("err = %v", err)
	}
}
