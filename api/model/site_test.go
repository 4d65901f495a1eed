package model

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalSite = `
app: shop
slots:
  a: 127.0.0.1:8081
  b: 127.0.0.1:8082
router:
  kind: nginx
  configPath: /etc/nginx/conf.d/shop-upstream.conf
provisioner:
  kind: command
  command: ["./scripts/refresh.sh"]
`

func TestParseSiteDefaults(t *testing.T) {
	s, err := ParseSite([]byte(minimalSite))
	if err != nil {
		t.Fatalf("ParseSite: %v", err)
	}
	if s.Health.Path != "/health" {
		t.Errorf("Health.Path = %q", s.Health.Path)
	}
	if s.Health.MaxAttempts != 30 {
		t.Errorf("MaxAttempts = %d, want 30", s.Health.MaxAttempts)
	}
	if s.Health.IntervalDuration() != 2*time.Second {
		t.Errorf("Interval = %v", s.Health.IntervalDuration())
	}
	if s.Router.Upstream != DefaultUpstream {
		t.Errorf("Upstream = %q", s.Router.Upstream)
	}
	if s.Initial() != SlotA {
		t.Errorf("Initial = %s", s.Initial())
	}
	if s.Watch.Schedule != DefaultWatchSchedule {
		t.Errorf("Watch.Schedule = %q", s.Watch.Schedule)
	}
	if s.DeployTimeoutDuration() != DefaultDeployTimeout {
		t.Errorf("DeployTimeout = %v", s.DeployTimeoutDuration())
	}
	addrs := s.Addresses()
	if addrs[SlotB] != "127.0.0.1:8082" {
		t.Errorf("B = %q", addrs[SlotB])
	}
}

func TestParseSiteOverrides(t *testing.T) {
	src := minimalSite + `
initialActive: green
deployTimeout: 90s
health:
  path: /healthz
  interval: 500ms
  timeout: 1s
  maxAttempts: 5
`
	s, err := ParseSite([]byte(src))
	if err != nil {
		t.Fatalf("ParseSite: %v", err)
	}
	if s.Initial() != SlotB {
		t.Errorf("Initial = %s", s.Initial())
	}
	if s.DeployTimeoutDuration() != 90*time.Second {
		t.Errorf("DeployTimeout = %v", s.DeployTimeoutDuration())
	}
	if s.Health.IntervalDuration() != 500*time.Millisecond {
		t.Errorf("Interval = %v", s.Health.IntervalDuration())
	}
	if s.Health.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d", s.Health.MaxAttempts)
	}
}

func TestParseSiteInvalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"bad address", strings.Replace(minimalSite, "127.0.0.1:8082", "not-an-address", 1), "host:port"},
		{"same address", strings.Replace(minimalSite, "127.0.0.1:8082", "127.0.0.1:8081", 1), "share address"},
		{"bad router", strings.Replace(minimalSite, "kind: nginx", "kind: haproxy", 1), "one of"},
		{"missing command", strings.Replace(minimalSite, `  command: ["./scripts/refresh.sh"]`, "", 1), "Command is required"},
		{"bad duration", minimalSite + "deployTimeout: soon\n", "positive duration"},
		{"bad slot", minimalSite + "initialActive: C\n", "A or B"},
		{"cloudflared without hostname", strings.Replace(minimalSite, "kind: nginx", "kind: cloudflared", 1), "Hostname is required"},
		{"garbage", "app: [", "parse site"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSite([]byte(tt.src))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v is not ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateSiteWarnsOnNoneProvisioner(t *testing.T) {
	s, err := ParseSite([]byte(strings.Replace(minimalSite, "kind: command", "kind: none", 1)))
	if err != nil {
		t.Fatalf("ParseSite: %v", err)
	}
	res := ValidateSite(s)
	if !res.Valid() {
		t.Fatalf("unexpected errors: %s", res.Summary())
	}
	if res.Warnings != 1 {
		t.Errorf("Warnings = %d, want 1", res.Warnings)
	}
}

func TestLoadSite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site.yaml")
	if err := os.WriteFile(path, []byte(minimalSite), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSite(path)
	if err != nil {
		t.Fatalf("LoadSite: %v", err)
	}
	if s.App != "shop" {
		t.Errorf("App = %q", s.App)
	}

	if _, err := LoadSite(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
