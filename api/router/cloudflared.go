package router

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"switchyard/api/fsutil"
	"switchyard/api/model"
)

// TunnelConfig is a cloudflared config file. Keys switchyard does not
// manage are carried through untouched.
type TunnelConfig struct {
	Tunnel          string         `yaml:"tunnel,omitempty"`
	CredentialsFile string         `yaml:"credentials-file,omitempty"`
	Ingress         []IngressRule  `yaml:"ingress"`
	Rest            map[string]any `yaml:",inline"`
}

type IngressRule struct {
	Hostname string         `yaml:"hostname,omitempty"`
	Service  string         `yaml:"service"`
	Rest     map[string]any `yaml:",inline"`
}

// NormalizeHostname strips scheme and path so ingress rules hold plain
// hostnames.
func NormalizeHostname(raw string) string {
	if !strings.Contains(raw, "://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Hostname()
}

// SetIngress points hostname at service, inserting the rule ahead of the
// catch-all when missing. It reports whether cfg changed.
func SetIngress(cfg *TunnelConfig, hostname, service string) bool {
	hostname = NormalizeHostname(hostname)
	for i, rule := range cfg.Ingress {
		if rule.Hostname == hostname {
			if rule.Service == service {
				return false
			}
			cfg.Ingress[i].Service = service
			return true
		}
	}

	rule := IngressRule{Hostname: hostname, Service: service}
	if n := len(cfg.Ingress); n > 0 && cfg.Ingress[n-1].Hostname == "" {
		catchAll := cfg.Ingress[n-1]
		cfg.Ingress = append(cfg.Ingress[:n-1], rule, catchAll)
	} else {
		cfg.Ingress = append(cfg.Ingress, rule, IngressRule{Service: "http_status:404"})
	}
	return true
}

// Cloudflared rewrites the tunnel ingress rule for one hostname and
// restarts the connector.
type Cloudflared struct {
	Path          string
	Hostname      string
	TestCommand   []string
	ReloadCommand []string

	mu  sync.Mutex
	run Runner
}

func NewCloudflared(spec model.RouterSpec, run Runner) *Cloudflared {
	c := &Cloudflared{
		Path:          spec.ConfigPath,
		Hostname:      NormalizeHostname(spec.Hostname),
		TestCommand:   spec.TestCommand,
		ReloadCommand: spec.ReloadCommand,
		run:           run,
	}
	if len(c.TestCommand) == 0 {
		c.TestCommand = []string{"cloudflared", "tunnel", "--config", c.Path, "ingress", "validate"}
	}
	// cloudflared reads ingress only at start, so there is no reload.
	// On SIGTERM it stops taking new requests and drains in-flight ones
	// for --grace-period (30s by default) before exiting.
	if len(c.ReloadCommand) == 0 {
		c.ReloadCommand = []string{"systemctl", "restart", "cloudflared"}
	}
	return c
}

func (c *Cloudflared) read() (*TunnelConfig, []byte, error) {
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return &TunnelConfig{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read cloudflared config: %w", err)
	}
	var cfg TunnelConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parse cloudflared config: %w", err)
	}
	return &cfg, data, nil
}

func (c *Cloudflared) Switch(ctx context.Context, slot model.SlotID, address string) error {
	if address == "" {
		return applyErr("empty address for slot %s", slot)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, prev, err := c.read()
	if err != nil {
		return applyErr("%v", err)
	}
	if !SetIngress(cfg, c.Hostname, "http://"+address) {
		return nil
	}
	next, err := yaml.Marshal(cfg)
	if err != nil {
		return applyErr("marshal cloudflared config: %v", err)
	}

	if prev != nil {
		if err := fsutil.WriteFileAtomic(c.Path+".bak", prev, 0o644); err != nil {
			return applyErr("write backup: %v", err)
		}
	}
	if err := fsutil.WriteFileAtomic(c.Path, next, 0o644); err != nil {
		return applyErr("write cloudflared config: %v", err)
	}
	if err := runStep(ctx, c.run, "ingress validate", c.TestCommand); err != nil {
		c.restore(prev)
		return applyErr("%v", err)
	}
	if err := runStep(ctx, c.run, "restart", c.ReloadCommand); err != nil {
		c.restore(prev)
		if rerr := runStep(ctx, c.run, "restart", c.ReloadCommand); rerr != nil {
			log.Printf("WARNING: router: restart after restore failed: %v", rerr)
		}
		return applyErr("%v", err)
	}
	log.Printf("router: cloudflared %s -> %s (slot %s)", c.Hostname, address, slot)
	return nil
}

func (c *Cloudflared) restore(prev []byte) {
	var err error
	if prev != nil {
		err = fsutil.WriteFileAtomic(c.Path, prev, 0o644)
	} else {
		err = os.Remove(c.Path)
	}
	if err != nil {
		log.Printf("WARNING: router: restore %s: %v", c.Path, err)
	}
}

func (c *Cloudflared) Current(_ context.Context) (string, error) {
	cfg, _, err := c.read()
	if err != nil {
		return "", err
	}
	for _, rule := range cfg.Ingress {
		if rule.Hostname == c.Hostname {
			return strings.TrimPrefix(strings.TrimPrefix(rule.Service, "http://"), "https://"), nil
		}
	}
	return "", nil
}
