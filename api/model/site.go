package model

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Site describes the application managed by one switchyard instance.
type Site struct {
	App           string          `yaml:"app" json:"app" validate:"required,hostname_rfc1123"`
	InitialActive string          `yaml:"initialActive,omitempty" json:"initialActive,omitempty" validate:"omitempty,slot"`
	DeployTimeout string          `yaml:"deployTimeout,omitempty" json:"deployTimeout,omitempty" validate:"omitempty,duration"`
	Slots         SlotsSpec       `yaml:"slots" json:"slots"`
	Health        HealthSpec      `yaml:"health" json:"health"`
	Router        RouterSpec      `yaml:"router" json:"router"`
	Provisioner   ProvisionerSpec `yaml:"provisioner" json:"provisioner"`
	Watch         *WatchSpec      `yaml:"watch,omitempty" json:"watch,omitempty"`
}

type SlotsSpec struct {
	A string `yaml:"a" json:"a" validate:"required,hostname_port"`
	B string `yaml:"b" json:"b" validate:"required,hostname_port"`
}

type HealthSpec struct {
	Path        string `yaml:"path,omitempty" json:"path,omitempty" validate:"omitempty,startswith=/"`
	Interval    string `yaml:"interval,omitempty" json:"interval,omitempty" validate:"omitempty,duration"`
	Timeout     string `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"omitempty,duration"`
	MaxAttempts int    `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty" validate:"gte=0"`
}

type RouterSpec struct {
	Kind          string   `yaml:"kind" json:"kind" validate:"required,oneof=nginx cloudflared"`
	ConfigPath    string   `yaml:"configPath" json:"configPath" validate:"required"`
	Upstream      string   `yaml:"upstream,omitempty" json:"upstream,omitempty"`
	Hostname      string   `yaml:"hostname,omitempty" json:"hostname,omitempty" validate:"required_if=Kind cloudflared"`
	TestCommand   []string `yaml:"testCommand,omitempty" json:"testCommand,omitempty"`
	ReloadCommand []string `yaml:"reloadCommand,omitempty" json:"reloadCommand,omitempty"`
}

type ProvisionerSpec struct {
	Kind    string   `yaml:"kind" json:"kind" validate:"required,oneof=none command nomad terraform"`
	Command []string `yaml:"command,omitempty" json:"command,omitempty" validate:"required_if=Kind command"`
	Image   string   `yaml:"image,omitempty" json:"image,omitempty" validate:"required_if=Kind nomad"`
	// Nomad
	Datacenters []string `yaml:"datacenters,omitempty" json:"datacenters,omitempty"`
	// Terraform
	WorkDir   string `yaml:"workDir,omitempty" json:"workDir,omitempty" validate:"required_if=Kind terraform"`
	Terraform string `yaml:"terraform,omitempty" json:"terraform,omitempty"`
	Timeout   string `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"omitempty,duration"`
}

type WatchSpec struct {
	Schedule string `yaml:"schedule" json:"schedule"` // e.g. "@every 30s"
	Disabled bool   `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

const (
	DefaultHealthPath    = "/health"
	DefaultInterval      = 2 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
	DefaultMaxAttempts   = 30
	DefaultDeployTimeout = 10 * time.Minute
	DefaultUpstream      = "switchyard_backend"
	DefaultWatchSchedule = "@every 30s"
)

// LoadSite reads, defaults and validates a site file.
func LoadSite(path string) (*Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site: %w", err)
	}
	return ParseSite(data)
}

func ParseSite(data []byte) (*Site, error) {
	var s Site
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: parse site: %v", ErrInvalidConfig, err)
	}
	s.applyDefaults()
	if res := ValidateSite(&s); !res.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, res.Summary())
	}
	return &s, nil
}

func (s *Site) applyDefaults() {
	if s.Health.Path == "" {
		s.Health.Path = DefaultHealthPath
	}
	if s.Health.MaxAttempts == 0 {
		s.Health.MaxAttempts = DefaultMaxAttempts
	}
	if s.Router.Upstream == "" {
		s.Router.Upstream = DefaultUpstream
	}
	if s.Watch == nil {
		s.Watch = &WatchSpec{}
	}
	if s.Watch.Schedule == "" {
		s.Watch.Schedule = DefaultWatchSchedule
	}
}

// Addresses maps each slot to its host:port.
func (s *Site) Addresses() map[SlotID]string {
	return map[SlotID]string{SlotA: s.Slots.A, SlotB: s.Slots.B}
}

// Initial returns the slot treated as active on first bootstrap.
func (s *Site) Initial() SlotID {
	if id, err := ParseSlot(s.InitialActive); err == nil {
		return id
	}
	return SlotA
}

func (s *Site) DeployTimeoutDuration() time.Duration {
	return parseDurationOr(s.DeployTimeout, DefaultDeployTimeout)
}

func (h HealthSpec) IntervalDuration() time.Duration {
	return parseDurationOr(h.Interval, DefaultInterval)
}

func (h HealthSpec) TimeoutDuration() time.Duration {
	return parseDurationOr(h.Timeout, DefaultProbeTimeout)
}

func (p ProvisionerSpec) TimeoutDuration() time.Duration {
	return parseDurationOr(p.Timeout, 5*time.Minute)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
