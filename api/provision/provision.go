// Package provision puts a version onto the idle slot before it is probed.
package provision

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"switchyard/api/model"
)

// Provisioner installs version on slot. It must not touch the active slot.
type Provisioner interface {
	Provision(ctx context.Context, slot model.Slot, version string) error
}

type Options struct {
	App        string
	HealthPath string
	NomadAddr  string
}

// New builds the provisioner named by spec.Kind.
func New(spec model.ProvisionerSpec, opts Options) (Provisioner, error) {
	var p Provisioner
	switch spec.Kind {
	case "", "none":
		return None{}, nil
	case "command":
		p = &Command{Argv: spec.Command}
	case "nomad":
		n, err := NewNomad(opts.NomadAddr, opts.App, spec.Image, spec.Datacenters, opts.HealthPath)
		if err != nil {
			return nil, err
		}
		p = n
	case "terraform":
		t, err := NewTerraform(spec.WorkDir, spec.Terraform)
		if err != nil {
			return nil, err
		}
		p = t
	default:
		return nil, fmt.Errorf("%w: unknown provisioner kind %q", model.ErrInvalidConfig, spec.Kind)
	}
	return WithTimeout(p, spec.TimeoutDuration()), nil
}

// None is used when slot content is put in place out of band.
type None struct{}

func (None) Provision(context.Context, model.Slot, string) error { return nil }

type timeoutProvisioner struct {
	next    Provisioner
	timeout time.Duration
}

// WithTimeout bounds every Provision call of p.
func WithTimeout(p Provisioner, d time.Duration) Provisioner {
	if d <= 0 {
		return p
	}
	return &timeoutProvisioner{next: p, timeout: d}
}

func (t *timeoutProvisioner) Provision(ctx context.Context, slot model.Slot, version string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Provision(ctx, slot, version)
}

// Command runs a hook as `<argv...> <slot> <version>` with the slot
// details in SWITCHYARD_* environment variables.
type Command struct {
	Argv []string
	Dir  string
}

func (c *Command) Provision(ctx context.Context, slot model.Slot, version string) error {
	if len(c.Argv) == 0 {
		return fmt.Errorf("%w: empty provision command", model.ErrInvalidConfig)
	}
	args := append(append([]string{}, c.Argv[1:]...), string(slot.ID), version)
	cmd := exec.CommandContext(ctx, c.Argv[0], args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(),
		"SWITCHYARD_SLOT="+string(slot.ID),
		"SWITCHYARD_VERSION="+version,
		"SWITCHYARD_ADDRESS="+slot.Address,
	)

	start := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: hook %s: %v", model.ErrProvisionFailed, c.Argv[0], ctx.Err())
		}
		return fmt.Errorf("%w: hook %s: %v: %s", model.ErrProvisionFailed, c.Argv[0], err, tail(string(out), 512))
	}
	log.Printf("provision: hook %s slot=%s version=%s (%s)", c.Argv[0], slot.ID, version, time.Since(start).Round(time.Millisecond))
	return nil
}

// tail keeps the last n bytes of hook output, where errors usually are.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
