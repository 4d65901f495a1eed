// Package router points the production hostname at one slot.
package router

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"switchyard/api/model"
)

// Switcher redirects new traffic to a slot. A nil error means the change
// is live. Any failure leaves the previous routing in effect and wraps
// model.ErrRouterApplyFailed.
type Switcher interface {
	Switch(ctx context.Context, slot model.SlotID, address string) error
	// Current returns the address the router sends traffic to, or "" when
	// the router has never been configured.
	Current(ctx context.Context) (string, error)
}

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, argv []string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, nil
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	return cmd.CombinedOutput()
}

// New builds the switcher named by spec.Kind.
func New(spec model.RouterSpec, run Runner) (Switcher, error) {
	if run == nil {
		run = ExecRunner{}
	}
	switch spec.Kind {
	case "nginx":
		return NewNginx(spec, run), nil
	case "cloudflared":
		return NewCloudflared(spec, run), nil
	}
	return nil, fmt.Errorf("%w: unknown router kind %q", model.ErrInvalidConfig, spec.Kind)
}

func applyErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrRouterApplyFailed, fmt.Sprintf(format, args...))
}

// runStep runs argv and folds its output into the error.
func runStep(ctx context.Context, run Runner, step string, argv []string) error {
	if len(argv) == 0 {
		return nil
	}
	out, err := run.Run(ctx, argv)
	if err != nil {
		return fmt.Errorf("%s (%s): %v: %s", step, strings.Join(argv, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
