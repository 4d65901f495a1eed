package provision

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/hashicorp/terraform-exec/tfexec"

	"switchyard/api/model"
)

// Terraform applies a workspace with slot and version variables.
type Terraform struct {
	tf       *tfexec.Terraform
	workDir  string
	initOnce sync.Once
	initErr  error
}

func NewTerraform(workDir, execPath string) (*Terraform, error) {
	if execPath == "" {
		p, err := findTerraform()
		if err != nil {
			return nil, err
		}
		execPath = p
	}
	tf, err := tfexec.NewTerraform(workDir, execPath)
	if err != nil {
		return nil, fmt.Errorf("terraform init: %w", err)
	}
	return &Terraform{tf: tf, workDir: workDir}, nil
}

func findTerraform() (string, error) {
	if p, err := exec.LookPath("terraform"); err == nil {
		return p, nil
	}
	for _, p := range []string{"/opt/homebrew/bin/terraform", "/usr/local/bin/terraform", "/usr/bin/terraform"} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: terraform binary not found", model.ErrInvalidConfig)
}

func (t *Terraform) Provision(ctx context.Context, slot model.Slot, version string) error {
	t.initOnce.Do(func() { t.initErr = t.tf.Init(ctx) })
	if t.initErr != nil {
		return fmt.Errorf("%w: terraform init: %v", model.ErrProvisionFailed, t.initErr)
	}

	err := t.tf.Apply(ctx,
		tfexec.Lock(true),
		tfexec.Var("slot="+string(slot.ID)),
		tfexec.Var("version="+version),
		tfexec.Var("address="+slot.Address),
	)
	if err != nil {
		return fmt.Errorf("%w: terraform apply: %v", model.ErrProvisionFailed, err)
	}
	log.Printf("provision: terraform apply in %s slot=%s version=%s", t.workDir, slot.ID, version)
	return nil
}
