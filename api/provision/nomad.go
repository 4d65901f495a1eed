package provision

import (
	"context"
	"fmt"
	"log"
	"time"

	"switchyard/api/model"
	"switchyard/api/nomad"
)

// Nomad runs each slot as its own Nomad job, "<app>-<slot>".
type Nomad struct {
	client      *nomad.Client
	app         string
	image       string
	datacenters []string
	healthPath  string
	poll        time.Duration
}

func NewNomad(addr, app, image string, datacenters []string, healthPath string) (*Nomad, error) {
	c, err := nomad.NewClient(addr)
	if err != nil {
		return nil, err
	}
	return &Nomad{
		client:      c,
		app:         app,
		image:       image,
		datacenters: datacenters,
		healthPath:  healthPath,
		poll:        2 * time.Second,
	}, nil
}

func (n *Nomad) Provision(ctx context.Context, slot model.Slot, version string) error {
	job, err := nomad.Translate(nomad.SlotJob{
		App:         n.app,
		Slot:        string(slot.ID),
		Image:       n.image,
		Version:     version,
		Address:     slot.Address,
		HealthPath:  n.healthPath,
		Datacenters: n.datacenters,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrProvisionFailed, err)
	}

	evalID, err := n.client.SubmitJob(ctx, job)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrProvisionFailed, err)
	}
	log.Printf("provision: nomad job %s submitted (eval %s)", *job.ID, evalID)

	if err := n.client.WaitHealthy(ctx, *job.ID, n.poll); err != nil {
		return fmt.Errorf("%w: %v", model.ErrProvisionFailed, err)
	}
	return nil
}
