package nomad

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	nomadapi "github.com/hashicorp/nomad/api"
)

// SlotJob describes the job that runs one version on one slot.
type SlotJob struct {
	App         string
	Slot        string
	Image       string
	Version     string
	Address     string // host:port the slot answers on
	HealthPath  string
	Datacenters []string
	Env         map[string]string
}

// JobID is the Nomad job name for a slot, e.g. "shop-b".
func JobID(app, slot string) string {
	return fmt.Sprintf("%s-%s", app, strings.ToLower(slot))
}

// Translate builds a service job with a single task group pinned to the
// slot's static port.
func Translate(s SlotJob) (*nomadapi.Job, error) {
	_, portStr, err := net.SplitHostPort(s.Address)
	if err != nil {
		return nil, fmt.Errorf("slot address %q: %w", s.Address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("slot port %q: %w", portStr, err)
	}

	jobID := JobID(s.App, s.Slot)
	job := nomadapi.NewServiceJob(jobID, jobID, "global", 50)
	job.Datacenters = s.Datacenters
	if len(job.Datacenters) == 0 {
		job.Datacenters = []string{"dc1"}
	}
	job.Meta = map[string]string{
		"switchyard_slot":    s.Slot,
		"switchyard_version": s.Version,
		"deploy_ts":          fmt.Sprintf("%d", time.Now().UnixMilli()),
	}

	tg := nomadapi.NewTaskGroup("web", 1)

	attempts := 2
	interval := 5 * time.Minute
	delay := 10 * time.Second
	mode := "fail"
	tg.RestartPolicy = &nomadapi.RestartPolicy{
		Attempts: &attempts,
		Interval: &interval,
		Delay:    &delay,
		Mode:     &mode,
	}

	maxParallel := 1
	minHealthy := 10 * time.Second
	autoRevert := false
	tg.Update = &nomadapi.UpdateStrategy{
		MaxParallel:    &maxParallel,
		MinHealthyTime: &minHealthy,
		AutoRevert:     &autoRevert,
	}

	portLabel := "http"
	tg.Networks = []*nomadapi.NetworkResource{{
		ReservedPorts: []nomadapi.Port{{Label: portLabel, Value: port}},
	}}

	svc := &nomadapi.Service{
		Name:      jobID,
		PortLabel: portLabel,
		Provider:  "consul",
		Tags:      []string{"slot-" + strings.ToLower(s.Slot), "version-" + s.Version},
	}
	if s.HealthPath != "" {
		svc.Checks = []nomadapi.ServiceCheck{{
			Type:     "http",
			Path:     s.HealthPath,
			Interval: 10 * time.Second,
			Timeout:  5 * time.Second,
		}}
	}
	tg.Services = []*nomadapi.Service{svc}

	task := nomadapi.NewTask("app", "docker")
	task.Config = map[string]interface{}{
		"image": s.Image + ":" + s.Version,
		"ports": []string{portLabel},
	}
	env := map[string]string{
		"SWITCHYARD_SLOT":    s.Slot,
		"SWITCHYARD_VERSION": s.Version,
		"PORT":               portStr,
	}
	for k, v := range s.Env {
		env[k] = v
	}
	task.Env = env

	cpu := 100
	mem := 128
	task.Resources = &nomadapi.Resources{CPU: &cpu, MemoryMB: &mem}

	tg.Tasks = []*nomadapi.Task{task}
	job.TaskGroups = []*nomadapi.TaskGroup{tg}
	return job, nil
}
