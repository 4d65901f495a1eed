package nomad

import (
	"context"
	"fmt"
	"time"

	nomadapi "github.com/hashicorp/nomad/api"
)

// SubmitJob registers a job with Nomad and returns the evaluation ID.
func (c *Client) SubmitJob(ctx context.Context, job *nomadapi.Job) (string, error) {
	resp, _, err := c.api.Jobs().Register(job, (&nomadapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	return resp.EvalID, nil
}

func (c *Client) jobAllocations(ctx context.Context, jobID string) ([]*nomadapi.AllocationListStub, error) {
	allocs, _, err := c.api.Jobs().Allocations(jobID, false, (&nomadapi.QueryOptions{}).WithContext(ctx))
	return allocs, err
}

// WaitHealthy polls until every live allocation of jobID reports healthy. An allocation Nomad has marked unhealthy fails
// the wait immediately.
func (c *Client) WaitHealthy(ctx context.Context, jobID string, poll time.Duration) error {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}

		allocs, err := c.jobAllocations(ctx, jobID)
		if err != nil || len(allocs) == 0 {
			continue
		}
		done, err := allocsReady(allocs)
		if err != nil {
			return fmt.Errorf("%s: %w", jobID, err)
		}
		if done {
			return nil
		}
	}
}

// allocsReady reports whether the current allocations are all healthy.
func allocsReady(allocs []*nomadapi.AllocationListStub) (bool, error) {
	healthy, pending := 0, 0
	for _, a := range allocs {
		// Terminal allocations belong to earlier versions.
		if a.ClientStatus == "complete" || a.ClientStatus == "failed" || a.ClientStatus == "lost" {
			continue
		}
		if a.ClientStatus != "running" {
			pending++
			continue
		}
		if a.DeploymentStatus == nil || a.DeploymentStatus.Healthy == nil {
			pending++
			continue
		}
		if !*a.DeploymentStatus.Healthy {
			return false, fmt.Errorf("allocation %s is unhealthy", short(a.ID, 8))
		}
		healthy++
	}
	return healthy > 0 && pending == 0, nil
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
