package model

import "time"

type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeProvisionFailed   Outcome = "provision_failed"
	OutcomeHealthCheckFailed Outcome = "health_check_failed"
	OutcomeRouterApplyFailed Outcome = "router_apply_failed"
	OutcomeAborted           Outcome = "aborted"
)

// Error kinds recorded alongside an outcome.
const (
	KindProvisionFailed    = "ProvisionFailed"
	KindHealthCheckFailed  = "HealthCheckFailed"
	KindRouterApplyFailed  = "RouterApplyFailed"
	KindTimeout            = "Timeout"
	KindStorageUnavailable = "StorageUnavailable"
)

// DeploymentAttempt is one run of Deploy. It is immutable once FinishedAt is set.
type DeploymentAttempt struct {
	ID            string    `json:"id"`
	App           string    `json:"app"`
	Version       string    `json:"version"`
	FromSlot      SlotID    `json:"fromSlot"`
	TargetSlot    SlotID    `json:"targetSlot"`
	Outcome       Outcome   `json:"outcome"`
	Kind          string    `json:"kind,omitempty"`
	Reason        string    `json:"reason"`
	ProbeAttempts int       `json:"probeAttempts,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
}

func (a *DeploymentAttempt) Succeeded() bool { return a.Outcome == OutcomeSuccess }

func (a *DeploymentAttempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}
