package model

import "errors"

var (
	// ErrInvalidConfig rejects caller input before anything is mutated.
	ErrInvalidConfig = errors.New("invalid config")

	ErrProvisionFailed   = errors.New("provision failed")
	ErrHealthCheckFailed = errors.New("health check failed")
	ErrRouterApplyFailed = errors.New("router apply failed")

	// ErrDeploymentInProgress is returned instead of queuing a second deploy.
	ErrDeploymentInProgress = errors.New("deployment in progress")

	// ErrStorageUnavailable means the registry could not be read or written.
	// It is never retried.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrAuditWriteFailed is a warning; it never changes a deploy outcome.
	ErrAuditWriteFailed = errors.New("audit write failed")

	ErrTimeout = errors.New("timeout")

	// ErrNotFound is returned by stores that have nothing persisted yet.
	ErrNotFound = errors.New("not found")
)
