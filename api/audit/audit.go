// Package audit is the append-only record of deployment attempts.
package audit

import (
	"context"
	"fmt"
	"sort"

	"switchyard/api/model"
)

const DefaultLimit = 20

// Store persists finished attempts. Implementations never update or
// delete a record once appended. List returns newest first.
type Store interface {
	Append(ctx context.Context, a *model.DeploymentAttempt) error
	List(ctx context.Context, limit int) ([]model.DeploymentAttempt, error)
}

// Log wraps a Store so write failures surface as model.ErrAuditWriteFailed.
type Log struct {
	store Store
}

func NewLog(s Store) *Log {
	return &Log{store: s}
}

func (l *Log) Append(ctx context.Context, a *model.DeploymentAttempt) error {
	if a.FinishedAt.IsZero() {
		return fmt.Errorf("%w: attempt %s is not finished", model.ErrAuditWriteFailed, a.ID)
	}
	if err := l.store.Append(ctx, a); err != nil {
		return fmt.Errorf("%w: %v", model.ErrAuditWriteFailed, err)
	}
	return nil
}

func (l *Log) List(ctx context.Context, limit int) ([]model.DeploymentAttempt, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return l.store.List(ctx, limit)
}

// Last returns the most recent attempt, or nil when the log is empty.
func (l *Log) Last(ctx context.Context) (*model.DeploymentAttempt, error) {
	attempts, err := l.store.List(ctx, 1)
	if err != nil || len(attempts) == 0 {
		return nil, err
	}
	return &attempts[0], nil
}

// newestFirst sorts by StartedAt descending and trims to limit.
func newestFirst(attempts []model.DeploymentAttempt, limit int) []model.DeploymentAttempt {
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].StartedAt.After(attempts[j].StartedAt)
	})
	if limit > 0 && len(attempts) > limit {
		attempts = attempts[:limit]
	}
	return attempts
}
