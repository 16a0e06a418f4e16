package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vidkeep/vidkeep/internal/repository"
)

const (
	lockKey     = "scheduler:lock"
	rotationKey = "scheduler:rotation"
)

type lockValue struct {
	StartedAt time.Time `json:"started_at"`
}

type rotationValue struct {
	Offset int `json:"offset"`
}

// cycleLock is the self-expiring lease that suppresses overlapping
// coordinator cycles. A held lock older than the staleness threshold is
// treated as abandoned and taken over.
type cycleLock struct {
	kv        KV
	staleness time.Duration
	now       func() time.Time
}

// acquire returns false when another cycle holds a fresh lock.
func (l *cycleLock) acquire(ctx context.Context) (bool, error) {
	var held lockValue
	err := l.kv.GetJSON(ctx, lockKey, &held)
	switch {
	case err == nil:
		if l.now().Sub(held.StartedAt) < l.staleness {
			return false, nil
		}
	case !errors.Is(err, repository.ErrNotFound):
		return false, fmt.Errorf("read cycle lock: %w", err)
	}

	if err := l.kv.SetJSON(ctx, lockKey, lockValue{StartedAt: l.now()}); err != nil {
		return false, fmt.Errorf("write cycle lock: %w", err)
	}
	return true, nil
}

// release clears the lock on loop exit.
func (l *cycleLock) release(ctx context.Context) {
	_ = l.kv.Delete(ctx, lockKey)
}
