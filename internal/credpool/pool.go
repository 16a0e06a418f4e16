// Package credpool selects, rotates, and bans platform credentials.
// Selection prefers the least-used active credential but sticks to the
// current pick for a minimum pin duration to avoid thrashing between
// credentials on every job.
package credpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vidkeep/vidkeep/internal/domain"
	"github.com/vidkeep/vidkeep/internal/logger"
)

// ErrNoCredential signals that no active credential exists. Callers defer
// credentialed work rather than failing their whole cycle.
var ErrNoCredential = errors.New("no available credential")

// Store is the persistence surface the pool needs.
type Store interface {
	ListActive(ctx context.Context) ([]domain.Credential, error)
	GetByID(ctx context.Context, id uint) (*domain.Credential, error)
	RecordUsage(ctx context.Context, id uint) error
	UpdateFailureState(ctx context.Context, id uint, count int, at *time.Time) error
	SetActive(ctx context.Context, id uint, active bool, reason string) error
}

// Config tunes the failure window and pinning behavior.
type Config struct {
	// FailureThreshold disables a credential once its rolling failure count
	// reaches this value within FailureWindow.
	FailureThreshold int
	FailureWindow    time.Duration
	// MinPinDuration is how long GetAvailable keeps returning the same
	// credential before re-selecting by usage count.
	MinPinDuration time.Duration
}

// Pool manages credential selection and failure accounting.
type Pool struct {
	store Store
	cfg   Config
	log   *logger.Logger

	mu       sync.Mutex
	pinnedID uint // 0 when nothing is pinned
	pinnedAt time.Time
	now      func() time.Time
}

// New creates a credential pool over the given store.
func New(store Store, cfg Config, log *logger.Logger) *Pool {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = time.Hour
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Pool{
		store: store,
		cfg:   cfg,
		log:   log.WithField(logger.FieldComponent, "credpool"),
		now:   time.Now,
	}
}

// GetAvailable returns the credential the next credentialed job should use:
// the currently pinned one while the pin holds, otherwise the active
// credential with the lowest usage count. Returns ErrNoCredential when no
// active credential exists.
func (p *Pool) GetAvailable(ctx context.Context) (*domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	active, err := p.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active credentials: %w", err)
	}
	if len(active) == 0 {
		p.pinnedID = 0
		return nil, ErrNoCredential
	}

	if p.pinnedID != 0 && p.now().Sub(p.pinnedAt) < p.cfg.MinPinDuration {
		for i := range active {
			if active[i].ID == p.pinnedID {
				cred := active[i]
				p.touch(ctx, cred.ID)
				return &cred, nil
			}
		}
		// Pinned credential got disabled; fall through to re-select.
	}

	// Store orders by usage_count ascending.
	cred := active[0]
	p.pinnedID = cred.ID
	p.pinnedAt = p.now()
	p.touch(ctx, cred.ID)
	return &cred, nil
}

func (p *Pool) touch(ctx context.Context, id uint) {
	if err := p.store.RecordUsage(ctx, id); err != nil {
		p.log.WithError(err).Warn("Failed to record credential usage")
	}
}

// RecordFailure increments the rolling failure counter, resetting it first
// when the previous failure fell outside the window, and auto-disables the
// credential at the threshold.
func (p *Pool) RecordFailure(ctx context.Context, id uint, reason string) error {
	cred, err := p.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load credential %d: %w", id, err)
	}

	now := p.now()
	count := cred.FailureCount
	if cred.LastFailureAt == nil || now.Sub(*cred.LastFailureAt) > p.cfg.FailureWindow {
		count = 0
	}
	count++

	if err := p.store.UpdateFailureState(ctx, id, count, &now); err != nil {
		return fmt.Errorf("update credential %d failure state: %w", id, err)
	}

	p.log.WithFields(logger.Fields{
		"credential_id": id,
		"failures":      count,
		"reason":        reason,
	}).Warn("Credential failure recorded")

	if count >= p.cfg.FailureThreshold {
		return p.Ban(ctx, id, fmt.Sprintf("failure threshold reached: %s", reason))
	}
	return nil
}

// RecordSuccess resets the rolling failure counter.
func (p *Pool) RecordSuccess(ctx context.Context, id uint) error {
	if err := p.store.UpdateFailureState(ctx, id, 0, nil); err != nil {
		return fmt.Errorf("reset credential %d failure state: %w", id, err)
	}
	return nil
}

// Ban immediately disables a credential and drops the pin so the next
// GetAvailable re-selects. Re-activation is an explicit operator action only;
// automatic re-activation risks repeated bans by the remote service.
func (p *Pool) Ban(ctx context.Context, id uint, reason string) error {
	if err := p.store.SetActive(ctx, id, false, reason); err != nil {
		return fmt.Errorf("disable credential %d: %w", id, err)
	}

	p.mu.Lock()
	if p.pinnedID == id {
		p.pinnedID = 0
	}
	p.mu.Unlock()

	p.log.WithFields(logger.Fields{
		"credential_id": id,
		"reason":        reason,
	}).Warn("Credential banned")
	return nil
}
