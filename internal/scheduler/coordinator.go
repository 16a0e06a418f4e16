// Package scheduler hosts the periodic loops around the job queue: the
// coordinator that turns remote catalog state into fetch jobs, the runner
// that executes admitted jobs, the zombie reaper, and the low-frequency
// snapshot refresher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vidkeep/vidkeep/internal/domain"
	"github.com/vidkeep/vidkeep/internal/logger"
	"github.com/vidkeep/vidkeep/internal/queue"
	"github.com/vidkeep/vidkeep/internal/repository"
	"github.com/vidkeep/vidkeep/internal/syncer"
)

// SubscriptionSource lists the subscriptions the coordinator cycles over.
type SubscriptionSource interface {
	ListEnabled(ctx context.Context) ([]domain.Subscription, error)
}

// LocalIndex answers "which items do we already have" per subscription.
type LocalIndex interface {
	ScanLocalIndex(ctx context.Context, subscriptionID uint) (map[string]struct{}, error)
}

// PendingLister is the full (non-incremental) pending-list fallback.
type PendingLister interface {
	ComputePendingList(ctx context.Context, sub domain.Subscription) (*domain.PendingList, error)
}

// IncrementalSource is the incremental candidate path; implemented by the
// sync service.
type IncrementalSource interface {
	GetIncrementalIDs(ctx context.Context, subID uint, limit int) (syncer.IncrementalResult, error)
}

// CoordinatorConfig tunes the periodic enqueue loop.
type CoordinatorConfig struct {
	Interval time.Duration
	// SubsPerCycle is the size of the rotating subscription subset processed
	// each cycle, spreading large subscription counts over multiple cycles.
	SubsPerCycle int
	// PerSubQuota caps enqueues per subscription per cycle, shared between
	// backfill re-attempts and fresh candidates.
	PerSubQuota int
	// BackfillPerCycle bounds automatic re-attempts per subscription per cycle.
	BackfillPerCycle int
	// EnqueueDelay smooths burstiness between consecutive enqueues.
	EnqueueDelay time.Duration
	// TimeBudget soft-bounds a cycle's wall-clock time.
	TimeBudget time.Duration
	// LockStaleness is the age past which a held cycle lock counts as abandoned.
	LockStaleness time.Duration
	// IncrementalDefault applies when a subscription has no override.
	IncrementalDefault bool
}

// Coordinator is the periodic enqueue loop.
type Coordinator struct {
	q        *queue.Queue
	inc      IncrementalSource
	subs     SubscriptionSource
	index    LocalIndex
	pending  PendingLister
	failures *FailureStore
	lock     *cycleLock
	kv       KV
	cfg      CoordinatorConfig
	log      *logger.Logger
	now      func() time.Time
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(
	q *queue.Queue,
	inc IncrementalSource,
	subs SubscriptionSource,
	index LocalIndex,
	pending PendingLister,
	failures *FailureStore,
	kv KV,
	cfg CoordinatorConfig,
	log *logger.Logger,
) *Coordinator {
	if log == nil {
		log = logger.GetDefault()
	}
	now := time.Now
	return &Coordinator{
		q:        q,
		inc:      inc,
		subs:     subs,
		index:    index,
		pending:  pending,
		failures: failures,
		lock:     &cycleLock{kv: kv, staleness: cfg.LockStaleness, now: now},
		kv:       kv,
		cfg:      cfg,
		log:      log.WithField(logger.FieldComponent, "coordinator"),
		now:      now,
	}
}

// Run executes cycles on the configured interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RunCycle(ctx); err != nil {
				c.log.WithError(err).Error("Coordinator cycle failed")
			}
		}
	}
}

// RunCycle performs one coordinator pass: take the cycle lock, process a
// rotating subset of subscriptions, release the lock. A fresh lock held by
// another run skips the cycle entirely.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	ok, err := c.lock.acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		c.log.Info("Cycle lock held, skipping this cycle")
		return nil
	}
	defer c.lock.release(ctx)

	deadline := c.now().Add(c.cfg.TimeBudget)

	subs, err := c.subs.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	batch, err := c.rotateSubset(ctx, subs)
	if err != nil {
		return err
	}

	for _, sub := range batch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.cfg.TimeBudget > 0 && c.now().After(deadline) {
			c.log.Warn("Cycle time budget exceeded, aborting remainder")
			break
		}
		// Each subscription is its own error boundary: one failing
		// subscription never aborts the others.
		if err := c.processSubscription(ctx, sub); err != nil {
			c.log.WithFields(logger.Fields{
				logger.FieldSubscription: sub.ID,
			}).WithError(err).Error("Subscription processing failed")
		}
	}
	return nil
}

// rotateSubset picks the next SubsPerCycle subscriptions, persisting the
// rotation offset so consecutive cycles cover the whole set.
func (c *Coordinator) rotateSubset(ctx context.Context, subs []domain.Subscription) ([]domain.Subscription, error) {
	n := c.cfg.SubsPerCycle
	if n <= 0 || n >= len(subs) {
		return subs, nil
	}

	var rot rotationValue
	if err := c.kv.GetJSON(ctx, rotationKey, &rot); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("read rotation offset: %w", err)
	}

	start := rot.Offset % len(subs)
	batch := make([]domain.Subscription, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, subs[(start+i)%len(subs)])
	}

	rot.Offset = (start + n) % len(subs)
	if err := c.kv.SetJSON(ctx, rotationKey, rot); err != nil {
		return nil, fmt.Errorf("write rotation offset: %w", err)
	}
	return batch, nil
}

func (c *Coordinator) processSubscription(ctx context.Context, sub domain.Subscription) error {
	budget := c.cfg.PerSubQuota
	if budget <= 0 {
		return nil
	}

	local, err := c.index.ScanLocalIndex(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("scan local index: %w", err)
	}
	failures, err := c.failures.GetAll(ctx, sub.ID)
	if err != nil {
		return err
	}

	// Step 1: bounded backfill of previously temporarily-failed items. Pop
	// no more than the remaining quota so entries this cycle cannot enqueue
	// stay in the persisted queue for the next one.
	backfillN := c.cfg.BackfillPerCycle
	if backfillN > budget {
		backfillN = budget
	}
	backfill, err := c.failures.PopBackfill(ctx, sub.ID, backfillN)
	if err != nil {
		return err
	}
	for _, itemID := range backfill {
		if rec, ok := failures[itemID]; ok && rec.Class == domain.FailurePermanent {
			continue
		}
		if _, ok := local[itemID]; ok {
			continue
		}
		c.enqueueItem(sub, itemID)
		budget--
	}
	if budget <= 0 {
		return nil
	}

	// Step 2: candidate discovery, incremental or full fallback.
	candidates, err := c.discoverCandidates(ctx, sub, budget)
	if err != nil {
		return err
	}

	// Steps 3-4: filter and enqueue under the remaining quota.
	enqueued := 0
	for _, itemID := range candidates {
		if budget <= 0 {
			break
		}
		if _, ok := local[itemID]; ok {
			continue
		}
		if rec, ok := failures[itemID]; ok && rec.Class == domain.FailurePermanent {
			continue
		}
		if enqueued > 0 && c.cfg.EnqueueDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.EnqueueDelay):
			}
		}
		c.enqueueItem(sub, itemID)
		budget--
		enqueued++
	}

	if enqueued > 0 {
		c.log.WithFields(logger.Fields{
			logger.FieldSubscription: sub.ID,
			logger.FieldCount:        enqueued,
		}).Info("Enqueued media fetches")
	}
	return nil
}

// discoverCandidates pulls incremental IDs when enabled, falling back to the
// full pending-list computation on disablement, an empty snapshot, or error.
func (c *Coordinator) discoverCandidates(ctx context.Context, sub domain.Subscription, limit int) ([]string, error) {
	if sub.IncrementalEnabled(c.cfg.IncrementalDefault) {
		res, err := c.inc.GetIncrementalIDs(ctx, sub.ID, limit)
		if err != nil {
			c.log.WithFields(logger.Fields{
				logger.FieldSubscription: sub.ID,
			}).WithError(err).Warn("Incremental read failed, falling back to full listing")
		} else if res.Source != syncer.SourceNone {
			return res.IDs, nil
		}
	}

	pl, err := c.pending.ComputePendingList(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("compute pending list: %w", err)
	}
	ids := make([]string, 0, len(pl.Items))
	for _, item := range pl.Items {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

func (c *Coordinator) enqueueItem(sub domain.Subscription, itemID string) {
	subID := sub.ID
	c.q.Enqueue(queue.EnqueueRequest{
		Kind:               queue.KindMediaFetch,
		SubscriptionID:     &subID,
		ItemID:             itemID,
		RequiresCredential: sub.RequiresAuth,
		DedupKey:           queue.ItemDedupKey(queue.KindMediaFetch, sub.ID, itemID),
	})
}
