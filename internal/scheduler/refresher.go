package scheduler

import (
	"context"
	"time"

	"github.com/vidkeep/vidkeep/internal/logger"
	"github.com/vidkeep/vidkeep/internal/queue"
)

// Refresher enqueues one list-fetch job per enabled subscription on a low
// frequency. Snapshot refreshes are the only remote listings, so this loop
// runs far less often than the coordinator; dedup collapses overlapping
// enqueues while a previous refresh is still pending.
type Refresher struct {
	q        *queue.Queue
	subs     SubscriptionSource
	interval time.Duration
	log      *logger.Logger
}

// NewRefresher creates the snapshot refresh loop.
func NewRefresher(q *queue.Queue, subs SubscriptionSource, interval time.Duration, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Refresher{
		q:        q,
		subs:     subs,
		interval: interval,
		log:      log.WithField(logger.FieldComponent, "refresher"),
	}
}

// Run enqueues refresh jobs on the configured interval until ctx is done.
// One pass runs immediately so fresh deployments get snapshots without
// waiting a full interval.
func (r *Refresher) Run(ctx context.Context) {
	r.EnqueueAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EnqueueAll(ctx)
		}
	}
}

// EnqueueAll enqueues a list-fetch job for every enabled subscription.
func (r *Refresher) EnqueueAll(ctx context.Context) {
	subs, err := r.subs.ListEnabled(ctx)
	if err != nil {
		r.log.WithError(err).Error("Failed to list subscriptions for refresh")
		return
	}
	for _, sub := range subs {
		subID := sub.ID
		r.q.Enqueue(queue.EnqueueRequest{
			Kind:               queue.KindListFetch,
			SubscriptionID:     &subID,
			RequiresCredential: sub.RequiresAuth,
		})
	}
	if len(subs) > 0 {
		r.log.WithField(logger.FieldCount, len(subs)).Debug("Refresh jobs enqueued")
	}
}
