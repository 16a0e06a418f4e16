package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/vidkeep/vidkeep/internal/domain"
	"github.com/vidkeep/vidkeep/internal/queue"
)

func TestEnqueueAll_OneListFetchPerSubscription(t *testing.T) {
	q := queue.New(queue.Config{CredentialedCap: 1, AnonymousCap: 1, PollInterval: time.Millisecond}, nil)
	subs := &fakeSubs{subs: []domain.Subscription{
		{ID: 1, Enabled: true},
		{ID: 2, Enabled: true, RequiresAuth: true},
	}}
	r := NewRefresher(q, subs, time.Hour, nil)
	ctx := context.Background()

	r.EnqueueAll(ctx)

	backlog := q.Backlog()
	if len(backlog) != 2 {
		t.Fatalf("expected 2 list-fetch jobs, got %d", len(backlog))
	}
	for _, job := range backlog {
		if job.Kind != queue.KindListFetch {
			t.Errorf("expected list_fetch, got %s", job.Kind)
		}
		if job.SubscriptionID != nil && *job.SubscriptionID == 2 && !job.RequiresCredential {
			t.Error("expected auth-requiring subscription on the credentialed channel")
		}
	}

	// Re-running while the previous jobs are still queued dedups.
	r.EnqueueAll(ctx)
	if got := len(q.Backlog()); got != 2 {
		t.Errorf("expected dedup to collapse repeat enqueues, got %d", got)
	}
}
