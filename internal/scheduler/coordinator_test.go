package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vidkeep/vidkeep/internal/domain"
	"github.com/vidkeep/vidkeep/internal/queue"
	"github.com/vidkeep/vidkeep/internal/syncer"
)

type fakeSubs struct {
	subs []domain.Subscription
}

func (f *fakeSubs) ListEnabled(ctx context.Context) ([]domain.Subscription, error) {
	return f.subs, nil
}

type fakeIndex struct {
	local map[uint]map[string]struct{}
}

func (f *fakeIndex) ScanLocalIndex(ctx context.Context, subscriptionID uint) (map[string]struct{}, error) {
	if m, ok := f.local[subscriptionID]; ok {
		return m, nil
	}
	return map[string]struct{}{}, nil
}

type fakeIncremental struct {
	results map[uint]syncer.IncrementalResult
	err     error
}

func (f *fakeIncremental) GetIncrementalIDs(ctx context.Context, subID uint, limit int) (syncer.IncrementalResult, error) {
	if f.err != nil {
		return syncer.IncrementalResult{}, f.err
	}
	res := f.results[subID]
	if len(res.IDs) > limit {
		res.IDs = res.IDs[:limit]
	}
	return res, nil
}

type fakePending struct {
	items map[uint][]string
	calls int
}

func (f *fakePending) ComputePendingList(ctx context.Context, sub domain.Subscription) (*domain.PendingList, error) {
	f.calls++
	var items []domain.RemoteItem
	for _, id := range f.items[sub.ID] {
		items = append(items, domain.RemoteItem{ID: id})
	}
	return &domain.PendingList{Pending: len(items), Items: items}, nil
}

func testCoordinator(kv KV, subs *fakeSubs, index *fakeIndex, inc *fakeIncremental, pending *fakePending, cfg CoordinatorConfig) (*Coordinator, *queue.Queue) {
	if cfg.PerSubQuota == 0 {
		cfg.PerSubQuota = 5
	}
	if cfg.LockStaleness == 0 {
		cfg.LockStaleness = 10 * time.Minute
	}
	cfg.IncrementalDefault = true
	q := queue.New(queue.Config{CredentialedCap: 4, AnonymousCap: 4, PollInterval: time.Millisecond}, nil)
	c := NewCoordinator(q, inc, subs, index, pending, NewFailureStore(kv), kv, cfg, nil)
	return c, q
}

func backlogItems(q *queue.Queue) []string {
	var ids []string
	for _, job := range q.Backlog() {
		ids = append(ids, job.ItemID)
	}
	return ids
}

func TestRunCycle_EnqueuesIncrementalCandidates(t *testing.T) {
	kv := newFakeKV()
	subs := &fakeSubs{subs: []domain.Subscription{{ID: 1, Enabled: true, RequiresAuth: true}}}
	inc := &fakeIncremental{results: map[uint]syncer.IncrementalResult{
		1: {IDs: []string{"a", "b", "c"}, Source: syncer.SourceSnapshot},
	}}
	pending := &fakePending{}
	c, q := testCoordinator(kv, subs, &fakeIndex{}, inc, pending, CoordinatorConfig{})

	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	backlog := q.Backlog()
	if len(backlog) != 3 {
		t.Fatalf("expected 3 enqueued jobs, got %d", len(backlog))
	}
	for _, job := range backlog {
		if job.Kind != queue.KindMediaFetch {
			t.Errorf("expected media fetch job, got %s", job.Kind)
		}
		if !job.RequiresCredential {
			t.Error("expected credentialed job for auth-requiring subscription")
		}
	}
	if pending.calls != 0 {
		t.Errorf("incremental path must not hit the full listing, got %d calls", pending.calls)
	}
}

func TestRunCycle_FallsBackToFullListing(t *testing.T) {
	kv := newFakeKV()
	subs := &fakeSubs{subs: []domain.Subscription{{ID: 1, Enabled: true}}}
	inc := &fakeIncremental{results: map[uint]syncer.IncrementalResult{
		1: {Source: syncer.SourceNone},
	}}
	pending := &fakePending{items: map[uint][]string{1: {"x", "y"}}}
	c, q := testCoordinator(kv, subs, &fakeIndex{}, inc, pending, CoordinatorConfig{})

	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if got := backlogItems(q); len(got) != 2 {
		t.Errorf("expected 2 jobs from full listing, got %v", got)
	}
	if pending.calls != 1 {
		t.Errorf("expected one pending-list call, got %d", pending.calls)
	}
}

func TestRunCycle_IncrementalErrorFallsBack(t *testing.T) {
	kv := newFakeKV()
	subs := &fakeSubs{subs: []domain.Subscription{{ID: 1, Enabled: true}}}
	inc := &fakeIncremental{err: errors.New("kv corrupted")}
	pending := &fakePending{items: map[uint][]string{1: {"x"}}}
	c, q := testCoordinator(kv, subs, &fakeIndex{}, inc, pending, CoordinatorConfig{})

	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if got := backlogItems(q); len(got) != 1 {
		t.Errorf("expected fallback enqueue, got %v", got)
	}
}

func TestRunCycle_SkipsLocalAndPermanentlyFailed(t *testing.T) {
	kv := newFakeKV()
	failures := NewFailureStore(kv)
	ctx := context.Background()
	if err := failures.Record(ctx, 1, "dead", domain.FailurePermanent, "video unavailable"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	subs := &fakeSubs{subs: []domain.Subscription{{ID: 1, Enabled: true}}}
	index := &fakeIndex{local: map[uint]map[string]struct{}{
		1: {"have": {}},
	}}
	inc := &fakeIncremental{results: map[uint]syncer.IncrementalResult{
		1: {IDs: []string{"have", "dead", "want"}, Source: syncer.SourceSnapshot},
	}}
	c, q := testCoordinator(kv, subs, index, inc, &fakePending{}, CoordinatorConfig{})

	if err := c.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	got := backlogItems(q)
	if len(got) != 1 || got[0] != "want" {
		t.Errorf("expected only [want] enqueued, got %v", got)
	}
}

func TestRunCycle_PerSubQuotaSharedWithBackfill(t *testing.T) {
	kv := newFakeKV()
	failures := NewFailureStore(kv)
	ctx := context.Background()
	failures.Record(ctx, 1, "retry1", domain.FailureTemporary, "timeout")
	failures.Record(ctx, 1, "retry2", domain.FailureTemporary, "timeout")

	subs := &fakeSubs{subs: []domain.Subscription{{ID: 1, Enabled: true}}}
	inc := &fakeIncremental{results: map[uint]syncer.IncrementalResult{
		1: {IDs: []string{"f1", "f2", "f3"}, Source: syncer.SourceSnapshot},
	}}
	c, q := testCoordinator(kv, subs, &fakeIndex{}, inc, &fakePending{}, CoordinatorConfig{
		PerSubQuota:      3,
		BackfillPerCycle: 2,
	})

	if err := c.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	got := backlogItems(q)
	if len(got) != 3 {
		t.Fatalf("expected quota of 3 enqueues, got %v", got)
	}
	// Backfill re-attempts run first, most recent failure first.
	if got[0] != "retry2" || got[1] != "retry1" {
		t.Errorf("expected backfill [retry2 retry1] first, got %v", got)
	}
}

func TestRunCycle_BackfillBeyondQuotaStaysQueued(t *testing.T) {
	kv := newFakeKV()
	failures := NewFailureStore(kv)
	ctx := context.Background()
	failures.Record(ctx, 1, "retry1", domain.FailureTemporary, "timeout")
	failures.Record(ctx, 1, "retry2", domain.FailureTemporary, "timeout")
	failures.Record(ctx, 1, "retry3", domain.FailureTemporary, "timeout")

	subs := &fakeSubs{subs: []domain.Subscription{{ID: 1, Enabled: true}}}
	inc := &fakeIncremental{results: map[uint]syncer.IncrementalResult{
		1: {Source: syncer.SourceSnapshot},
	}}
	c, q := testCoordinator(kv, subs, &fakeIndex{}, inc, &fakePending{}, CoordinatorConfig{
		PerSubQuota:      1,
		BackfillPerCycle: 3,
	})

	if err := c.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	got := backlogItems(q)
	if len(got) != 1 || got[0] != "retry3" {
		t.Fatalf("expected only [retry3] enqueued under quota 1, got %v", got)
	}
	// The re-attempts the quota could not fit stay queued for later cycles.
	remaining, err := failures.PopBackfill(ctx, 1, 10)
	if err != nil {
		t.Fatalf("PopBackfill: %v", err)
	}
	if len(remaining) != 2 || remaining[0] != "retry2" || remaining[1] != "retry1" {
		t.Errorf("expected [retry2 retry1] retained, got %v", remaining)
	}
}

func TestRunCycle_SkipsWhenLockHeld(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()
	if err := kv.SetJSON(ctx, lockKey, lockValue{StartedAt: time.Now()}); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	subs := &fakeSubs{subs: []domain.Subscription{{ID: 1, Enabled: true}}}
	inc := &fakeIncremental{results: map[uint]syncer.IncrementalResult{
		1: {IDs: []string{"a"}, Source: syncer.SourceSnapshot},
	}}
	c, q := testCoordinator(kv, subs, &fakeIndex{}, inc, &fakePending{}, CoordinatorConfig{})

	if err := c.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if got := backlogItems(q); len(got) != 0 {
		t.Errorf("expected cycle skipped under held lock, got %v", got)
	}
}

func TestRunCycle_TakesOverStaleLockAndReleases(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()
	// A lock from a crashed run, older than the staleness threshold.
	if err := kv.SetJSON(ctx, lockKey, lockValue{StartedAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	subs := &fakeSubs{subs: []domain.Subscription{{ID: 1, Enabled: true}}}
	inc := &fakeIncremental{results: map[uint]syncer.IncrementalResult{
		1: {IDs: []string{"a"}, Source: syncer.SourceSnapshot},
	}}
	c, q := testCoordinator(kv, subs, &fakeIndex{}, inc, &fakePending{}, CoordinatorConfig{})

	if err := c.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if got := backlogItems(q); len(got) != 1 {
		t.Errorf("expected stale lock takeover, got %v", got)
	}
	if _, held := kv.data[lockKey]; held {
		t.Error("expected lock released after the cycle")
	}
}

func TestRunCycle_RotatesSubscriptionSubset(t *testing.T) {
	kv := newFakeKV()
	subs := &fakeSubs{subs: []domain.Subscription{
		{ID: 1, Enabled: true},
		{ID: 2, Enabled: true},
		{ID: 3, Enabled: true},
	}}
	inc := &fakeIncremental{results: map[uint]syncer.IncrementalResult{
		1: {IDs: []string{"s1"}, Source: syncer.SourceSnapshot},
		2: {IDs: []string{"s2"}, Source: syncer.SourceSnapshot},
		3: {IDs: []string{"s3"}, Source: syncer.SourceSnapshot},
	}}
	c, q := testCoordinator(kv, subs, &fakeIndex{}, inc, &fakePending{}, CoordinatorConfig{
		SubsPerCycle: 2,
	})
	ctx := context.Background()

	if err := c.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if got := backlogItems(q); len(got) != 2 {
		t.Fatalf("expected first cycle to cover 2 subscriptions, got %v", got)
	}

	// The next cycle wraps around and picks up the remaining subscription.
	if err := c.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	seen := map[string]bool{}
	for _, id := range backlogItems(q) {
		seen[id] = true
	}
	if !seen["s1"] || !seen["s2"] || !seen["s3"] {
		t.Errorf("expected rotation to cover all subscriptions, got %v", seen)
	}
}

func TestRunCycle_IncrementalDisabledUsesFullListing(t *testing.T) {
	kv := newFakeKV()
	off := false
	subs := &fakeSubs{subs: []domain.Subscription{{ID: 1, Enabled: true, Incremental: &off}}}
	inc := &fakeIncremental{results: map[uint]syncer.IncrementalResult{
		1: {IDs: []string{"inc"}, Source: syncer.SourceSnapshot},
	}}
	pending := &fakePending{items: map[uint][]string{1: {"full"}}}
	c, q := testCoordinator(kv, subs, &fakeIndex{}, inc, pending, CoordinatorConfig{})

	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	got := backlogItems(q)
	if len(got) != 1 || got[0] != "full" {
		t.Errorf("expected full-listing candidate for opted-out subscription, got %v", got)
	}
}
