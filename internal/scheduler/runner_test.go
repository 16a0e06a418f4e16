package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vidkeep/vidkeep/internal/credpool"
	"github.com/vidkeep/vidkeep/internal/domain"
	"github.com/vidkeep/vidkeep/internal/fetcher"
	"github.com/vidkeep/vidkeep/internal/queue"
)

type fakeFetcher struct {
	err     error
	fetched []string
}

func (f *fakeFetcher) FetchItem(ctx context.Context, subscriptionID uint, itemID string, cred *domain.Credential) (*domain.MediaItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.fetched = append(f.fetched, itemID)
	return &domain.MediaItem{SubscriptionID: subscriptionID, ItemID: itemID}, nil
}

type fakeRefresher struct {
	refreshed []uint
	maxIDs    int
	lastCred  *domain.Credential
}

func (f *fakeRefresher) RefreshSnapshot(ctx context.Context, subID uint, maxIDs int, keepCursor bool, cred *domain.Credential) error {
	f.refreshed = append(f.refreshed, subID)
	f.maxIDs = maxIDs
	f.lastCred = cred
	return nil
}

type fakeProber struct {
	probed []string
}

func (f *fakeProber) ProbeItem(ctx context.Context, itemID string) error {
	f.probed = append(f.probed, itemID)
	return nil
}

type fakeCreds struct {
	mu        sync.Mutex
	cred      *domain.Credential
	failures  []string
	successes []uint
}

func (f *fakeCreds) GetAvailable(ctx context.Context) (*domain.Credential, error) {
	if f.cred == nil {
		return nil, credpool.ErrNoCredential
	}
	return f.cred, nil
}

func (f *fakeCreds) RecordFailure(ctx context.Context, id uint, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, reason)
	return nil
}

func (f *fakeCreds) RecordSuccess(ctx context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, id)
	return nil
}

type fakeMedia struct {
	items []*domain.MediaItem
}

func (f *fakeMedia) Upsert(ctx context.Context, item *domain.MediaItem) error {
	f.items = append(f.items, item)
	return nil
}

type runnerFixture struct {
	q      *queue.Queue
	fetch  *fakeFetcher
	snap   *fakeRefresher
	probe  *fakeProber
	creds  *fakeCreds
	media  *fakeMedia
	store  *FailureStore
	runner *Runner
}

func newRunnerFixture() *runnerFixture {
	f := &runnerFixture{
		q:     queue.New(queue.Config{CredentialedCap: 2, AnonymousCap: 2, PollInterval: time.Millisecond}, nil),
		fetch: &fakeFetcher{},
		snap:  &fakeRefresher{},
		probe: &fakeProber{},
		creds: &fakeCreds{},
		media: &fakeMedia{},
		store: NewFailureStore(newFakeKV()),
	}
	f.runner = NewRunner(f.q, f.fetch, f.snap, f.probe, f.creds, f.media, f.store,
		RunnerConfig{SnapshotCap: 200}, nil)
	return f
}

func (f *runnerFixture) executeNext(t *testing.T) queue.Job {
	t.Helper()
	backlog := f.q.Backlog()
	if len(backlog) == 0 {
		t.Fatal("backlog is empty")
	}
	job := backlog[0]
	f.runner.execute(context.Background(), job)
	updated, _ := f.q.Get(job.ID)
	return updated
}

func TestExecute_MediaFetchSuccess(t *testing.T) {
	f := newRunnerFixture()
	subID := uint(1)
	f.q.Enqueue(queue.EnqueueRequest{
		Kind:           queue.KindMediaFetch,
		SubscriptionID: &subID,
		ItemID:         "vid1",
	})

	job := f.executeNext(t)
	if job.State != queue.StateDone {
		t.Errorf("expected done, got %s (%s)", job.State, job.LastError)
	}
	if len(f.media.items) != 1 || f.media.items[0].ItemID != "vid1" {
		t.Errorf("expected item persisted, got %v", f.media.items)
	}
}

func TestExecute_CredentialedSuccessResetsFailures(t *testing.T) {
	f := newRunnerFixture()
	f.creds.cred = &domain.Credential{ID: 9, Active: true}
	subID := uint(1)
	f.q.Enqueue(queue.EnqueueRequest{
		Kind:               queue.KindMediaFetch,
		SubscriptionID:     &subID,
		ItemID:             "vid1",
		RequiresCredential: true,
	})

	job := f.executeNext(t)
	if job.State != queue.StateDone {
		t.Fatalf("expected done, got %s", job.State)
	}
	if len(f.creds.successes) != 1 || f.creds.successes[0] != 9 {
		t.Errorf("expected success recorded for credential 9, got %v", f.creds.successes)
	}
}

func TestExecute_NoCredentialDefersJob(t *testing.T) {
	f := newRunnerFixture()
	subID := uint(1)
	id := f.q.Enqueue(queue.EnqueueRequest{
		Kind:               queue.KindMediaFetch,
		SubscriptionID:     &subID,
		ItemID:             "vid1",
		RequiresCredential: true,
	})

	job := f.executeNext(t)
	if job.State != queue.StateQueued {
		t.Errorf("expected job deferred in queued state, got %s", job.State)
	}
	if len(f.fetch.fetched) != 0 {
		t.Error("expected no fetch attempt without a credential")
	}

	// Once a credential appears the same job runs.
	f.creds.cred = &domain.Credential{ID: 1, Active: true}
	f.runner.execute(context.Background(), job)
	updated, _ := f.q.Get(id)
	if updated.State != queue.StateDone {
		t.Errorf("expected done after credential appeared, got %s", updated.State)
	}
}

func TestExecute_AuthFailureFeedsCredentialPool(t *testing.T) {
	f := newRunnerFixture()
	f.creds.cred = &domain.Credential{ID: 2, Active: true}
	f.fetch.err = &fetcher.ToolError{Err: errors.New("exit status 1"), Stderr: "HTTP Error 403: Forbidden"}
	subID := uint(1)
	f.q.Enqueue(queue.EnqueueRequest{
		Kind:               queue.KindMediaFetch,
		SubscriptionID:     &subID,
		ItemID:             "vid1",
		RequiresCredential: true,
	})

	job := f.executeNext(t)
	if job.State != queue.StateFailed {
		t.Fatalf("expected failed, got %s", job.State)
	}
	if len(f.creds.failures) != 1 {
		t.Errorf("expected credential failure recorded, got %v", f.creds.failures)
	}

	// An auth failure is still temporary for the item itself.
	records, _ := f.store.GetAll(context.Background(), 1)
	if records["vid1"].Class != domain.FailureTemporary {
		t.Errorf("expected temporary item failure, got %+v", records["vid1"])
	}
}

func TestExecute_PermanentFailureRecorded(t *testing.T) {
	f := newRunnerFixture()
	f.fetch.err = &fetcher.ToolError{Err: errors.New("exit status 1"), Stderr: "ERROR: Video unavailable"}
	subID := uint(1)
	f.q.Enqueue(queue.EnqueueRequest{
		Kind:           queue.KindMediaFetch,
		SubscriptionID: &subID,
		ItemID:         "vid1",
	})

	job := f.executeNext(t)
	if job.State != queue.StateFailed {
		t.Fatalf("expected failed, got %s", job.State)
	}

	ctx := context.Background()
	records, _ := f.store.GetAll(ctx, 1)
	if records["vid1"].Class != domain.FailurePermanent {
		t.Errorf("expected permanent failure record, got %+v", records["vid1"])
	}
	// Permanent failures never enter the backfill queue.
	ids, _ := f.store.PopBackfill(ctx, 1, 10)
	if len(ids) != 0 {
		t.Errorf("expected empty backfill, got %v", ids)
	}
}

func TestExecute_ListFetchRefreshesSnapshot(t *testing.T) {
	f := newRunnerFixture()
	subID := uint(3)
	f.q.Enqueue(queue.EnqueueRequest{
		Kind:           queue.KindListFetch,
		SubscriptionID: &subID,
	})

	job := f.executeNext(t)
	if job.State != queue.StateDone {
		t.Fatalf("expected done, got %s (%s)", job.State, job.LastError)
	}
	if len(f.snap.refreshed) != 1 || f.snap.refreshed[0] != 3 {
		t.Errorf("expected snapshot refresh for subscription 3, got %v", f.snap.refreshed)
	}
	if f.snap.maxIDs != 200 {
		t.Errorf("expected snapshot cap forwarded, got %d", f.snap.maxIDs)
	}
	if f.snap.lastCred != nil {
		t.Errorf("expected anonymous refresh, got credential %+v", f.snap.lastCred)
	}
}

func TestExecute_CredentialedListFetchPassesCredential(t *testing.T) {
	f := newRunnerFixture()
	f.creds.cred = &domain.Credential{ID: 5, Active: true, CookiesPath: "/data/cookies/acct5.txt"}
	subID := uint(3)
	f.q.Enqueue(queue.EnqueueRequest{
		Kind:               queue.KindListFetch,
		SubscriptionID:     &subID,
		RequiresCredential: true,
	})

	job := f.executeNext(t)
	if job.State != queue.StateDone {
		t.Fatalf("expected done, got %s (%s)", job.State, job.LastError)
	}
	// The credential charged with the run is the one the listing used.
	if f.snap.lastCred == nil || f.snap.lastCred.ID != 5 {
		t.Errorf("expected credential 5 passed to refresh, got %+v", f.snap.lastCred)
	}
	if len(f.creds.successes) != 1 || f.creds.successes[0] != 5 {
		t.Errorf("expected success recorded for credential 5, got %v", f.creds.successes)
	}
}

func TestExecute_MetadataProbe(t *testing.T) {
	f := newRunnerFixture()
	f.q.Enqueue(queue.EnqueueRequest{
		Kind:   queue.KindMetadataProbe,
		ItemID: "vid9",
	})

	job := f.executeNext(t)
	if job.State != queue.StateDone {
		t.Fatalf("expected done, got %s", job.State)
	}
	if len(f.probe.probed) != 1 || f.probe.probed[0] != "vid9" {
		t.Errorf("expected probe for vid9, got %v", f.probe.probed)
	}
}

func TestExecute_CanceledWhileQueuedDoesNoWork(t *testing.T) {
	f := newRunnerFixture()
	subID := uint(1)
	id := f.q.Enqueue(queue.EnqueueRequest{
		Kind:           queue.KindMediaFetch,
		SubscriptionID: &subID,
		ItemID:         "vid1",
	})
	job, _ := f.q.Get(id)

	if err := f.q.Cancel(id, "operator"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	f.runner.execute(context.Background(), job)

	if len(f.fetch.fetched) != 0 {
		t.Error("expected no work for canceled job")
	}
	final, _ := f.q.Get(id)
	if final.State != queue.StateCanceled {
		t.Errorf("expected canceled, got %s", final.State)
	}
}
