package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vidkeep/vidkeep/internal/credpool"
	"github.com/vidkeep/vidkeep/internal/domain"
	"github.com/vidkeep/vidkeep/internal/fetcher"
	"github.com/vidkeep/vidkeep/internal/logger"
	"github.com/vidkeep/vidkeep/internal/queue"
)

// ItemFetcher executes a single media-fetch once the job is admitted.
type ItemFetcher interface {
	FetchItem(ctx context.Context, subscriptionID uint, itemID string, cred *domain.Credential) (*domain.MediaItem, error)
}

// SnapshotRefresher executes list-fetch jobs; implemented by the sync service.
type SnapshotRefresher interface {
	RefreshSnapshot(ctx context.Context, subID uint, maxIDs int, keepCursor bool, cred *domain.Credential) error
}

// MetadataProber executes metadata-probe jobs.
type MetadataProber interface {
	ProbeItem(ctx context.Context, itemID string) error
}

// CredentialSource selects and accounts credentials for credentialed jobs.
type CredentialSource interface {
	GetAvailable(ctx context.Context) (*domain.Credential, error)
	RecordFailure(ctx context.Context, id uint, reason string) error
	RecordSuccess(ctx context.Context, id uint) error
}

// MediaWriter records completed fetches into the local index.
type MediaWriter interface {
	Upsert(ctx context.Context, item *domain.MediaItem) error
}

// RunnerConfig tunes the job execution loop.
type RunnerConfig struct {
	// PollInterval is how often the backlog is scanned for new work.
	PollInterval time.Duration
	// SnapshotCap bounds refreshed head snapshots.
	SnapshotCap int
}

// Runner drains the queue backlog: it claims queued jobs, waits for channel
// admission, executes by kind, and feeds results back into the failure
// records and credential counters.
type Runner struct {
	q        *queue.Queue
	fetch    ItemFetcher
	snap     SnapshotRefresher
	probe    MetadataProber
	creds    CredentialSource
	media    MediaWriter
	failures *FailureStore
	cfg      RunnerConfig
	log      *logger.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewRunner wires the runner to its collaborators.
func NewRunner(
	q *queue.Queue,
	fetch ItemFetcher,
	snap SnapshotRefresher,
	probe MetadataProber,
	creds CredentialSource,
	media MediaWriter,
	failures *FailureStore,
	cfg RunnerConfig,
	log *logger.Logger,
) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Runner{
		q:        q,
		fetch:    fetch,
		snap:     snap,
		probe:    probe,
		creds:    creds,
		media:    media,
		failures: failures,
		cfg:      cfg,
		log:      log.WithField(logger.FieldComponent, "runner"),
		inflight: make(map[string]struct{}),
	}
}

// Run scans the backlog until ctx is done, then waits for in-flight jobs.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return
		case <-ticker.C:
			r.dispatch(ctx)
		}
	}
}

func (r *Runner) dispatch(ctx context.Context) {
	for _, job := range r.q.Backlog() {
		if !r.claim(job.ID) {
			continue
		}
		r.wg.Add(1)
		go func(job queue.Job) {
			defer r.wg.Done()
			defer r.release(job.ID)
			r.execute(ctx, job)
		}(job)
	}
}

func (r *Runner) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inflight[id]; ok {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

func (r *Runner) execute(ctx context.Context, job queue.Job) {
	ctx = logger.SetJobID(ctx, job.ID)

	// Select a credential before taking a slot: with none available the job
	// stays queued and is deferred to a later scan, not failed.
	var cred *domain.Credential
	if job.RequiresCredential {
		var err error
		cred, err = r.creds.GetAvailable(ctx)
		if errors.Is(err, credpool.ErrNoCredential) {
			logger.CtxDebug(ctx, "No credential available, deferring job")
			return
		}
		if err != nil {
			logger.CtxError(ctx, "Credential selection failed: %v", err)
			return
		}
	}

	if err := r.q.MarkRunning(ctx, job.ID); err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.CtxWarn(ctx, "Admission failed: %v", err)
		}
		return
	}
	// MarkRunning returns cleanly for jobs canceled while waiting.
	current, ok := r.q.Get(job.ID)
	if !ok || current.State != queue.StateRunning {
		return
	}

	err := r.perform(ctx, job, cred)
	if err == nil {
		if markErr := r.q.MarkDone(job.ID); markErr != nil {
			logger.CtxWarn(ctx, "MarkDone failed: %v", markErr)
		}
		if cred != nil {
			_ = r.creds.RecordSuccess(ctx, cred.ID)
		}
		return
	}

	if markErr := r.q.MarkFailed(job.ID, err.Error()); markErr != nil {
		logger.CtxWarn(ctx, "MarkFailed failed: %v", markErr)
	}
	r.recordFailure(ctx, job, cred, err)
}

func (r *Runner) perform(ctx context.Context, job queue.Job, cred *domain.Credential) error {
	switch job.Kind {
	case queue.KindMediaFetch:
		if job.SubscriptionID == nil {
			return errors.New("media fetch without subscription")
		}
		item, err := r.fetch.FetchItem(ctx, *job.SubscriptionID, job.ItemID, cred)
		if err != nil {
			return err
		}
		return r.media.Upsert(ctx, item)
	case queue.KindListFetch:
		if job.SubscriptionID == nil {
			return errors.New("list fetch without subscription")
		}
		return r.snap.RefreshSnapshot(ctx, *job.SubscriptionID, r.cfg.SnapshotCap, false, cred)
	case queue.KindMetadataProbe:
		return r.probe.ProbeItem(ctx, job.ItemID)
	default:
		return errors.New("unknown job kind: " + string(job.Kind))
	}
}

func (r *Runner) recordFailure(ctx context.Context, job queue.Job, cred *domain.Credential, err error) {
	if cred != nil && fetcher.IsAuthFailure(err) {
		_ = r.creds.RecordFailure(ctx, cred.ID, err.Error())
	}

	if job.Kind != queue.KindMediaFetch || job.SubscriptionID == nil || job.ItemID == "" {
		return
	}
	class := domain.FailureTemporary
	if fetcher.IsPermanentFailure(err) {
		class = domain.FailurePermanent
	}
	if recErr := r.failures.Record(ctx, *job.SubscriptionID, job.ItemID, class, err.Error()); recErr != nil {
		logger.CtxError(ctx, "Failed to record item failure: %v", recErr)
	}
}
