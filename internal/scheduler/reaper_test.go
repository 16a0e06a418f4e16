package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/vidkeep/vidkeep/internal/queue"
)

func startJob(t *testing.T, q *queue.Queue, kind queue.Kind, dedup string) string {
	t.Helper()
	id := q.Enqueue(queue.EnqueueRequest{Kind: kind, DedupKey: dedup})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.MarkRunning(ctx, id); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	return id
}

func TestSweep_FailsStuckJobs(t *testing.T) {
	q := queue.New(queue.Config{AnonymousCap: 4, PollInterval: time.Millisecond}, nil)
	r := NewReaper(q, ReaperConfig{Threshold: 30 * time.Minute}, nil)

	stuck := startJob(t, q, queue.KindListFetch, "stuck")

	// From the reaper's point of view the job has been running for an hour.
	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	if reaped := r.Sweep(); reaped != 1 {
		t.Fatalf("expected 1 reaped job, got %d", reaped)
	}

	job, _ := q.Get(stuck)
	if job.State != queue.StateFailed {
		t.Errorf("expected failed state, got %s", job.State)
	}
	if job.LastError != ZombieReason {
		t.Errorf("expected reason %q, got %q", ZombieReason, job.LastError)
	}

	// A second sweep finds nothing: terminal jobs are never re-reaped.
	if reaped := r.Sweep(); reaped != 0 {
		t.Errorf("expected idempotent sweep, got %d", reaped)
	}
}

func TestSweep_ReclaimsChannelSlot(t *testing.T) {
	q := queue.New(queue.Config{AnonymousCap: 1, PollInterval: time.Millisecond}, nil)
	r := NewReaper(q, ReaperConfig{Threshold: 30 * time.Minute}, nil)

	startJob(t, q, queue.KindListFetch, "stuck")
	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	if got := r.Sweep(); got != 1 {
		t.Fatalf("expected 1 reaped job, got %d", got)
	}

	// The reclaimed slot admits the next job.
	startJob(t, q, queue.KindListFetch, "next")
}

func TestSweep_RespectsTargetKind(t *testing.T) {
	q := queue.New(queue.Config{AnonymousCap: 4, PollInterval: time.Millisecond}, nil)
	r := NewReaper(q, ReaperConfig{Threshold: time.Minute, TargetKind: queue.KindListFetch}, nil)

	listJob := startJob(t, q, queue.KindListFetch, "list")
	mediaJob := startJob(t, q, queue.KindMediaFetch, "media")

	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	if got := r.Sweep(); got != 1 {
		t.Fatalf("expected only the targeted kind reaped, got %d", got)
	}

	if job, _ := q.Get(listJob); job.State != queue.StateFailed {
		t.Errorf("expected list job reaped, got %s", job.State)
	}
	if job, _ := q.Get(mediaJob); job.State != queue.StateRunning {
		t.Errorf("expected media job untouched, got %s", job.State)
	}
}

func TestSweep_IgnoresNonRunningAndYoungJobs(t *testing.T) {
	q := queue.New(queue.Config{AnonymousCap: 4, PollInterval: time.Millisecond}, nil)
	r := NewReaper(q, ReaperConfig{Threshold: 30 * time.Minute}, nil)

	queued := q.Enqueue(queue.EnqueueRequest{Kind: queue.KindListFetch, DedupKey: "queued"})
	young := startJob(t, q, queue.KindListFetch, "young")

	if got := r.Sweep(); got != 0 {
		t.Fatalf("expected nothing reaped, got %d", got)
	}
	if job, _ := q.Get(queued); job.State != queue.StateQueued {
		t.Errorf("queued job must be untouched, got %s", job.State)
	}
	if job, _ := q.Get(young); job.State != queue.StateRunning {
		t.Errorf("young running job must be untouched, got %s", job.State)
	}
}
