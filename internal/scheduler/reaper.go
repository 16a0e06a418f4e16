package scheduler

import (
	"context"
	"time"

	"github.com/vidkeep/vidkeep/internal/logger"
	"github.com/vidkeep/vidkeep/internal/queue"
)

// ZombieReason is the failure reason written by the reaper.
const ZombieReason = "zombie_reaped"

// ReaperConfig tunes the zombie sweep.
type ReaperConfig struct {
	Interval time.Duration
	// Threshold is the running duration past which a job counts as stuck.
	Threshold time.Duration
	// TargetKind limits the sweep to one job kind; empty sweeps all kinds.
	TargetKind queue.Kind
}

// Reaper fails jobs stuck in Running past the threshold, reclaiming their
// channel slots. This is the only recovery path for a fetch-tool process
// that hangs indefinitely.
type Reaper struct {
	q   *queue.Queue
	cfg ReaperConfig
	log *logger.Logger
	now func() time.Time
}

// NewReaper creates a zombie reaper over the queue.
func NewReaper(q *queue.Queue, cfg ReaperConfig, log *logger.Logger) *Reaper {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Reaper{
		q:   q,
		cfg: cfg,
		log: log.WithField(logger.FieldComponent, "reaper"),
		now: time.Now,
	}
}

// Run sweeps on the configured interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep fails all stuck jobs once and returns how many were reaped.
func (r *Reaper) Sweep() int {
	reaped := 0
	for _, job := range r.q.List() {
		if job.State != queue.StateRunning {
			continue
		}
		if r.cfg.TargetKind != "" && job.Kind != r.cfg.TargetKind {
			continue
		}
		if job.StartedAt == nil || r.now().Sub(*job.StartedAt) <= r.cfg.Threshold {
			continue
		}
		if err := r.q.MarkFailed(job.ID, ZombieReason); err != nil {
			// Lost the race against a legitimate completion; nothing to do.
			continue
		}
		reaped++
		r.log.WithFields(logger.Fields{
			logger.FieldJobID: job.ID,
			"kind":            job.Kind,
			"running_for":     r.now().Sub(*job.StartedAt).String(),
		}).Warn("Reaped zombie job")
	}
	return reaped
}
