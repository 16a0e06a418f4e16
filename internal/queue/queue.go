// Package queue implements the in-memory job registry with two
// independently-capped admission channels. All registry state is guarded by
// one mutex so capacity checks and increments are atomic; blocking waits are
// cooperative polls that never hold the lock across a sleep.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vidkeep/vidkeep/internal/logger"
)

var (
	// ErrNotFound is returned when a job ID is unknown to the registry.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned for operations on jobs in the wrong state.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Config holds the queue's admission parameters. Capacities of zero block
// the channel entirely until raised via SetCapacity.
type Config struct {
	CredentialedCap int
	AnonymousCap    int
	// PollInterval bounds the worst-case admission delay once capacity frees.
	PollInterval time.Duration
}

// EnqueueRequest describes a job to create.
type EnqueueRequest struct {
	Kind               Kind
	SubscriptionID     *uint
	ItemID             string
	RequiresCredential bool
	// Priority jumps the backlog line when set; lower values order first.
	Priority *int
	// DedupKey overrides the (kind, subscription) default identity.
	DedupKey string
}

type channelState struct {
	capacity int
	running  int
	paused   bool
}

// Queue is the dual-channel job registry. One coarse lock guards the
// registry, the two running counters, and the dedup map.
type Queue struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	backlog   []string // queued job IDs in admission-preference order
	dedup     map[string]string
	channels  map[Channel]*channelState
	pausedAll bool

	pollInterval time.Duration
	log          *logger.Logger
	now          func() time.Time
}

// New creates a queue with the given channel capacities.
func New(cfg Config, log *logger.Logger) *Queue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Queue{
		jobs:  make(map[string]*Job),
		dedup: make(map[string]string),
		channels: map[Channel]*channelState{
			ChannelCredentialed: {capacity: cfg.CredentialedCap},
			ChannelAnonymous:    {capacity: cfg.AnonymousCap},
		},
		pollInterval: cfg.PollInterval,
		log:          log.WithField(logger.FieldComponent, "queue"),
		now:          time.Now,
	}
}

// Enqueue registers a new job, or returns the ID of an existing non-terminal
// job with the same dedup key.
func (q *Queue) Enqueue(req EnqueueRequest) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := req.DedupKey
	if key == "" {
		key = defaultDedupKey(req.Kind, req.SubscriptionID)
	}
	if existing, ok := q.dedup[key]; ok {
		return existing
	}

	job := &Job{
		ID:                 uuid.NewString(),
		Kind:               req.Kind,
		SubscriptionID:     req.SubscriptionID,
		ItemID:             req.ItemID,
		RequiresCredential: req.RequiresCredential,
		State:              StateQueued,
		CreatedAt:          q.now(),
		DedupKey:           key,
	}
	if req.Priority != nil {
		job.Priority = *req.Priority
		// Explicit priority jumps the line.
		q.backlog = append([]string{job.ID}, q.backlog...)
	} else {
		q.backlog = append(q.backlog, job.ID)
	}
	q.jobs[job.ID] = job
	q.dedup[key] = job.ID

	q.log.WithFields(logger.Fields{
		logger.FieldJobID: job.ID,
		"kind":            job.Kind,
		"channel":         job.channel(),
	}).Debug("Job enqueued")

	return job.ID
}

// MarkRunning blocks until the job's channel is unpaused and below capacity,
// then atomically takes a slot and transitions the job to Running. If the job
// is canceled while waiting it returns nil without acquiring a slot; callers
// must re-check the job state before doing work.
func (q *Queue) MarkRunning(ctx context.Context, id string) error {
	firstAttempt := q.now()
	for {
		q.mu.Lock()
		job, ok := q.jobs[id]
		if !ok {
			q.mu.Unlock()
			return ErrNotFound
		}
		if job.State == StateCanceled {
			q.mu.Unlock()
			return nil
		}
		if job.State != StateQueued {
			q.mu.Unlock()
			return ErrInvalidTransition
		}

		ch := job.channel()
		cs := q.channels[ch]
		reason := ""
		switch {
		case q.pausedAll:
			reason = WaitPausedAll
		case cs.paused:
			reason = waitPausedChannel(ch)
		case cs.running >= cs.capacity:
			reason = waitCapChannel(ch)
		}

		if reason == "" {
			cs.running++
			now := q.now()
			job.State = StateRunning
			job.StartedAt = &now
			job.AcquiredChannel = ch
			job.WaitMS = now.Sub(firstAttempt).Milliseconds()
			q.removeFromBacklog(id)
			q.mu.Unlock()
			return nil
		}

		job.WaitCycles++
		job.LastWaitReason = reason
		job.WaitMS = q.now().Sub(firstAttempt).Milliseconds()
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// MarkDone transitions a Running job to Done and releases its slot.
func (q *Queue) MarkDone(id string) error {
	return q.finish(id, StateDone, "")
}

// MarkFailed transitions a Running job to Failed and releases its slot.
func (q *Queue) MarkFailed(id, reason string) error {
	return q.finish(id, StateFailed, reason)
}

func (q *Queue) finish(id string, to State, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.State != StateRunning {
		return ErrInvalidTransition
	}

	q.releaseSlot(job)
	now := q.now()
	job.State = to
	job.FinishedAt = &now
	job.LastError = errMsg
	q.clearDedup(job)

	if to == StateFailed {
		q.log.WithFields(logger.Fields{
			logger.FieldJobID: id,
			"reason":          errMsg,
		}).Warn("Job failed")
	}
	return nil
}

// Cancel terminates a Queued or Running job. Canceling an already-terminal
// job is a no-op. A Running job's slot is released exactly as on failure;
// interrupting the in-flight work itself is the executor's concern.
func (q *Queue) Cancel(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.State.Terminal() {
		return nil
	}

	if job.State == StateRunning {
		q.releaseSlot(job)
	} else {
		q.removeFromBacklog(id)
	}
	now := q.now()
	job.State = StateCanceled
	job.FinishedAt = &now
	job.LastError = reason
	q.clearDedup(job)
	return nil
}

// Prioritize moves a queued job to the front of the backlog, optionally
// updating its priority value. Admission capacity is unaffected.
func (q *Queue) Prioritize(id string, priority *int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.State != StateQueued {
		return ErrInvalidTransition
	}
	if priority != nil {
		job.Priority = *priority
	}
	q.removeFromBacklog(id)
	q.backlog = append([]string{id}, q.backlog...)
	return nil
}

// Scope selects which admissions a Pause/Resume affects.
type Scope string

const (
	ScopeAll          Scope = "all"
	ScopeCredentialed Scope = "credentialed"
	ScopeAnonymous    Scope = "anonymous"
)

// Pause blocks new admissions into the scope. Running jobs are unaffected.
func (q *Queue) Pause(scope Scope) {
	q.setPaused(scope, true)
}

// Resume lifts a pause on the scope.
func (q *Queue) Resume(scope Scope) {
	q.setPaused(scope, false)
}

func (q *Queue) setPaused(scope Scope, paused bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch scope {
	case ScopeAll:
		q.pausedAll = paused
	case ScopeCredentialed:
		q.channels[ChannelCredentialed].paused = paused
	case ScopeAnonymous:
		q.channels[ChannelAnonymous].paused = paused
	}
}

// SetCapacity adjusts channel capacities at runtime. Nil leaves a channel
// unchanged; negative values clamp to zero. Takes effect on the next
// admission attempt, never retroactively on running jobs.
func (q *Queue) SetCapacity(credentialed, anonymous *int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if credentialed != nil {
		q.channels[ChannelCredentialed].capacity = max(0, *credentialed)
	}
	if anonymous != nil {
		q.channels[ChannelAnonymous].capacity = max(0, *anonymous)
	}
}

// Get returns a copy of a job.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns copies of all jobs, newest first.
func (q *Queue) List() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Backlog returns copies of queued jobs in admission-preference order.
func (q *Queue) Backlog() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.backlog))
	for _, id := range q.backlog {
		if job, ok := q.jobs[id]; ok && job.State == StateQueued {
			out = append(out, *job)
		}
	}
	return out
}

// releaseSlot returns the channel slot held by a running job. Must be called
// with the lock held and exactly once per Running exit.
func (q *Queue) releaseSlot(job *Job) {
	if job.AcquiredChannel == "" {
		return
	}
	cs := q.channels[job.AcquiredChannel]
	if cs.running > 0 {
		cs.running--
	}
	job.AcquiredChannel = ""
}

func (q *Queue) clearDedup(job *Job) {
	if current, ok := q.dedup[job.DedupKey]; ok && current == job.ID {
		delete(q.dedup, job.DedupKey)
	}
}

func (q *Queue) removeFromBacklog(id string) {
	for i, v := range q.backlog {
		if v == id {
			q.backlog = append(q.backlog[:i], q.backlog[i+1:]...)
			return
		}
	}
}
