package queue

import (
	"fmt"
	"time"
)

// Kind identifies the type of work a job performs.
type Kind string

const (
	KindMetadataProbe Kind = "metadata_probe"
	KindListFetch     Kind = "list_fetch"
	KindMediaFetch    Kind = "media_fetch"
	KindOther         Kind = "other"
)

// State is the lifecycle state of a job.
// Transitions: queued -> running -> {done, failed}; queued/running -> canceled.
// Terminal states are final; a retry is a new job.
type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateDone     State = "done"
	StateFailed   State = "failed"
	StateCanceled State = "canceled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCanceled
}

// Channel is one of the two independent admission pools a job competes to
// enter. Credentialed traffic carries more risk with the remote service and
// is capped separately from cheap anonymous probes.
type Channel string

const (
	ChannelCredentialed Channel = "credentialed"
	ChannelAnonymous    Channel = "anonymous"
)

// Wait reasons recorded on failed admission attempts.
const (
	WaitPausedAll = "paused_all"
)

func waitPausedChannel(ch Channel) string { return "paused_" + string(ch) }
func waitCapChannel(ch Channel) string    { return "cap_" + string(ch) }

// Job is a unit of queued work. Jobs live only in memory; durability across
// restarts comes from the coordinator re-deriving work from persisted state.
type Job struct {
	ID                 string     `json:"id"`
	Kind               Kind       `json:"kind"`
	SubscriptionID     *uint      `json:"subscription_id,omitempty"`
	ItemID             string     `json:"item_id,omitempty"`
	RequiresCredential bool       `json:"requires_credential"`
	State              State      `json:"state"`
	Priority           int        `json:"priority"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	WaitCycles         int        `json:"wait_cycles"`
	WaitMS             int64      `json:"wait_ms"`
	LastWaitReason     string     `json:"last_wait_reason,omitempty"`
	AcquiredChannel    Channel    `json:"acquired_channel,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
	DedupKey           string     `json:"dedup_key"`
}

// channel returns the admission channel this job competes for.
func (j *Job) channel() Channel {
	if j.RequiresCredential {
		return ChannelCredentialed
	}
	return ChannelAnonymous
}

// defaultDedupKey derives the dedup identity from (kind, subscription).
// At most one non-terminal job exists per key.
func defaultDedupKey(kind Kind, subscriptionID *uint) string {
	if subscriptionID == nil {
		return fmt.Sprintf("%s:global", kind)
	}
	return fmt.Sprintf("%s:sub:%d", kind, *subscriptionID)
}

// ItemDedupKey builds an explicit dedup key scoped to a single remote item,
// used for media-fetch jobs where the (kind, subscription) default would
// collapse distinct items.
func ItemDedupKey(kind Kind, subscriptionID uint, itemID string) string {
	return fmt.Sprintf("%s:sub:%d:item:%s", kind, subscriptionID, itemID)
}
