package domain

import "time"

// RemoteItem is one entry of a remote catalog listing.
type RemoteItem struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// PendingList is the result of a full (non-incremental) pending-list
// computation for a subscription.
type PendingList struct {
	RemoteTotal int          `json:"remote_total"`
	Existing    int          `json:"existing"`
	Pending     int          `json:"pending"`
	Items       []RemoteItem `json:"items"`
}

// FailureClass classifies a fetch failure.
// Temporary failures are eligible for backfill retries; permanent failures
// are excluded from all automatic enqueue attempts until cleared.
type FailureClass string

const (
	FailureTemporary FailureClass = "temporary"
	FailurePermanent FailureClass = "permanent"
)

// FailureRecord tracks the last known fetch failure for a remote item.
type FailureRecord struct {
	ItemID         string       `json:"item_id"`
	SubscriptionID uint         `json:"subscription_id"`
	Class          FailureClass `json:"class"`
	Message        string       `json:"message"`
	LastAt         time.Time    `json:"last_at"`
	Retries        int          `json:"retries"`
}
