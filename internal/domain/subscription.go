package domain

import "time"

// Subscription represents a user-defined remote catalog to curate
// (a channel or playlist URL on the video platform).
type Subscription struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	URL       string    `gorm:"type:text;not null;uniqueIndex" json:"url"`
	Enabled   bool      `gorm:"default:true" json:"enabled"`
	// RequiresAuth routes this subscription's fetches through the
	// credentialed channel (members-only or age-gated catalogs).
	RequiresAuth bool `gorm:"default:false" json:"requires_auth"`
	// Incremental overrides the global incremental-sync default when set.
	Incremental *bool     `json:"incremental,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string {
	return "subscriptions"
}

// IncrementalEnabled resolves the subscription-level override against the
// global default.
func (s *Subscription) IncrementalEnabled(globalDefault bool) bool {
	if s.Incremental != nil {
		return *s.Incremental
	}
	return globalDefault
}
