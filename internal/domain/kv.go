package domain

import "time"

// KVEntry is the persisted key-value store backing all cross-restart state:
// head snapshots, cursors, failure records, retry-backfill lists, capacity
// overrides and the coordinator lock. Keys are scoped per owner, e.g.
// "sync:<subscription_id>:snapshot".
type KVEntry struct {
	Key       string    `gorm:"type:text;primaryKey" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for KVEntry.
func (KVEntry) TableName() string {
	return "kv_entries"
}
