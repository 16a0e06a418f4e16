package domain

import "time"

// MediaItem is the local index of retrieved remote items. Its presence is
// what keeps the coordinator from re-enqueueing already-handled items.
type MediaItem struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"not null;index:idx_media_sub_item,unique" json:"subscription_id"`
	ItemID         string    `gorm:"type:text;not null;index:idx_media_sub_item,unique" json:"item_id"`
	Title          string    `gorm:"type:text" json:"title,omitempty"`
	FilePath       string    `gorm:"type:text" json:"file_path,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for MediaItem.
func (MediaItem) TableName() string {
	return "media_items"
}
