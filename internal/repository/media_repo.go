package repository

import (
	"context"
	"fmt"

	"github.com/vidkeep/vidkeep/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MediaRepository is the local index of retrieved items.
type MediaRepository struct {
	db *gorm.DB
}

// NewMediaRepository creates a new MediaRepository.
func NewMediaRepository(db *gorm.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// Upsert records a retrieved item, keyed by (subscription, item).
func (r *MediaRepository) Upsert(ctx context.Context, item *domain.MediaItem) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "item_id"}},
		UpdateAll: true,
	}).Create(item).Error
}

// ScanLocalIndex returns the set of item IDs already present locally for a
// subscription.
func (r *MediaRepository) ScanLocalIndex(ctx context.Context, subscriptionID uint) (map[string]struct{}, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&domain.MediaItem{}).
		Where("subscription_id = ?", subscriptionID).
		Pluck("item_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("scan local index for subscription %d: %w", subscriptionID, err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// CountBySubscription returns the number of locally-present items.
func (r *MediaRepository) CountBySubscription(ctx context.Context, subscriptionID uint) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&domain.MediaItem{}).
		Where("subscription_id = ?", subscriptionID).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count media items for subscription %d: %w", subscriptionID, err)
	}
	return n, nil
}

// ListBySubscription returns locally-present items, newest first.
func (r *MediaRepository) ListBySubscription(ctx context.Context, subscriptionID uint, limit int) ([]domain.MediaItem, error) {
	var items []domain.MediaItem
	q := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("fetched_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list media items for subscription %d: %w", subscriptionID, err)
	}
	return items, nil
}
