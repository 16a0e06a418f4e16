package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/vidkeep/vidkeep/internal/domain"
	"gorm.io/gorm"
)

// SubscriptionRepository handles subscription data operations.
type SubscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Create inserts a new subscription.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

// Update saves changes to an existing subscription.
func (r *SubscriptionRepository) Update(ctx context.Context, sub *domain.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

// GetByID retrieves a subscription by its ID.
func (r *SubscriptionRepository) GetByID(ctx context.Context, id uint) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := r.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subscription %d: %w", id, err)
	}
	return &sub, nil
}

// List returns all subscriptions ordered by ID.
func (r *SubscriptionRepository) List(ctx context.Context) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	if err := r.db.WithContext(ctx).Order("id").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// ListEnabled returns all enabled subscriptions ordered by ID. The
// coordinator rotates through this set across cycles.
func (r *SubscriptionRepository) ListEnabled(ctx context.Context) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("id").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list enabled subscriptions: %w", err)
	}
	return subs, nil
}

// Delete removes a subscription by ID.
func (r *SubscriptionRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&domain.Subscription{}, id).Error
}
