package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vidkeep/vidkeep/internal/domain"
	"gorm.io/gorm"
)

// CredentialRepository handles credential data operations. Selection and
// banning policy lives in the credential pool; this layer only persists.
type CredentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Create inserts a new credential.
func (r *CredentialRepository) Create(ctx context.Context, cred *domain.Credential) error {
	return r.db.WithContext(ctx).Create(cred).Error
}

// GetByID retrieves a credential by its ID.
func (r *CredentialRepository) GetByID(ctx context.Context, id uint) (*domain.Credential, error) {
	var cred domain.Credential
	if err := r.db.WithContext(ctx).First(&cred, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential %d: %w", id, err)
	}
	return &cred, nil
}

// List returns all credentials ordered by ID.
func (r *CredentialRepository) List(ctx context.Context) ([]domain.Credential, error) {
	var creds []domain.Credential
	if err := r.db.WithContext(ctx).Order("id").Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

// ListActive returns active credentials ordered by usage count ascending,
// so the least-used credential comes first.
func (r *CredentialRepository) ListActive(ctx context.Context) ([]domain.Credential, error) {
	var creds []domain.Credential
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("usage_count asc, id asc").
		Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("list active credentials: %w", err)
	}
	return creds, nil
}

// RecordUsage increments usage accounting for a credential.
func (r *CredentialRepository) RecordUsage(ctx context.Context, id uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"usage_count": gorm.Expr("usage_count + 1"),
			"last_used":   now,
		}).Error
}

// UpdateFailureState writes the rolling failure counter and timestamp.
func (r *CredentialRepository) UpdateFailureState(ctx context.Context, id uint, count int, at *time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"failure_count":   count,
			"last_failure_at": at,
		}).Error
}

// SetActive flips the active flag, recording the reason when disabling.
func (r *CredentialRepository) SetActive(ctx context.Context, id uint, active bool, reason string) error {
	return r.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active":          active,
			"disabled_reason": reason,
		}).Error
}
