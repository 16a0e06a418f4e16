package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vidkeep/vidkeep/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// KVRepository is the persisted key-value store. All cross-restart core state
// (snapshots, cursors, failure records, backfill lists, capacity overrides,
// coordinator lock) lives here under scoped keys.
type KVRepository struct {
	db *gorm.DB
}

// NewKVRepository creates a new KVRepository.
func NewKVRepository(db *gorm.DB) *KVRepository {
	return &KVRepository{db: db}
}

// Get retrieves the raw string value for a key.
// Returns ErrNotFound if the key does not exist.
func (r *KVRepository) Get(ctx context.Context, key string) (string, error) {
	var entry domain.KVEntry
	if err := r.db.WithContext(ctx).First(&entry, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("kv get %q: %w", key, err)
	}
	return entry.Value, nil
}

// Set writes the raw string value for a key, creating or replacing it.
func (r *KVRepository) Set(ctx context.Context, key, value string) error {
	entry := domain.KVEntry{Key: key, Value: value}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

// GetJSON retrieves a key and unmarshals its value into v.
// Returns ErrNotFound if the key does not exist.
func (r *KVRepository) GetJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("kv decode %q: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and writes it under key.
func (r *KVRepository) SetJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv encode %q: %w", key, err)
	}
	return r.Set(ctx, key, string(raw))
}

// Delete removes a key. Deleting a missing key is not an error.
func (r *KVRepository) Delete(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Delete(&domain.KVEntry{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

// ListPrefix returns all entries whose key starts with prefix, for the
// read-only status projections.
func (r *KVRepository) ListPrefix(ctx context.Context, prefix string) ([]domain.KVEntry, error) {
	var entries []domain.KVEntry
	pattern := strings.ReplaceAll(strings.ReplaceAll(prefix, "%", `\%`), "_", `\_`) + "%"
	if err := r.db.WithContext(ctx).
		Where("key LIKE ? ESCAPE '\\'", pattern).
		Order("key").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("kv list %q: %w", prefix, err)
	}
	return entries, nil
}
