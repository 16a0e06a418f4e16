package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vidkeep/vidkeep/internal/domain"
	"github.com/vidkeep/vidkeep/internal/repository"
)

// KV is the persisted key-value surface the scheduler owns its keys on
// (failure records, backfill lists, cycle lock, rotation offset).
type KV interface {
	GetJSON(ctx context.Context, key string, v interface{}) error
	SetJSON(ctx context.Context, key string, v interface{}) error
	Delete(ctx context.Context, key string) error
}

func failuresKey(subID uint) string { return fmt.Sprintf("sync:%d:failures", subID) }
func backfillKey(subID uint) string { return fmt.Sprintf("sync:%d:backfill", subID) }

// FailureStore persists per-item failure records and the retry-backfill
// queue. Permanent failures are excluded from all automatic enqueue attempts
// until explicitly cleared; temporary ones line up for bounded re-attempts.
type FailureStore struct {
	kv KV
}

// NewFailureStore creates a failure store over the KV repository.
func NewFailureStore(kv KV) *FailureStore {
	return &FailureStore{kv: kv}
}

// Record writes or updates the failure record for an item. Temporary
// failures are also appended to the subscription's backfill queue.
func (f *FailureStore) Record(ctx context.Context, subID uint, itemID string, class domain.FailureClass, message string) error {
	records, err := f.GetAll(ctx, subID)
	if err != nil {
		return err
	}

	rec, ok := records[itemID]
	if !ok {
		rec = domain.FailureRecord{ItemID: itemID, SubscriptionID: subID}
	}
	rec.Class = class
	rec.Message = message
	rec.LastAt = time.Now()
	rec.Retries++
	records[itemID] = rec

	if err := f.kv.SetJSON(ctx, failuresKey(subID), records); err != nil {
		return fmt.Errorf("write failure records for subscription %d: %w", subID, err)
	}

	if class == domain.FailureTemporary {
		return f.pushBackfill(ctx, subID, itemID)
	}
	return nil
}

// GetAll returns all failure records for a subscription, keyed by item ID.
func (f *FailureStore) GetAll(ctx context.Context, subID uint) (map[string]domain.FailureRecord, error) {
	records := map[string]domain.FailureRecord{}
	if err := f.kv.GetJSON(ctx, failuresKey(subID), &records); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return records, nil
		}
		return nil, fmt.Errorf("read failure records for subscription %d: %w", subID, err)
	}
	return records, nil
}

// Clear removes the failure record for an item. This is the operator path
// that makes a permanently-failed item eligible again.
func (f *FailureStore) Clear(ctx context.Context, subID uint, itemID string) error {
	records, err := f.GetAll(ctx, subID)
	if err != nil {
		return err
	}
	if _, ok := records[itemID]; !ok {
		return nil
	}
	delete(records, itemID)
	if err := f.kv.SetJSON(ctx, failuresKey(subID), records); err != nil {
		return fmt.Errorf("write failure records for subscription %d: %w", subID, err)
	}
	return nil
}

func (f *FailureStore) pushBackfill(ctx context.Context, subID uint, itemID string) error {
	ids, err := f.getBackfill(ctx, subID)
	if err != nil {
		return err
	}
	// Re-append at the tail so the most recent failure retries first.
	for i, id := range ids {
		if id == itemID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	ids = append(ids, itemID)
	if err := f.kv.SetJSON(ctx, backfillKey(subID), ids); err != nil {
		return fmt.Errorf("write backfill queue for subscription %d: %w", subID, err)
	}
	return nil
}

// PopBackfill removes and returns up to n item IDs from the tail of the
// backfill queue (most recently failed first).
func (f *FailureStore) PopBackfill(ctx context.Context, subID uint, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ids, err := f.getBackfill(ctx, subID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if n > len(ids) {
		n = len(ids)
	}
	popped := make([]string, 0, n)
	for i := 0; i < n; i++ {
		popped = append(popped, ids[len(ids)-1-i])
	}
	remaining := ids[:len(ids)-n]

	if err := f.kv.SetJSON(ctx, backfillKey(subID), remaining); err != nil {
		return nil, fmt.Errorf("write backfill queue for subscription %d: %w", subID, err)
	}
	return popped, nil
}

func (f *FailureStore) getBackfill(ctx context.Context, subID uint) ([]string, error) {
	var ids []string
	if err := f.kv.GetJSON(ctx, backfillKey(subID), &ids); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backfill queue for subscription %d: %w", subID, err)
	}
	return ids, nil
}
