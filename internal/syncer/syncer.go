// Package syncer maintains the per-subscription head snapshot and cursor
// that turn "what changed remotely" into a cheap bounded read. The snapshot
// is the only state refreshed by a remote listing; the cursor only ever
// advances through the current snapshot.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vidkeep/vidkeep/internal/domain"
	"github.com/vidkeep/vidkeep/internal/logger"
	"github.com/vidkeep/vidkeep/internal/repository"
)

// KV is the persisted key-value surface the syncer owns its keys on.
type KV interface {
	GetJSON(ctx context.Context, key string, v interface{}) error
	SetJSON(ctx context.Context, key string, v interface{}) error
	Delete(ctx context.Context, key string) error
}

// Lister performs the full remote catalog listing for a subscription,
// authenticated when a credential is supplied. It is the only network
// dependency of this package.
type Lister interface {
	ListRemoteIDs(ctx context.Context, subscriptionID uint, cred *domain.Credential) ([]string, error)
}

// Source tags where GetIncrementalIDs found its result.
const (
	SourceSnapshot = "snapshot"
	SourceNone     = "none"
)

// IncrementalResult is a bounded slice of not-yet-consumed remote IDs.
// Source == SourceNone signals the caller to fall back to a full listing.
type IncrementalResult struct {
	IDs    []string `json:"ids"`
	Source string   `json:"source"`
}

// Snapshot is the persisted bounded head of a remote catalog.
type Snapshot struct {
	IDs       []string  `json:"ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cursor records the last snapshot ID consumed incrementally.
type Cursor struct {
	ItemID    string    `json:"item_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status is the per-subscription sync status projection.
type Status struct {
	SnapshotSize  int       `json:"snapshot_size"`
	LastRefreshAt time.Time `json:"last_refresh_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Service is the incremental sync service.
type Service struct {
	kv     KV
	lister Lister
	log    *logger.Logger
}

// New creates a sync service over the given KV store and remote lister.
func New(kv KV, lister Lister, log *logger.Logger) *Service {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Service{
		kv:     kv,
		lister: lister,
		log:    log.WithField(logger.FieldComponent, "syncer"),
	}
}

func snapshotKey(subID uint) string { return fmt.Sprintf("sync:%d:snapshot", subID) }
func cursorKey(subID uint) string   { return fmt.Sprintf("sync:%d:cursor", subID) }
func statusKey(subID uint) string   { return fmt.Sprintf("sync:%d:status", subID) }

// GetIncrementalIDs returns up to limit remote IDs past the cursor and
// advances the cursor to the last ID returned. A missing snapshot yields an
// empty SourceNone result. When the cursor's ID is no longer present in the
// snapshot, consumption restarts from the beginning of the snapshot; the
// resulting re-delivery is bounded and absorbed by downstream dedup filters.
func (s *Service) GetIncrementalIDs(ctx context.Context, subID uint, limit int) (IncrementalResult, error) {
	var snap Snapshot
	if err := s.kv.GetJSON(ctx, snapshotKey(subID), &snap); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return IncrementalResult{Source: SourceNone}, nil
		}
		return IncrementalResult{}, fmt.Errorf("read snapshot for subscription %d: %w", subID, err)
	}
	if len(snap.IDs) == 0 {
		return IncrementalResult{Source: SourceNone}, nil
	}

	// The snapshot check comes first so a zero limit still reports whether a
	// fallback listing is needed.
	if limit <= 0 {
		return IncrementalResult{Source: SourceSnapshot}, nil
	}

	start := 0
	var cur Cursor
	err := s.kv.GetJSON(ctx, cursorKey(subID), &cur)
	switch {
	case err == nil && cur.ItemID != "":
		if idx := indexOf(snap.IDs, cur.ItemID); idx >= 0 {
			start = idx + 1
		}
		// Cursor value absent from the refreshed snapshot: restart at 0.
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return IncrementalResult{}, fmt.Errorf("read cursor for subscription %d: %w", subID, err)
	}

	if start >= len(snap.IDs) {
		return IncrementalResult{Source: SourceSnapshot}, nil
	}

	end := start + limit
	if end > len(snap.IDs) {
		end = len(snap.IDs)
	}
	ids := append([]string(nil), snap.IDs[start:end]...)

	if err := s.SetCursor(ctx, subID, ids[len(ids)-1]); err != nil {
		return IncrementalResult{}, err
	}

	return IncrementalResult{IDs: ids, Source: SourceSnapshot}, nil
}

// SetCursor pins the cursor to an item ID.
func (s *Service) SetCursor(ctx context.Context, subID uint, itemID string) error {
	cur := Cursor{ItemID: itemID, UpdatedAt: time.Now()}
	if err := s.kv.SetJSON(ctx, cursorKey(subID), cur); err != nil {
		return fmt.Errorf("write cursor for subscription %d: %w", subID, err)
	}
	return nil
}

// RefreshSnapshot performs the full remote listing, truncates to maxIDs
// preserving remote order, deduplicates, and persists the new snapshot.
// The credential, when given, authenticates the listing; auth-required
// catalogs return nothing (or an error) anonymously. Unless keepCursor is
// set the cursor resets to the start of the snapshot. This interacts with
// the network and belongs on a low-frequency schedule, not in the
// coordinator's hot path.
func (s *Service) RefreshSnapshot(ctx context.Context, subID uint, maxIDs int, keepCursor bool, cred *domain.Credential) error {
	ids, err := s.lister.ListRemoteIDs(ctx, subID, cred)
	if err != nil {
		return fmt.Errorf("remote listing for subscription %d: %w", subID, err)
	}

	deduped := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
		if maxIDs > 0 && len(deduped) >= maxIDs {
			break
		}
	}

	now := time.Now()
	snap := Snapshot{IDs: deduped, UpdatedAt: now}
	if err := s.kv.SetJSON(ctx, snapshotKey(subID), snap); err != nil {
		return fmt.Errorf("write snapshot for subscription %d: %w", subID, err)
	}

	if !keepCursor {
		if err := s.kv.Delete(ctx, cursorKey(subID)); err != nil {
			return fmt.Errorf("reset cursor for subscription %d: %w", subID, err)
		}
	}

	status := Status{SnapshotSize: len(deduped), LastRefreshAt: now, UpdatedAt: now}
	if err := s.kv.SetJSON(ctx, statusKey(subID), status); err != nil {
		return fmt.Errorf("write sync status for subscription %d: %w", subID, err)
	}

	s.log.WithFields(logger.Fields{
		logger.FieldSubscription: subID,
		"snapshot_size":          len(deduped),
	}).Info("Snapshot refreshed")
	return nil
}

// GetStatus returns the persisted sync status for display.
func (s *Service) GetStatus(ctx context.Context, subID uint) (*Status, error) {
	var st Status
	if err := s.kv.GetJSON(ctx, statusKey(subID), &st); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sync status for subscription %d: %w", subID, err)
	}
	return &st, nil
}

func indexOf(ids []string, target string) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	return -1
}
