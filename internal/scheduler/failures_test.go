package scheduler

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/vidkeep/vidkeep/internal/domain"
	"github.com/vidkeep/vidkeep/internal/repository"
)

// fakeKV is an in-memory KV backed by JSON strings, shared by the
// scheduler tests.
type fakeKV struct {
	data map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) GetJSON(ctx context.Context, key string, v interface{}) error {
	raw, ok := f.data[key]
	if !ok {
		return repository.ErrNotFound
	}
	return json.Unmarshal([]byte(raw), v)
}

func (f *fakeKV) SetJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.data[key] = string(raw)
	return nil
}

func (f *fakeKV) Delete(ctx context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func TestFailureStore_RecordTemporaryQueuesBackfill(t *testing.T) {
	store := NewFailureStore(newFakeKV())
	ctx := context.Background()

	if err := store.Record(ctx, 1, "vid1", domain.FailureTemporary, "timeout"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record(ctx, 1, "vid2", domain.FailurePermanent, "video unavailable"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	records, err := store.GetAll(ctx, 1)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records["vid1"].Class != domain.FailureTemporary || records["vid1"].Retries != 1 {
		t.Errorf("unexpected vid1 record: %+v", records["vid1"])
	}

	// Only the temporary failure lines up for backfill.
	ids, err := store.PopBackfill(ctx, 1, 10)
	if err != nil {
		t.Fatalf("PopBackfill: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"vid1"}) {
		t.Errorf("expected backfill [vid1], got %v", ids)
	}
}

func TestFailureStore_RecordIncrementsRetries(t *testing.T) {
	store := NewFailureStore(newFakeKV())
	ctx := context.Background()

	store.Record(ctx, 1, "vid1", domain.FailureTemporary, "timeout")
	store.Record(ctx, 1, "vid1", domain.FailureTemporary, "timeout again")

	records, _ := store.GetAll(ctx, 1)
	rec := records["vid1"]
	if rec.Retries != 2 {
		t.Errorf("expected 2 retries, got %d", rec.Retries)
	}
	if rec.Message != "timeout again" {
		t.Errorf("expected latest message kept, got %q", rec.Message)
	}

	// Re-recording must not duplicate the backfill entry.
	ids, _ := store.PopBackfill(ctx, 1, 10)
	if len(ids) != 1 {
		t.Errorf("expected a single backfill entry, got %v", ids)
	}
}

func TestFailureStore_PopBackfillMostRecentFirst(t *testing.T) {
	store := NewFailureStore(newFakeKV())
	ctx := context.Background()

	store.Record(ctx, 1, "old", domain.FailureTemporary, "x")
	store.Record(ctx, 1, "mid", domain.FailureTemporary, "x")
	store.Record(ctx, 1, "new", domain.FailureTemporary, "x")

	ids, err := store.PopBackfill(ctx, 1, 2)
	if err != nil {
		t.Fatalf("PopBackfill: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"new", "mid"}) {
		t.Errorf("expected [new mid], got %v", ids)
	}

	// The remainder survives for the next cycle.
	ids, err = store.PopBackfill(ctx, 1, 2)
	if err != nil {
		t.Fatalf("PopBackfill: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"old"}) {
		t.Errorf("expected [old], got %v", ids)
	}

	ids, _ = store.PopBackfill(ctx, 1, 2)
	if len(ids) != 0 {
		t.Errorf("expected empty backfill, got %v", ids)
	}
}

func TestFailureStore_ClearMakesItemEligible(t *testing.T) {
	store := NewFailureStore(newFakeKV())
	ctx := context.Background()

	store.Record(ctx, 1, "vid1", domain.FailurePermanent, "private video")
	if err := store.Clear(ctx, 1, "vid1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	records, _ := store.GetAll(ctx, 1)
	if len(records) != 0 {
		t.Errorf("expected no records after clear, got %v", records)
	}

	// Clearing an unknown item is a no-op.
	if err := store.Clear(ctx, 1, "unknown"); err != nil {
		t.Errorf("expected no-op clear, got %v", err)
	}
}
