package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"scenario-trader/internal/errors"
	"scenario-trader/internal/models"
)

func TestWriteBehindAppliesInOrder(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	w := NewWriteBehind(mem, 4, zerolog.Nop())
	defer w.Close()

	if err := mem.SavePlan(ctx, newTestPlan("p1", "BTCUSDT", models.PlanActive, time.Now())); err != nil {
		t.Fatal(err)
	}

	pos := newTestPosition("pos1", "p1", time.Now())
	if err := w.SavePosition(ctx, pos); err != nil {
		t.Fatal(err)
	}
	if err := w.SetPlanStatus(ctx, "p1", models.PlanMonitoring); err != nil {
		t.Fatal(err)
	}

	// later mutation of the caller's value must not leak into the queued write
	pos.Size = 1

	for i := 0; i < 20; i++ {
		entry := &models.LedgerEntry{ID: fmt.Sprintf("l%d", i), PlanID: "p1", ClosedAt: time.Now()}
		if err := w.Append(ctx, entry); err != nil {
			t.Fatal(err)
		}
	}

	got, err := w.GetPosition(ctx, "pos1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Size != 1000 {
		t.Errorf("size = %v, want 1000", got.Size)
	}
	plan, _ := w.GetPlan(ctx, "p1")
	if plan.Status != models.PlanMonitoring {
		t.Errorf("status = %s, want monitoring", plan.Status)
	}
	entries, _ := w.ListEntries(ctx, LedgerFilter{})
	if len(entries) != 20 {
		t.Errorf("entries = %d, want 20", len(entries))
	}

	stats := w.Stats()
	if stats.Applied != 22 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWriteBehindLogsFailures(t *testing.T) {
	ctx := context.Background()
	w := NewWriteBehind(NewMemoryStore(), 4, zerolog.Nop())
	defer w.Close()

	// unknown plan: the error is recorded, not returned
	if err := w.SetPlanStatus(ctx, "missing", models.PlanClosed); err != nil {
		t.Fatalf("queued write returned error: %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if w.Stats().Failed != 1 {
		t.Errorf("failed = %d, want 1", w.Stats().Failed)
	}
}

func TestWriteBehindRejectsAfterClose(t *testing.T) {
	w := NewWriteBehind(NewMemoryStore(), 4, zerolog.Nop())
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.SetPlanStatus(context.Background(), "p1", models.PlanClosed); err == nil {
		t.Error("expected error after close")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

type flakyStore struct {
	Store
	fails int
}

func (f *flakyStore) SetPlanStatus(ctx context.Context, id string, status models.PlanStatus) error {
	if f.fails > 0 {
		f.fails--
		return errors.NewStoreError("set_status", "plan", id, fmt.Errorf("%w: database is locked", errors.ErrDatabaseError))
	}
	return f.Store.SetPlanStatus(ctx, id, status)
}

func TestWriteBehindRetriesDatabaseErrors(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	if err := mem.SavePlan(ctx, newTestPlan("p1", "BTCUSDT", models.PlanActive, time.Now())); err != nil {
		t.Fatal(err)
	}
	w := NewWriteBehind(&flakyStore{Store: mem, fails: 2}, 4, zerolog.Nop())
	defer w.Close()

	if err := w.SetPlanStatus(ctx, "p1", models.PlanMonitoring); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if stats := w.Stats(); stats.Applied != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	got, err := mem.GetPlan(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.PlanMonitoring {
		t.Errorf("status = %s", got.Status)
	}
}
