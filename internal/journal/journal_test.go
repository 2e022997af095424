package journal

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_MigrationRoundTrip(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	actions := []string{"drop_view:quant.v_orders", "widen_varchar:name:20", "recreate_view:quant.v_orders"}
	if err := j.RecordMigration(ctx, "quant.orders", "migrated", "", actions); err != nil {
		t.Fatalf("RecordMigration() error = %v", err)
	}
	if err := j.RecordMigration(ctx, "quant.orders", "up_to_date", "", nil); err != nil {
		t.Fatalf("RecordMigration() error = %v", err)
	}
	if err := j.RecordMigration(ctx, "quant.trades", "skipped", "dependent_materialized_views", nil); err != nil {
		t.Fatalf("RecordMigration() error = %v", err)
	}

	entries, err := j.Migrations(ctx, "quant.orders", 10)
	if err != nil {
		t.Fatalf("Migrations() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for quant.orders, got %d", len(entries))
	}
	// Newest first.
	if entries[0].Status != "up_to_date" || entries[1].Status != "migrated" {
		t.Errorf("unexpected order: %s, %s", entries[0].Status, entries[1].Status)
	}
	if !reflect.DeepEqual(entries[1].Actions, actions) {
		t.Errorf("actions round trip = %v, want %v", entries[1].Actions, actions)
	}
	if entries[0].RecordedAt.IsZero() {
		t.Error("recorded_at must survive the round trip")
	}
}

func TestJournal_LoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	if err := j.RecordLoad(ctx, "quant.daily_px", 1500, []string{"symbol", "trade_date"}); err != nil {
		t.Fatalf("RecordLoad() error = %v", err)
	}
	if err := j.RecordLoad(ctx, "quant.daily_px", 0, nil); err != nil {
		t.Fatalf("RecordLoad() error = %v", err)
	}

	entries, err := j.Loads(ctx, "quant.daily_px", 10)
	if err != nil {
		t.Fatalf("Loads() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Rows != 1500 {
		t.Errorf("Rows = %d, want 1500", entries[1].Rows)
	}
	if !reflect.DeepEqual(entries[1].ConflictKeys, []string{"symbol", "trade_date"}) {
		t.Errorf("ConflictKeys = %v", entries[1].ConflictKeys)
	}
}

func TestJournal_Limit(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	for i := 0; i < 5; i++ {
		if err := j.RecordLoad(ctx, "t", int64(i), nil); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := j.Loads(ctx, "t", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("limit ignored: got %d entries", len(entries))
	}
	if entries[0].Rows != 4 {
		t.Errorf("newest entry first, got rows=%d", entries[0].Rows)
	}
}

func TestJournal_UnknownTable(t *testing.T) {
	j := openTestJournal(t)
	entries, err := j.Migrations(context.Background(), "never.seen", 10)
	if err != nil {
		t.Fatalf("Migrations() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestJournal_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open() with missing parent dir error = %v", err)
	}
	j.Close()
}
