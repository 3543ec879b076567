package repository

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestLivenessBitmap_MarkDeadAndIsLive(t *testing.T) {
	bitmap := NewLivenessBitmap("seg-000001", 100)

	if !bitmap.IsLive(5) {
		t.Error("entry 5 should start live")
	}

	if err := bitmap.MarkDead(5); err != nil {
		t.Fatalf("MarkDead failed: %v", err)
	}
	if bitmap.IsLive(5) {
		t.Error("entry 5 should be dead after MarkDead")
	}
	if !bitmap.IsLive(4) {
		t.Error("entry 4 should still be live")
	}
}

func TestLivenessBitmap_DeadEntries(t *testing.T) {
	bitmap := NewLivenessBitmap("seg-000001", 10)

	for i := int64(0); i < 10; i += 2 {
		if err := bitmap.MarkDead(i); err != nil {
			t.Fatalf("MarkDead(%d) failed: %v", i, err)
		}
	}

	dead := bitmap.DeadEntries()
	expected := []int64{0, 2, 4, 6, 8}

	if len(dead) != len(expected) {
		t.Fatalf("expected %d dead entries, got %d", len(expected), len(dead))
	}
	for i, idx := range expected {
		if dead[i] != idx {
			t.Errorf("expected dead entry %d, got %d", idx, dead[i])
		}
	}
}

func TestLivenessBitmap_LiveRatio(t *testing.T) {
	bitmap := NewLivenessBitmap("seg-000001", 5)

	if bitmap.LiveRatio() != 1.0 {
		t.Errorf("fresh bitmap should be fully live, got %f", bitmap.LiveRatio())
	}

	for i := int64(0); i < 5; i++ {
		bitmap.MarkDead(i)
	}

	if bitmap.LiveRatio() != 0.0 {
		t.Errorf("fully dead bitmap should have ratio 0, got %f", bitmap.LiveRatio())
	}
}

func TestLivenessBitmap_SerializeRoundtrip(t *testing.T) {
	bitmap := NewLivenessBitmap("seg-000001", 16)

	bitmap.MarkDead(0)
	bitmap.MarkDead(5)
	bitmap.MarkDead(10)
	bitmap.MarkDead(15)

	data := bitmap.Serialize()

	bitmap2 := NewLivenessBitmap("seg-000002", 16)
	if err := bitmap2.Deserialize(data); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}

	for i := int64(0); i < 16; i++ {
		if bitmap.IsLive(i) != bitmap2.IsLive(i) {
			t.Errorf("entry %d liveness mismatch after deserialize", i)
		}
	}
}

func TestLivenessBitmap_OutOfRange(t *testing.T) {
	bitmap := NewLivenessBitmap("seg-000001", 10)

	if err := bitmap.MarkDead(-1); err == nil {
		t.Error("expected error for negative entry index")
	}
	if err := bitmap.MarkDead(100); err == nil {
		t.Error("expected error for entry index out of range")
	}
}

func TestLivenessStore_SaveLoad(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "liveness.db"))
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	defer db.Close()

	store, err := NewLivenessStore(db)
	if err != nil {
		t.Fatalf("NewLivenessStore failed: %v", err)
	}

	bitmap := NewLivenessBitmap("seg-000042", 32)
	bitmap.MarkDead(1)
	bitmap.MarkDead(2)

	if err := store.Save(bitmap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load("seg-000042", 32)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.LiveRatio() != bitmap.LiveRatio() {
		t.Errorf("loaded live ratio = %f, want %f", loaded.LiveRatio(), bitmap.LiveRatio())
	}

	if err := store.Delete("seg-000042"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load("seg-000042", 32); err != ErrLivenessNotFound {
		t.Errorf("Load after Delete error = %v, want ErrLivenessNotFound", err)
	}
}
