package repository

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestSegmentWriteScanRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0")
	sw, err := CreateSegment(path)
	if err != nil {
		t.Fatalf("CreateSegment() failed: %v", err)
	}

	id1 := bytes.Repeat([]byte{0x01}, idSize)
	id2 := bytes.Repeat([]byte{0x02}, idSize)

	off1, err := sw.Append(Entry{Tag: EntryPut, ID: id1, Payload: []byte("payload one")})
	if err != nil {
		t.Fatalf("Append(put) failed: %v", err)
	}
	if _, err := sw.Append(Entry{Tag: EntryPut, ID: id2, Payload: []byte("payload two")}); err != nil {
		t.Fatalf("Append(put2) failed: %v", err)
	}
	if _, err := sw.Append(Entry{Tag: EntryDelete, ID: id1}); err != nil {
		t.Fatalf("Append(delete) failed: %v", err)
	}
	if _, err := sw.Append(Entry{Tag: EntryCommit}); err != nil {
		t.Fatalf("Append(commit) failed: %v", err)
	}
	if err := sw.Sync(); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if err := sw.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	scan, err := ScanSegment(path)
	if err != nil {
		t.Fatalf("ScanSegment() failed: %v", err)
	}
	if !scan.Sealed {
		t.Error("segment should be sealed")
	}
	if len(scan.Entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(scan.Entries))
	}
	if scan.Entries[0].Tag != EntryPut || !bytes.Equal(scan.Entries[0].ID, id1) {
		t.Errorf("entry 0 mismatch: %+v", scan.Entries[0])
	}
	if scan.Entries[3].Tag != EntryCommit {
		t.Errorf("entry 3 should be COMMIT, got tag %d", scan.Entries[3].Tag)
	}

	entry, err := ReadEntryAt(path, off1)
	if err != nil {
		t.Fatalf("ReadEntryAt() failed: %v", err)
	}
	if string(entry.Payload) != "payload one" {
		t.Errorf("ReadEntryAt() payload = %q, want %q", entry.Payload, "payload one")
	}
}

func TestScanSegmentStopsAtCorruptFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0")
	sw, err := CreateSegment(path)
	if err != nil {
		t.Fatalf("CreateSegment() failed: %v", err)
	}
	id := bytes.Repeat([]byte{0x03}, idSize)
	if _, err := sw.Append(Entry{Tag: EntryPut, ID: id, Payload: []byte("good entry")}); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if err := sw.Sync(); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if err := sw.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	// Append a truncated, garbage trailing frame directly, simulating a
	// crash mid-write.
	appendGarbage(t, path)

	scan, err := ScanSegment(path)
	if err != nil {
		t.Fatalf("ScanSegment() failed: %v", err)
	}
	if scan.Sealed {
		t.Error("segment should not be sealed")
	}
	if len(scan.Entries) != 1 {
		t.Fatalf("got %d entries, want 1 (garbage should be discarded)", len(scan.Entries))
	}
}

func appendGarbage(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("open for append failed: %v", err)
	}
	defer f.Close()
	if _, err := f.Write([]byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x00, 0x00, 0x00, 0x99}); err != nil {
		t.Fatalf("write garbage failed: %v", err)
	}
}
