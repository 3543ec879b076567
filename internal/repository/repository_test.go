package repository

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/coldvault/coldvault/internal/crypto"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	dir := t.TempDir()
	repoPath := filepath.Join(dir, "repo")
	if _, err := Create(repoPath, ModeRepokey); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	masterSecret := bytes.Repeat([]byte{0x11}, 32)
	repo, err := Open(repoPath, "test-host", filepath.Join(dir, "security"), masterSecret)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testID(repo *Repository, plaintext []byte) []byte {
	return crypto.ChunkID(repo.keys.IDHashKey, repo.keys.ChunkSeed, plaintext)
}

func TestPutCommitGetRoundtrip(t *testing.T) {
	repo := openTestRepo(t)

	plaintext := []byte("hello, coldvault")
	id := testID(repo, plaintext)

	if err := repo.Put(id, plaintext); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	got, err := repo.Get(id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Get() = %q, want %q", got, plaintext)
	}
}

func TestGetMissingObject(t *testing.T) {
	repo := openTestRepo(t)

	id := testID(repo, []byte("never stored"))
	if _, err := repo.Get(id); err != ErrNotFound {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteThenCommitMakesObjectUnreachable(t *testing.T) {
	repo := openTestRepo(t)

	plaintext := []byte("ephemeral")
	id := testID(repo, plaintext)

	if err := repo.Put(id, plaintext); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if err := repo.Delete(id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	if _, err := repo.Get(id); err != ErrNotFound {
		t.Errorf("Get() after delete+commit error = %v, want ErrNotFound", err)
	}
}

func TestPutSameIDTwiceKeepsLatestLocation(t *testing.T) {
	repo := openTestRepo(t)

	plaintext := []byte("same bytes twice")
	id := testID(repo, plaintext)

	if err := repo.Put(id, plaintext); err != nil {
		t.Fatalf("first Put() failed: %v", err)
	}
	if err := repo.Put(id, plaintext); err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	got, err := repo.Get(id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Get() = %q, want %q", got, plaintext)
	}
}

func TestCheckVerifyDataSucceedsOnHealthyRepo(t *testing.T) {
	repo := openTestRepo(t)

	for i := 0; i < 3; i++ {
		plaintext := []byte{byte(i), byte(i), byte(i)}
		id := testID(repo, plaintext)
		if err := repo.Put(id, plaintext); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	report, err := repo.Check(true, 0, 0)
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !report.OK() {
		t.Errorf("Check() report not OK: %+v", report)
	}
	if report.ObjectsVerified != 3 {
		t.Errorf("ObjectsVerified = %d, want 3", report.ObjectsVerified)
	}
}

func TestReopenRecoversUncommittedSegment(t *testing.T) {
	dir := t.TempDir()
	repoPath := filepath.Join(dir, "repo")
	securityDir := filepath.Join(dir, "security")
	masterSecret := bytes.Repeat([]byte{0x22}, 32)

	if _, err := Create(repoPath, ModeRepokey); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	repo, err := Open(repoPath, "test-host", securityDir, masterSecret)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	plaintext := []byte("committed before crash")
	id := testID(repo, plaintext)
	if err := repo.Put(id, plaintext); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	uncommittedPlaintext := []byte("never committed")
	uncommittedID := testID(repo, uncommittedPlaintext)
	if err := repo.Put(uncommittedID, uncommittedPlaintext); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	// Simulate a crash: release the lock without sealing the segment.
	if err := repo.lock.Release(); err != nil {
		t.Fatalf("lock release failed: %v", err)
	}

	reopened, err := Open(repoPath, "test-host", securityDir, masterSecret)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if got, err := reopened.Get(id); err != nil || !bytes.Equal(got, plaintext) {
		t.Errorf("committed object lost across recovery: got=%q err=%v", got, err)
	}
	if _, err := reopened.Get(uncommittedID); err != ErrNotFound {
		t.Errorf("uncommitted object should not survive recovery, err=%v", err)
	}
}

func TestRebuildRecoversIndexFromSegments(t *testing.T) {
	repo := openTestRepo(t)

	var ids [][]byte
	for i := 0; i < 5; i++ {
		plaintext := []byte{byte(i), byte(i), byte(i), byte(i)}
		id := testID(repo, plaintext)
		if err := repo.Put(id, plaintext); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		ids = append(ids, id)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if err := repo.Delete(ids[0]); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	if err := repo.Rebuild(); err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}

	if _, err := repo.Get(ids[0]); err != ErrNotFound {
		t.Errorf("deleted object should stay absent after Rebuild, err=%v", err)
	}
	for _, id := range ids[1:] {
		if _, err := repo.Get(id); err != nil {
			t.Errorf("Get(%x) failed after Rebuild: %v", id, err)
		}
	}

	report, err := repo.Check(true, 0, 0)
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !report.OK() {
		t.Errorf("Check() report not OK after Rebuild: %+v", report)
	}
}

func TestCheckBoundedScanReportsResumeSegment(t *testing.T) {
	repo := openTestRepo(t)

	// Each Put+Commit pair seals its own segment, so five commits give
	// Check something to page through in small batches.
	for i := 0; i < 5; i++ {
		plaintext := []byte{byte(i), byte(i)}
		id := testID(repo, plaintext)
		if err := repo.Put(id, plaintext); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		if err := repo.Commit(); err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}
	}

	report, err := repo.Check(false, 0, 2)
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if report.ResumeSegment == 0 {
		t.Fatal("expected a nonzero ResumeSegment from a bounded scan that didn't reach the end")
	}

	rest, err := repo.Check(false, report.ResumeSegment, 0)
	if err != nil {
		t.Fatalf("Check() resume failed: %v", err)
	}
	if rest.ResumeSegment != 0 {
		t.Errorf("ResumeSegment = %d, want 0 for an unbounded scan", rest.ResumeSegment)
	}
}

func TestDeleteMarksLivenessAndQueuesCompaction(t *testing.T) {
	repo := openTestRepo(t)

	var ids [][]byte
	for i := 0; i < 3; i++ {
		plaintext := []byte{byte(i), byte(i), byte(i)}
		id := testID(repo, plaintext)
		if err := repo.Put(id, plaintext); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		ids = append(ids, id)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	if err := repo.Delete(ids[0]); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if n, err := repo.compactionQ.Len(); err != nil || n != 0 {
		t.Fatalf("compaction queue len = %d, err=%v; want 0 at live ratio 2/3", n, err)
	}

	if err := repo.Delete(ids[1]); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if n, err := repo.compactionQ.Len(); err != nil || n != 1 {
		t.Fatalf("compaction queue len = %d, err=%v; want 1 at live ratio 1/3", n, err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	compacted, err := repo.DrainCompaction(8)
	if err != nil {
		t.Fatalf("DrainCompaction() failed: %v", err)
	}
	if len(compacted) != 1 {
		t.Fatalf("DrainCompaction() compacted %d segment(s), want 1", len(compacted))
	}

	got, err := repo.Get(ids[2])
	if err != nil || !bytes.Equal(got, []byte{2, 2, 2}) {
		t.Fatalf("Get(ids[2]) after compaction = %q, err=%v", got, err)
	}
	if _, err := repo.Get(ids[0]); err != ErrNotFound {
		t.Errorf("deleted object resurfaced after compaction, err=%v", err)
	}
	if _, err := repo.Get(ids[1]); err != ErrNotFound {
		t.Errorf("deleted object resurfaced after compaction, err=%v", err)
	}

	if n, err := repo.compactionQ.Len(); err != nil || n != 0 {
		t.Errorf("compaction queue should be drained, len=%d err=%v", n, err)
	}
}
