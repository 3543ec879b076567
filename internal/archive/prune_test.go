package archive

import (
	"bytes"
	"testing"
	"time"

	"github.com/coldvault/coldvault/internal/chunker"
	"github.com/coldvault/coldvault/internal/compressor"
)

// putFakeArchive stores a minimal Archive object directly (bypassing
// Creator.finalize, which stamps the current time and appends its own
// ".checkpoint" suffix) so retention tests can pin exact timestamps
// and archive names.
func putFakeArchive(t *testing.T, cr *Creator, name string, ts time.Time, checkpoint bool) ArchiveRef {
	t.Helper()
	items := []Item{{Path: "f.txt", Type: ItemRegular, Size: 0, Chunks: []ChunkRef{}}}
	streamBytes, err := EncodeItemStream(items)
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := chunker.Split(bytes.NewReader(streamBytes), chunker.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	var streamChunkIDs [][]byte
	for _, c := range chunks {
		id := chunkIDFor(cr.Keys, c.Data)
		if err := cr.Repo.Put(id, c.Data); err != nil {
			t.Fatal(err)
		}
		if err := cr.Chunks.IncRef(id, uint32(len(c.Data)), uint32(len(c.Data))); err != nil {
			t.Fatal(err)
		}
		streamChunkIDs = append(streamChunkIDs, id)
	}

	arc := &Archive{
		Name:               name,
		StartTime:          ts,
		EndTime:            ts,
		ItemStreamChunkIDs: streamChunkIDs,
		ChunkerParams:      chunker.DefaultParams(),
		CompressionTag:     compressor.TagZstd,
		Checkpoint:         checkpoint,
	}
	archiveBytes, err := arc.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	archiveID := chunkIDFor(cr.Keys, archiveBytes)
	if err := cr.Repo.Put(archiveID, archiveBytes); err != nil {
		t.Fatal(err)
	}

	manifest, err := LoadManifest(cr.Repo, cr.Keys, false)
	if err != nil {
		t.Fatal(err)
	}
	ref := ArchiveRef{ID: archiveID, Timestamp: ts}
	manifest.Archives[name] = ref
	if err := manifest.Save(cr.Repo, cr.Keys); err != nil {
		t.Fatal(err)
	}
	if err := cr.Repo.Commit(); err != nil {
		t.Fatal(err)
	}
	return ref
}

func TestPruneKeepLastDeterministic(t *testing.T) {
	repo := openTestRepo(t)
	chunksIdx, filesIdx := openTestCaches(t)
	cr := &Creator{Repo: repo, Keys: repo.Keys(), Chunks: chunksIdx, Files: filesIdx}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	putFakeArchive(t, cr, "t1", base.Add(1*time.Hour), false)
	putFakeArchive(t, cr, "t2", base.Add(2*time.Hour), false)
	putFakeArchive(t, cr, "t3", base.Add(3*time.Hour), false)
	putFakeArchive(t, cr, "t4", base.Add(4*time.Hour), false)

	manifest, err := LoadManifest(repo, repo.Keys(), false)
	if err != nil {
		t.Fatalf("LoadManifest() failed: %v", err)
	}

	pr := &Pruner{Repo: repo, Chunks: chunksIdx}
	result, err := pr.Prune(manifest, RetentionPolicy{KeepLast: 2}, base.Add(5*time.Hour))
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}

	removed := map[string]bool{}
	for _, n := range result.Removed {
		removed[n] = true
	}
	if !removed["t1"] || !removed["t2"] {
		t.Fatalf("expected t1,t2 removed, got %v", result.Removed)
	}
	kept := map[string]bool{}
	for _, n := range result.Kept {
		kept[n] = true
	}
	if !kept["t3"] || !kept["t4"] {
		t.Fatalf("expected t3,t4 kept, got %v", result.Kept)
	}

	reloaded, err := LoadManifest(repo, repo.Keys(), false)
	if err != nil {
		t.Fatalf("LoadManifest() failed: %v", err)
	}
	if _, ok := reloaded.Archives["t1"]; ok {
		t.Error("t1 should have been removed from the manifest")
	}
	if _, ok := reloaded.Archives["t3"]; !ok {
		t.Error("t3 should still be in the manifest")
	}
}

func TestPruneAlwaysRemovesCheckpoints(t *testing.T) {
	repo := openTestRepo(t)
	chunksIdx, filesIdx := openTestCaches(t)
	cr := &Creator{Repo: repo, Keys: repo.Keys(), Chunks: chunksIdx, Files: filesIdx}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	putFakeArchive(t, cr, "daily.checkpoint", base, true)

	manifest, err := LoadManifest(repo, repo.Keys(), false)
	if err != nil {
		t.Fatalf("LoadManifest() failed: %v", err)
	}

	pr := &Pruner{Repo: repo, Chunks: chunksIdx}
	result, err := pr.Prune(manifest, RetentionPolicy{KeepLast: 100}, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != "daily.checkpoint" {
		t.Fatalf("expected checkpoint removed, got removed=%v kept=%v", result.Removed, result.Kept)
	}
}

func TestPruneIsIdempotent(t *testing.T) {
	repo := openTestRepo(t)
	chunksIdx, filesIdx := openTestCaches(t)
	cr := &Creator{Repo: repo, Keys: repo.Keys(), Chunks: chunksIdx, Files: filesIdx}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	putFakeArchive(t, cr, "a1", base.Add(1*time.Hour), false)
	putFakeArchive(t, cr, "a2", base.Add(2*time.Hour), false)

	policy := RetentionPolicy{KeepLast: 1}
	now := base.Add(3 * time.Hour)

	manifest, err := LoadManifest(repo, repo.Keys(), false)
	if err != nil {
		t.Fatal(err)
	}
	pr := &Pruner{Repo: repo, Chunks: chunksIdx}
	if _, err := pr.Prune(manifest, policy, now); err != nil {
		t.Fatalf("first Prune() failed: %v", err)
	}

	manifest2, err := LoadManifest(repo, repo.Keys(), false)
	if err != nil {
		t.Fatal(err)
	}
	result2, err := pr.Prune(manifest2, policy, now)
	if err != nil {
		t.Fatalf("second Prune() failed: %v", err)
	}
	if len(result2.Removed) != 0 {
		t.Fatalf("second Prune() should be a no-op, removed %v", result2.Removed)
	}
	if len(result2.Kept) != 1 || result2.Kept[0] != "a2" {
		t.Fatalf("expected a2 still kept, got %v", result2.Kept)
	}
}
