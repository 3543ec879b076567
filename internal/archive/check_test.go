package archive

import (
	"testing"

	"github.com/coldvault/coldvault/internal/chunker"
	"github.com/coldvault/coldvault/internal/compressor"
	"github.com/coldvault/coldvault/internal/crypto"
)

func chunkIDFor(keys *crypto.SessionKeys, plaintext []byte) []byte {
	return crypto.ChunkID(keys.IDHashKey, keys.ChunkSeed, plaintext)
}

func TestVerifyArchiveHealthyClosure(t *testing.T) {
	repo := openTestRepo(t)
	keys := repo.Keys()

	fileData := []byte("some file content that gets chunked")
	chunkID := chunkIDFor(keys, fileData)
	if err := repo.Put(chunkID, fileData); err != nil {
		t.Fatalf("Put(chunk) failed: %v", err)
	}

	items := []Item{{
		Path: "a.txt",
		Type: ItemRegular,
		Size: int64(len(fileData)),
		Chunks: []ChunkRef{{ID: chunkID, Size: uint32(len(fileData))}},
	}}
	streamBytes, err := EncodeItemStream(items)
	if err != nil {
		t.Fatalf("EncodeItemStream() failed: %v", err)
	}
	streamChunkID := chunkIDFor(keys, streamBytes)
	if err := repo.Put(streamChunkID, streamBytes); err != nil {
		t.Fatalf("Put(item stream) failed: %v", err)
	}

	arc := &Archive{
		Name:               "daily",
		ItemStreamChunkIDs: [][]byte{streamChunkID},
		ChunkerParams:      chunker.DefaultParams(),
		CompressionTag:     compressor.TagZstd,
	}
	archiveBytes, err := arc.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	archiveID := chunkIDFor(keys, archiveBytes)
	if err := repo.Put(archiveID, archiveBytes); err != nil {
		t.Fatalf("Put(archive) failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	m := NewManifest(chunker.DefaultParams(), compressor.TagZstd)
	m.Archives["daily"] = ArchiveRef{ID: archiveID}

	verifier := NewMerkleVerifier(repo)
	result := verifier.VerifyArchive("daily", m.Archives["daily"], true)
	if result.Status != VerificationSuccess {
		t.Fatalf("expected VerificationSuccess, got %v (failures: %+v)", result.Status, result.Failures)
	}
	if result.ItemsWalked != 1 || result.ChunksWalked != 1 {
		t.Fatalf("unexpected walk counts: items=%d chunks=%d", result.ItemsWalked, result.ChunksWalked)
	}
}

func TestVerifyArchiveMissingChunk(t *testing.T) {
	repo := openTestRepo(t)
	keys := repo.Keys()

	missingID := chunkIDFor(keys, []byte("never stored"))
	items := []Item{{
		Path:   "b.txt",
		Type:   ItemRegular,
		Chunks: []ChunkRef{{ID: missingID}},
	}}
	streamBytes, err := EncodeItemStream(items)
	if err != nil {
		t.Fatalf("EncodeItemStream() failed: %v", err)
	}
	streamChunkID := chunkIDFor(keys, streamBytes)
	if err := repo.Put(streamChunkID, streamBytes); err != nil {
		t.Fatalf("Put(item stream) failed: %v", err)
	}

	arc := &Archive{Name: "daily", ItemStreamChunkIDs: [][]byte{streamChunkID}}
	archiveBytes, err := arc.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	archiveID := chunkIDFor(keys, archiveBytes)
	if err := repo.Put(archiveID, archiveBytes); err != nil {
		t.Fatalf("Put(archive) failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	verifier := NewMerkleVerifier(repo)
	result := verifier.VerifyArchive("daily", ArchiveRef{ID: archiveID}, true)
	if result.Status == VerificationSuccess {
		t.Fatal("expected a failure for a missing chunk")
	}
	if len(result.Failures) != 1 || result.Failures[0].Kind != KindFileChunk {
		t.Fatalf("expected one file-chunk failure, got %+v", result.Failures)
	}
}
