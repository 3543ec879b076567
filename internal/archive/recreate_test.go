package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coldvault/coldvault/internal/chunker"
	"github.com/coldvault/coldvault/internal/compressor"
	"github.com/coldvault/coldvault/internal/walker"
)

func TestRecreateChangesChunkerParamsPreservesContent(t *testing.T) {
	repo := openTestRepo(t)
	chunksIdx, filesIdx := openTestCaches(t)
	root := t.TempDir()

	content := []byte("able was i ere i saw elba, a long repeating phrase follows. ")
	var big []byte
	for i := 0; i < 500; i++ {
		big = append(big, content...)
	}
	if err := os.WriteFile(filepath.Join(root, "data.bin"), big, 0644); err != nil {
		t.Fatal(err)
	}

	cr := &Creator{Repo: repo, Keys: repo.Keys(), Chunks: chunksIdx, Files: filesIdx}
	originalParams := chunker.Params{Min: 1 << 12, Max: 1 << 15, MaskBits: 12, Window: 64}
	if err := originalParams.Validate(); err != nil {
		t.Fatalf("originalParams invalid: %v", err)
	}
	_, _, err := cr.Create(CreateOptions{
		ArchiveName:    "rc-test",
		SourcePaths:    []string{root},
		Matcher:        walker.AlwaysMatch,
		ChunkerParams:  originalParams,
		CompressionTag: compressor.TagZstd,
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	manifest, err := LoadManifest(repo, repo.Keys(), false)
	if err != nil {
		t.Fatalf("LoadManifest() failed: %v", err)
	}
	oldRef := manifest.Archives["rc-test"]

	rc := &Recreator{Repo: repo, Keys: repo.Keys(), Chunks: chunksIdx}
	newParams := chunker.Params{Min: 1 << 9, Max: 1 << 13, MaskBits: 10, Window: 64}
	if err := newParams.Validate(); err != nil {
		t.Fatalf("newParams invalid: %v", err)
	}
	newArc, err := rc.Recreate(manifest, RecreateOptions{
		ArchiveName:    "rc-test",
		ChunkerParams:  newParams,
		CompressionTag: compressor.TagZstd,
	})
	if err != nil {
		t.Fatalf("Recreate() failed: %v", err)
	}
	if newArc.ChunkerParams != newParams {
		t.Fatalf("new archive chunker params = %+v, want %+v", newArc.ChunkerParams, newParams)
	}

	reloaded, err := LoadManifest(repo, repo.Keys(), false)
	if err != nil {
		t.Fatalf("LoadManifest() failed: %v", err)
	}
	newRef, ok := reloaded.Archives["rc-test"]
	if !ok {
		t.Fatal("manifest missing rc-test after recreate")
	}
	if string(newRef.ID) == string(oldRef.ID) {
		t.Fatal("archive object id should have changed after recreate")
	}

	// The old archive object must no longer be fetchable: it was
	// deleted as part of the rewrite.
	if _, err := repo.Get(oldRef.ID); err == nil {
		t.Fatal("old archive object should have been deleted")
	}

	re := &Restorer{Repo: repo, Keys: repo.Keys()}
	dest := t.TempDir()
	if _, err := re.Restore(reloaded, RestoreOptions{ArchiveName: "rc-test", Destination: dest}); err != nil {
		t.Fatalf("Restore() after recreate failed: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "data.bin"))
	if err != nil {
		t.Fatalf("read restored data.bin: %v", err)
	}
	if string(got) != string(big) {
		t.Fatal("restored content does not match original after recreate")
	}
}

// A none-mode repository's Recreator must also fall back to unkeyed
// content ids rather than dereferencing a nil *crypto.SessionKeys.
func TestRecreateModeNone(t *testing.T) {
	repo := openTestRepoNone(t)
	chunksIdx, filesIdx := openTestCaches(t)
	root := t.TempDir()

	if err := os.WriteFile(filepath.Join(root, "data.bin"), []byte("none-mode content, repeated. none-mode content, repeated."), 0644); err != nil {
		t.Fatal(err)
	}

	cr := &Creator{Repo: repo, Keys: repo.Keys(), Chunks: chunksIdx, Files: filesIdx}
	_, _, err := cr.Create(CreateOptions{
		ArchiveName:    "rc-none",
		SourcePaths:    []string{root},
		Matcher:        walker.AlwaysMatch,
		ChunkerParams:  chunker.DefaultParams(),
		CompressionTag: compressor.TagZstd,
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	manifest, err := LoadManifest(repo, repo.Keys(), false)
	if err != nil {
		t.Fatalf("LoadManifest() failed: %v", err)
	}

	rc := &Recreator{Repo: repo, Keys: repo.Keys(), Chunks: chunksIdx}
	newParams := chunker.Params{Min: 1 << 9, Max: 1 << 13, MaskBits: 10, Window: 64}
	if err := newParams.Validate(); err != nil {
		t.Fatalf("newParams invalid: %v", err)
	}
	newArc, err := rc.Recreate(manifest, RecreateOptions{
		ArchiveName:    "rc-none",
		ChunkerParams:  newParams,
		CompressionTag: compressor.TagZstd,
	})
	if err != nil {
		t.Fatalf("Recreate() failed: %v", err)
	}
	if newArc.ChunkerParams != newParams {
		t.Fatalf("new archive chunker params = %+v, want %+v", newArc.ChunkerParams, newParams)
	}
}
