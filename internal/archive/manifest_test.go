package archive

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/coldvault/coldvault/internal/chunker"
	"github.com/coldvault/coldvault/internal/compressor"
	"github.com/coldvault/coldvault/internal/repository"
)

func openTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	dir := t.TempDir()
	repoPath := filepath.Join(dir, "repo")
	if _, err := repository.Create(repoPath, repository.ModeRepokey); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	masterSecret := bytes.Repeat([]byte{0x22}, 32)
	repo, err := repository.Open(repoPath, "test-host", filepath.Join(dir, "security"), masterSecret)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestManifestSaveLoadRoundtrip(t *testing.T) {
	repo := openTestRepo(t)
	keys := repo.Keys()

	m := NewManifest(chunker.DefaultParams(), compressor.TagZstd)
	m.Archives["daily"] = ArchiveRef{ID: []byte{1, 2, 3}}

	if err := m.Save(repo, keys); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	loaded, err := LoadManifest(repo, keys, true)
	if err != nil {
		t.Fatalf("LoadManifest() failed: %v", err)
	}
	if _, ok := loaded.Archives["daily"]; !ok {
		t.Fatal("loaded manifest missing archive entry")
	}
}

func TestManifestLoadRequireTAMRejectsUnauthenticated(t *testing.T) {
	repo := openTestRepo(t)
	keys := repo.Keys()

	m := NewManifest(chunker.DefaultParams(), compressor.TagZstd)
	// Save without a TAM (keys == nil), then require one on load.
	if err := m.Save(repo, nil); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	if _, err := LoadManifest(repo, keys, true); err != ErrTAMMissing {
		t.Fatalf("expected ErrTAMMissing, got %v", err)
	}

	loaded, err := LoadManifest(repo, keys, false)
	if err != nil {
		t.Fatalf("LoadManifest(requireTAM=false) failed: %v", err)
	}
	if loaded.Version != manifestVersion {
		t.Fatalf("unexpected version %d", loaded.Version)
	}
}

func TestManifestLoadRejectsTamperedTAM(t *testing.T) {
	repo := openTestRepo(t)
	keys := repo.Keys()

	m := NewManifest(chunker.DefaultParams(), compressor.TagZstd)
	if err := m.Save(repo, keys); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	payload, err := repo.GetFixedID(ManifestID)
	if err != nil {
		t.Fatalf("GetFixedID() failed: %v", err)
	}
	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] ^= 0xff
	if err := repo.Put(ManifestID, tampered); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	if _, err := LoadManifest(repo, keys, true); err == nil {
		t.Fatal("expected an error loading a tampered manifest")
	}
}

func TestUpgradeTAM(t *testing.T) {
	repo := openTestRepo(t)
	keys := repo.Keys()

	m := NewManifest(chunker.DefaultParams(), compressor.TagZstd)
	if err := m.Save(repo, nil); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	if err := UpgradeTAM(repo, keys); err != nil {
		t.Fatalf("UpgradeTAM() failed: %v", err)
	}
	if err := repo.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	if _, err := LoadManifest(repo, keys, true); err != nil {
		t.Fatalf("LoadManifest(requireTAM=true) failed after upgrade: %v", err)
	}
}
