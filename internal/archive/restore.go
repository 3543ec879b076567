package archive

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/repository"
)

// RestoreOptions configures extraction of one archive.
type RestoreOptions struct {
	ArchiveName string
	// Destination is the filesystem root items are restored under;
	// each Item.Path is joined to it after rejecting any path escaping
	// the destination.
	Destination string
	// Strip removes this many leading path components from every
	// item, the way `tar --strip-components` does.
	Strip int
	// DryRun lists what would be restored without writing anything.
	DryRun bool
}

// Restorer reads an archive back out of a repository.
type Restorer struct {
	Repo *repository.Repository
	Keys *crypto.SessionKeys
}

// RestoreResult summarises one restore run.
type RestoreResult struct {
	ItemsRestored int
	BytesWritten  int64
	Skipped       []string // items whose Broken flag was set, restored as empty files
}

// Restore extracts opts.ArchiveName from manifest into opts.Destination.
func (re *Restorer) Restore(manifest *Manifest, opts RestoreOptions) (RestoreResult, error) {
	var result RestoreResult

	ref, ok := manifest.Archives[opts.ArchiveName]
	if !ok {
		return result, fmt.Errorf("archive: no such archive %q", opts.ArchiveName)
	}

	archivePayload, err := re.Repo.Get(ref.ID)
	if err != nil {
		return result, fmt.Errorf("archive: fetch archive object: %w", err)
	}
	arc, err := UnmarshalArchive(archivePayload)
	if err != nil {
		return result, fmt.Errorf("archive: parse archive object: %w", err)
	}

	var streamData []byte
	for _, chunkID := range arc.ItemStreamChunkIDs {
		plaintext, err := re.Repo.Get(chunkID)
		if err != nil {
			return result, fmt.Errorf("archive: fetch item-stream chunk: %w", err)
		}
		streamData = append(streamData, plaintext...)
	}

	items, err := DecodeItemStream(streamData)
	if err != nil {
		return result, fmt.Errorf("archive: parse item stream: %w", err)
	}

	// Directories first, in path order, so a later file under a
	// not-yet-created directory never fails for a missing parent.
	for _, it := range items {
		if it.Type == ItemDirectory {
			if err := re.restoreItem(it, opts, &result); err != nil {
				return result, err
			}
		}
	}
	for _, it := range items {
		if it.Type != ItemDirectory {
			if err := re.restoreItem(it, opts, &result); err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

func (re *Restorer) restoreItem(it Item, opts RestoreOptions, result *RestoreResult) error {
	destPath, ok := resolveDestination(opts.Destination, it.Path, opts.Strip)
	if !ok {
		return fmt.Errorf("archive: item path %q escapes destination", it.Path)
	}
	if opts.DryRun {
		result.ItemsRestored++
		return nil
	}

	switch it.Type {
	case ItemDirectory:
		if err := os.MkdirAll(destPath, 0755); err != nil {
			return err
		}
	case ItemSymlink:
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return err
		}
		os.Remove(destPath)
		if err := os.Symlink(it.LinkTarget, destPath); err != nil {
			return err
		}
	case ItemRegular:
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return err
		}
		n, err := re.writeFile(destPath, it)
		if err != nil {
			return err
		}
		result.BytesWritten += n
		if it.Broken {
			result.Skipped = append(result.Skipped, it.Path)
		}
	default:
		// devices/FIFOs: metadata recorded but not reconstructed,
		// consistent with running unprivileged.
	}

	if it.Type != ItemSymlink {
		os.Chmod(destPath, os.FileMode(it.Mode))
	}
	os.Chtimes(destPath, time.Unix(0, it.MtimeNS), time.Unix(0, it.MtimeNS))

	result.ItemsRestored++
	return nil
}

func (re *Restorer) writeFile(destPath string, it Item) (int64, error) {
	f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(it.Mode))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if it.Broken {
		return 0, nil
	}

	var written int64
	for _, chunk := range it.Chunks {
		plaintext, err := re.Repo.Get(chunk.ID)
		if err != nil {
			return written, fmt.Errorf("archive: fetch chunk for %q: %w", it.Path, err)
		}
		n, err := f.Write(plaintext)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// resolveDestination joins an item's path under root after stripping
// components and rejecting a path that would escape root (an
// absolute path, or one climbing out via "..").
func resolveDestination(root, itemPath string, strip int) (string, bool) {
	if strings.HasPrefix(itemPath, "/") {
		return "", false
	}
	parts := strings.Split(itemPath, "/")
	if strip > 0 {
		if strip >= len(parts) {
			return "", false
		}
		parts = parts[strip:]
	}
	clean := path.Clean(strings.Join(parts, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return filepath.Join(root, filepath.FromSlash(clean)), true
}
