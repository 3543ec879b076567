package archive

import (
	"bytes"
	"fmt"
	"time"

	"github.com/coldvault/coldvault/internal/cache"
	"github.com/coldvault/coldvault/internal/chunker"
	"github.com/coldvault/coldvault/internal/compressor"
	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/repository"
)

// RecreateOptions selects the new storage parameters an archive is
// rewritten under.
type RecreateOptions struct {
	ArchiveName    string
	ChunkerParams  chunker.Params
	CompressionTag compressor.Tag
}

// Recreator rewrites an existing archive's stored representation
// under new chunker/compression parameters without changing what it
// logically contains.
type Recreator struct {
	Repo   *repository.Repository
	Keys   *crypto.SessionKeys
	Chunks *cache.ChunksIndex
}

// Recreate streams opts.ArchiveName's content back out, re-chunks
// every regular file under the new parameters, re-stores the result,
// and replaces the archive's manifest entry with the new one. Item
// identity (path, mode, ownership, timestamps) is preserved exactly;
// only each regular file's Chunks list and the archive's own
// compression/chunker parameters change.
func (rc *Recreator) Recreate(manifest *Manifest, opts RecreateOptions) (*Archive, error) {
	if err := opts.ChunkerParams.Validate(); err != nil {
		return nil, fmt.Errorf("archive: recreate: %w", err)
	}

	oldRef, ok := manifest.Archives[opts.ArchiveName]
	if !ok {
		return nil, fmt.Errorf("archive: no such archive %q", opts.ArchiveName)
	}

	oldPayload, err := rc.Repo.Get(oldRef.ID)
	if err != nil {
		return nil, fmt.Errorf("archive: fetch archive object: %w", err)
	}
	oldArc, err := UnmarshalArchive(oldPayload)
	if err != nil {
		return nil, fmt.Errorf("archive: parse archive object: %w", err)
	}

	var oldStream []byte
	for _, id := range oldArc.ItemStreamChunkIDs {
		plaintext, err := rc.Repo.Get(id)
		if err != nil {
			return nil, fmt.Errorf("archive: fetch item-stream chunk: %w", err)
		}
		oldStream = append(oldStream, plaintext...)
	}
	items, err := DecodeItemStream(oldStream)
	if err != nil {
		return nil, fmt.Errorf("archive: parse item stream: %w", err)
	}

	for i := range items {
		if items[i].Type != ItemRegular || items[i].Broken {
			continue
		}
		newRefs, err := rc.rechunkItem(items[i], opts.ChunkerParams)
		if err != nil {
			return nil, fmt.Errorf("archive: rechunk %q: %w", items[i].Path, err)
		}
		items[i].Chunks = newRefs
	}

	newStreamBytes, err := EncodeItemStream(items)
	if err != nil {
		return nil, err
	}
	newStreamChunks, err := chunker.Split(bytes.NewReader(newStreamBytes), opts.ChunkerParams)
	if err != nil {
		return nil, err
	}
	var newStreamChunkIDs [][]byte
	for _, c := range newStreamChunks {
		id := contentID(rc.Keys, c.Data)
		if err := rc.putAndRef(id, c.Data); err != nil {
			return nil, err
		}
		newStreamChunkIDs = append(newStreamChunkIDs, id)
	}

	merkleRoot, err := chunker.ComputeMerkleRoot(base64ChunkIDs(newStreamChunkIDs))
	if err != nil {
		return nil, fmt.Errorf("archive: compute item-stream merkle root: %w", err)
	}

	newArc := &Archive{
		Name:               oldArc.Name,
		Comment:            oldArc.Comment,
		StartTime:          oldArc.StartTime,
		EndTime:            oldArc.EndTime,
		Hostname:           oldArc.Hostname,
		Username:           oldArc.Username,
		CommandLine:        oldArc.CommandLine,
		ItemStreamChunkIDs: newStreamChunkIDs,
		ChunkerParams:      opts.ChunkerParams,
		CompressionTag:     opts.CompressionTag,
		Checkpoint:         oldArc.Checkpoint,
		MerkleRoot:         merkleRoot,
	}
	newArcBytes, err := newArc.Marshal()
	if err != nil {
		return nil, err
	}
	newArcID := contentID(rc.Keys, newArcBytes)
	if err := rc.Repo.Put(newArcID, newArcBytes); err != nil {
		return nil, err
	}

	// Retire the old item stream's chunks and the old archive object;
	// the old file chunks were already retired per-item by rechunkItem.
	for _, id := range oldArc.ItemStreamChunkIDs {
		if err := rc.decref(id); err != nil {
			return nil, err
		}
	}
	if err := rc.Repo.Delete(oldRef.ID); err != nil {
		return nil, err
	}

	manifest.Archives[opts.ArchiveName] = ArchiveRef{ID: newArcID, Timestamp: time.Now()}
	if err := manifest.Save(rc.Repo, rc.Keys); err != nil {
		return nil, err
	}
	if err := rc.Repo.Commit(); err != nil {
		return nil, err
	}

	return newArc, nil
}

// rechunkItem reassembles one regular file's plaintext from its
// current chunk list, splits it again under newParams, stores any
// chunk not already known, and retires the chunks it no longer
// references.
func (rc *Recreator) rechunkItem(it Item, newParams chunker.Params) ([]ChunkRef, error) {
	var content []byte
	for _, ref := range it.Chunks {
		plaintext, err := rc.Repo.Get(ref.ID)
		if err != nil {
			return nil, err
		}
		content = append(content, plaintext...)
	}

	chunks, err := chunker.Split(bytes.NewReader(content), newParams)
	if err != nil {
		return nil, err
	}

	newRefs := make([]ChunkRef, 0, len(chunks))
	for _, c := range chunks {
		id := contentID(rc.Keys, c.Data)
		if err := rc.putAndRef(id, c.Data); err != nil {
			return nil, err
		}
		newRefs = append(newRefs, ChunkRef{ID: id, Size: uint32(len(c.Data)), CSize: uint32(len(c.Data))})
	}

	for _, ref := range it.Chunks {
		if err := rc.decref(ref.ID); err != nil {
			return nil, err
		}
	}

	return newRefs, nil
}

func (rc *Recreator) putAndRef(id, plaintext []byte) error {
	if !rc.Chunks.Has(id) {
		if err := rc.Repo.Put(id, plaintext); err != nil {
			return err
		}
	}
	return rc.Chunks.IncRef(id, uint32(len(plaintext)), uint32(len(plaintext)))
}

func (rc *Recreator) decref(id []byte) error {
	entry, found, err := rc.Chunks.Get(id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := rc.Chunks.DecRef(id); err != nil {
		return err
	}
	if entry.Refcount <= 1 {
		return rc.Repo.Delete(id)
	}
	return nil
}
