package archive

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/coldvault/coldvault/internal/cache"
	"github.com/coldvault/coldvault/internal/chunker"
	"github.com/coldvault/coldvault/internal/compressor"
	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/itemtype"
	"github.com/coldvault/coldvault/internal/repository"
	"github.com/coldvault/coldvault/internal/walker"
)

// CreateOptions configures one archive-creation run.
type CreateOptions struct {
	ArchiveName    string
	SourcePaths    []string
	Matcher        walker.Matcher
	ChunkerParams  chunker.Params
	CompressionTag compressor.Tag
	Comment        string
	CommandLine    []string

	// CheckpointEvery commits a partial `<name>.checkpoint` archive
	// after this many regular files, 0 disables checkpointing.
	CheckpointEvery int
}

// Creator drives archive creation against one repository, consulting
// and updating the client-side dedup caches as it goes.
type Creator struct {
	Repo    *repository.Repository
	Keys    *crypto.SessionKeys
	Chunks  *cache.ChunksIndex
	Files   *cache.FilesIndex
}

// contentID computes the content-address for plaintext under keys'
// keyed scheme (repokey/keyfile mode), or an unkeyed hash when keys is
// nil: a none-mode repository (spec.md §4.3) derives no session keys
// at all, so its content ids cannot be keyed.
func contentID(keys *crypto.SessionKeys, plaintext []byte) []byte {
	if keys == nil {
		return crypto.UnkeyedChunkID(plaintext)
	}
	return crypto.ChunkID(keys.IDHashKey, keys.ChunkSeed, plaintext)
}

// Create walks opts.SourcePaths, chunks and dedups every regular
// file's content, writes the resulting item stream and archive
// object, and records the archive in the manifest.
func (cr *Creator) Create(opts CreateOptions) (*Archive, *Session, error) {
	if opts.ChunkerParams.Validate() != nil {
		opts.ChunkerParams = chunker.DefaultParams()
	}

	session := NewSession(newSessionID(), opts.ArchiveName, opts.SourcePaths, 0)
	if err := session.TransitionTo(StateActive, ""); err != nil {
		return nil, session, err
	}

	var items []Item
	var filesDone, bytesWritten int64

	for _, root := range opts.SourcePaths {
		err := walker.Walk(root, opts.Matcher, func(e walker.Entry) error {
			if e.Err != nil {
				return nil // best-effort: record nothing for unreadable entries
			}
			if e.Path == "" {
				return nil // the root itself isn't recorded as an item
			}
			if !itemtype.Backupable(e.Kind) {
				return nil
			}

			item, err := cr.captureEntry(e, opts)
			if err != nil {
				return fmt.Errorf("archive: capture %q: %w", e.Path, err)
			}
			items = append(items, item)

			if item.Type == ItemRegular {
				filesDone++
				bytesWritten += item.Size
				session.UpdateProgress(filesDone, bytesWritten)

				if opts.CheckpointEvery > 0 && int(filesDone)%opts.CheckpointEvery == 0 {
					if err := cr.writeCheckpoint(opts, items, session); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			session.TransitionTo(StateFailed, err.Error())
			return nil, session, err
		}
	}

	arc, err := cr.finalize(opts, items, false)
	if err != nil {
		session.TransitionTo(StateFailed, err.Error())
		return nil, session, err
	}
	session.TransitionTo(StateCompleted, "")
	return arc, session, nil
}

// captureEntry builds one Item from a walked filesystem entry,
// chunking and storing a regular file's content as needed.
func (cr *Creator) captureEntry(e walker.Entry, opts CreateOptions) (Item, error) {
	info := e.Info
	sys := statInfo(info)

	item := Item{
		Path:    e.Path,
		Type:    kindToItemType(e.Kind),
		Mode:    uint32(info.Mode().Perm()),
		UID:     sys.uid,
		GID:     sys.gid,
		MtimeNS: info.ModTime().UnixNano(),
		CtimeNS: sys.ctimeNS,
		Size:    info.Size(),
	}
	if u, err := user.LookupId(strconv.Itoa(sys.uid)); err == nil {
		item.User = u.Username
	}

	switch item.Type {
	case ItemSymlink:
		target, err := os.Readlink(e.Abs)
		if err != nil {
			return Item{}, err
		}
		item.LinkTarget = target
	case ItemDirectory:
		// nothing further to capture
	case ItemRegular:
		chunks, err := cr.storeFile(e.Abs, sys.size, sys.mtimeNS, sys.ctimeNS, sys.inode, opts.ChunkerParams)
		if err != nil {
			item.Broken = true
			return item, nil
		}
		item.Chunks = chunks
		item.ContentHash = crypto.ComputeFileHashB64(e.Abs)
	}
	return item, nil
}

// storeFile returns the file's chunk list, consulting the
// files cache first and falling back to content-defined chunking plus
// the chunks cache for dedup.
func (cr *Creator) storeFile(path string, size, mtimeNS, ctimeNS int64, inode uint64, params chunker.Params) ([]ChunkRef, error) {
	if cr.Files != nil {
		if entry, err := cr.Files.Lookup(path); err == nil && entry.Unchanged(size, mtimeNS, ctimeNS, inode) {
			refs := make([]ChunkRef, 0, len(entry.ChunkIDs))
			for _, hexID := range entry.ChunkIDs {
				id, decErr := hex.DecodeString(hexID)
				if decErr != nil {
					break
				}
				entryInfo, found, getErr := cr.Chunks.Get(id)
				if getErr != nil || !found {
					break
				}
				if incErr := cr.Chunks.IncRef(id, entryInfo.Size, entryInfo.CSize); incErr != nil {
					return nil, incErr
				}
				refs = append(refs, ChunkRef{ID: id, Size: entryInfo.Size, CSize: entryInfo.CSize})
			}
			if len(refs) == len(entry.ChunkIDs) {
				return refs, nil
			}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	chunks, err := chunker.Split(f, params)
	if err != nil {
		return nil, err
	}

	refs := make([]ChunkRef, 0, len(chunks))
	hexIDs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		id := contentID(cr.Keys, c.Data)
		csize := uint32(len(c.Data))
		if !cr.Chunks.Has(id) {
			if err := cr.Repo.Put(id, c.Data); err != nil {
				return nil, err
			}
		}
		if err := cr.Chunks.IncRef(id, uint32(len(c.Data)), csize); err != nil {
			return nil, err
		}
		refs = append(refs, ChunkRef{ID: id, Size: uint32(len(c.Data)), CSize: csize})
		hexIDs = append(hexIDs, hex.EncodeToString(id))
	}

	if cr.Files != nil {
		_ = cr.Files.Put(cache.FileEntry{
			Path: path, Inode: inode, Size: size, MtimeNS: mtimeNS, CtimeNS: ctimeNS, ChunkIDs: hexIDs,
		})
	}

	return refs, nil
}

// finalize writes the item stream and archive object and records the
// archive (or, for a checkpoint, leaves the manifest untouched beyond
// the transient checkpoint entry) in the manifest.
func (cr *Creator) finalize(opts CreateOptions, items []Item, checkpoint bool) (*Archive, error) {
	streamBytes, err := EncodeItemStream(items)
	if err != nil {
		return nil, err
	}

	var streamChunkIDs [][]byte
	chunks, err := chunker.Split(bytes.NewReader(streamBytes), opts.ChunkerParams)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		id := contentID(cr.Keys, c.Data)
		if !cr.Chunks.Has(id) {
			if err := cr.Repo.Put(id, c.Data); err != nil {
				return nil, err
			}
		}
		if err := cr.Chunks.IncRef(id, uint32(len(c.Data)), uint32(len(c.Data))); err != nil {
			return nil, err
		}
		streamChunkIDs = append(streamChunkIDs, id)
	}

	name := opts.ArchiveName
	if checkpoint {
		name = opts.ArchiveName + ".checkpoint"
	}

	merkleRoot, err := chunker.ComputeMerkleRoot(base64ChunkIDs(streamChunkIDs))
	if err != nil {
		return nil, fmt.Errorf("archive: compute item-stream merkle root: %w", err)
	}

	arc := &Archive{
		Name:               name,
		Comment:            opts.Comment,
		StartTime:          time.Now(),
		EndTime:            time.Now(),
		Hostname:           hostname(),
		Username:           username(),
		CommandLine:        opts.CommandLine,
		ItemStreamChunkIDs: streamChunkIDs,
		ChunkerParams:      opts.ChunkerParams,
		CompressionTag:     opts.CompressionTag,
		Checkpoint:         checkpoint,
		MerkleRoot:         merkleRoot,
	}
	archiveBytes, err := arc.Marshal()
	if err != nil {
		return nil, err
	}
	archiveID := contentID(cr.Keys, archiveBytes)
	if err := cr.Repo.Put(archiveID, archiveBytes); err != nil {
		return nil, err
	}

	manifest, err := LoadManifest(cr.Repo, cr.Keys, false)
	if err != nil {
		manifest = NewManifest(opts.ChunkerParams, opts.CompressionTag)
	}
	manifest.Archives[name] = ArchiveRef{ID: archiveID, Timestamp: arc.EndTime}
	if err := manifest.Save(cr.Repo, cr.Keys); err != nil {
		return nil, err
	}
	if err := cr.Repo.Commit(); err != nil {
		return nil, err
	}

	return arc, nil
}

func (cr *Creator) writeCheckpoint(opts CreateOptions, items []Item, session *Session) error {
	if err := session.TransitionTo(StateCheckpointed, ""); err != nil {
		return err
	}
	if _, err := cr.finalize(opts, items, true); err != nil {
		return err
	}
	return session.TransitionTo(StateActive, "")
}

// base64ChunkIDs encodes a list of raw chunk ids for chunker.ComputeMerkleRoot,
// which operates over base64 strings rather than raw bytes.
func base64ChunkIDs(ids [][]byte) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = base64.StdEncoding.EncodeToString(id)
	}
	return out
}

func kindToItemType(k itemtype.Kind) ItemType {
	switch k {
	case itemtype.Regular:
		return ItemRegular
	case itemtype.Directory:
		return ItemDirectory
	case itemtype.Symlink:
		return ItemSymlink
	case itemtype.Device:
		return ItemDevice
	case itemtype.FIFO:
		return ItemFIFO
	default:
		return ItemRegular
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func username() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return u.Username
}

func newSessionID() string {
	return fmt.Sprintf("session-%d", time.Now().UnixNano())
}

type statFields struct {
	uid, gid         int
	size             int64
	mtimeNS, ctimeNS int64
	inode            uint64
}

func statInfo(info fs.FileInfo) statFields {
	return platformStat(info)
}
