// Package repository implements the content-addressed, segmented
// append-only object store: framed PUT/DELETE/COMMIT entries grouped
// into numbered segment files, a persistent id -> location index, an
// exclusive/shared lock, and the transaction/check protocols that sit
// on top of them.
package repository

import (
	"bytes"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/coldvault/coldvault/internal/compressor"
	"github.com/coldvault/coldvault/internal/crypto"
)

// maxSegmentSize bounds how large a single segment file is allowed to
// grow before a transaction rotates to a new one.
const maxSegmentSize = 256 * 1024 * 1024

// compactionLiveRatioThreshold is the live/total ratio below which a
// segment is queued for compaction after a Delete lowers it further.
const compactionLiveRatioThreshold = 0.5

// segmentsPerSubdir bounds directory fan-out under data/.
const segmentsPerSubdir = 1000

// ErrNotFound is returned by Get when an id has no indexed location.
var ErrNotFound = fmt.Errorf("repository: object not found")

// ErrIDMismatch is returned by Get when a decrypted object's
// recomputed id does not match the id it was fetched under.
var ErrIDMismatch = fmt.Errorf("repository: decrypted object id mismatch")

// Repository is a single on-disk content-addressed object store.
// Exactly one Repository may hold the exclusive lock and mutate a
// given path at a time; see Lock.
type Repository struct {
	path   string
	dataDir string
	hostID string

	cfg    *RepoConfig
	index  *Index
	nonces *crypto.NonceManager
	keys   *crypto.SessionKeys
	codecs *compressor.Registry

	lock *Lock

	mu         sync.Mutex
	current    *SegmentWriter
	currentNum uint64

	livenessDB  *sql.DB
	liveness    *LivenessStore
	compactionQ *CompactionQueue
	segTrack    map[uint64]*segmentLiveness
}

// segmentLiveness pairs one segment's liveness bitmap with the
// offset->entry-index mapping needed to translate a Location (as
// returned by the index) into the bit MarkDead expects.
type segmentLiveness struct {
	bitmap  *LivenessBitmap
	offsets map[int64]int64
}

// Create initialises a new, empty repository at path.
func Create(path string, mode EncryptionMode) (*RepoConfig, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("repository: create repo dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(path, "data"), 0700); err != nil {
		return nil, fmt.Errorf("repository: create data dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "README"), []byte(readmeText), 0644); err != nil {
		return nil, fmt.Errorf("repository: write README: %w", err)
	}
	cfg, err := NewRepoConfig(mode)
	if err != nil {
		return nil, err
	}
	if err := cfg.Save(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

const readmeText = "This is a coldvault repository.\n" +
	"Do not hand-edit its contents; use the coldvault command-line tool.\n"

// Open opens an existing repository, taking the exclusive lock,
// loading its config, and deriving session keys from masterSecret
// (ignored when cfg.Mode is ModeNone). securityDir holds the nonce
// counter file.
func Open(path, hostID, securityDir string, masterSecret []byte) (*Repository, error) {
	cfg, err := LoadRepoConfig(path)
	if err != nil {
		return nil, err
	}

	lock, err := AcquireExclusive(path, hostID)
	if err != nil {
		return nil, err
	}

	index, err := OpenIndex(filepath.Join(path, "index.db"))
	if err != nil {
		lock.Release()
		return nil, err
	}

	var keys *crypto.SessionKeys
	if cfg.Mode != ModeNone {
		idBytes, err := hexDecodeRepoID(cfg.ID)
		if err != nil {
			index.Close()
			lock.Release()
			return nil, err
		}
		keys, err = crypto.DeriveSessionKeys(masterSecret, idBytes)
		if err != nil {
			index.Close()
			lock.Release()
			return nil, err
		}
	}

	nonces, err := crypto.OpenNonceManager(filepath.Join(securityDir, cfg.ID, "nonce_counter"))
	if err != nil {
		index.Close()
		lock.Release()
		return nil, err
	}

	livenessDB, err := sql.Open("sqlite", filepath.Join(path, "liveness.db"))
	if err != nil {
		index.Close()
		lock.Release()
		return nil, fmt.Errorf("repository: open liveness db: %w", err)
	}
	liveness, err := NewLivenessStore(livenessDB)
	if err != nil {
		livenessDB.Close()
		index.Close()
		lock.Release()
		return nil, err
	}
	compactionQ, err := OpenCompactionQueue(filepath.Join(path, "compaction_queue.db"))
	if err != nil {
		livenessDB.Close()
		index.Close()
		lock.Release()
		return nil, err
	}

	codecs := compressor.NewRegistry()
	if err := configureCodecs(codecs, cfg); err != nil {
		compactionQ.Close()
		livenessDB.Close()
		index.Close()
		lock.Release()
		return nil, err
	}

	repo := &Repository{
		path:        path,
		dataDir:     filepath.Join(path, "data"),
		hostID:      hostID,
		cfg:         cfg,
		index:       index,
		nonces:      nonces,
		keys:        keys,
		codecs:      codecs,
		lock:        lock,
		livenessDB:  livenessDB,
		liveness:    liveness,
		compactionQ: compactionQ,
		segTrack:    make(map[uint64]*segmentLiveness),
	}

	if err := repo.recover(); err != nil {
		repo.Close()
		return nil, err
	}

	return repo, nil
}

// configureCodecs registers the extra codecs cfg.CompressionTag needs
// beyond compressor.NewRegistry's always-available set: TagAuto and
// TagObfuscateBase both need an inner codec (and, for obfuscate, a
// padding distribution) selected before Compress/Decompress can
// dispatch to them.
func configureCodecs(codecs *compressor.Registry, cfg *RepoConfig) error {
	switch cfg.CompressionTag {
	case compressor.TagAuto:
		return codecs.RegisterAuto(cfg.AutoInnerTag)
	case compressor.TagObfuscateBase:
		dist, err := compressor.NewDistributionForLevel(cfg.ObfuscateLevel)
		if err != nil {
			return err
		}
		return codecs.RegisterObfuscate(cfg.ObfuscateInnerTag, dist)
	}
	return nil
}

// SetCompressionConfig changes the compression scheme future Puts use,
// persisting it to the on-disk config so later Opens pick it up too.
// Existing stored objects are unaffected; only recreate rewrites them
// under the new scheme.
func (r *Repository) SetCompressionConfig(tag, autoInner, obfuscateInner compressor.Tag, obfuscateLevel int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := *r.cfg
	next.CompressionTag = tag
	next.AutoInnerTag = autoInner
	next.ObfuscateInnerTag = obfuscateInner
	next.ObfuscateLevel = obfuscateLevel

	if err := configureCodecs(r.codecs, &next); err != nil {
		return err
	}
	*r.cfg = next
	return r.cfg.Save(r.path)
}

func hexDecodeRepoID(id string) ([]byte, error) {
	b, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("repository: malformed repo id %q: %w", id, err)
	}
	return b, nil
}

// Close releases the repository's resources and its exclusive lock.
// It does not discard any uncommitted transaction state; callers must
// Commit or allow recovery to roll back on next Open.
func (r *Repository) Close() error {
	var firstErr error
	if r.current != nil {
		if err := r.current.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.compactionQ != nil {
		if err := r.compactionQ.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.livenessDB != nil {
		if err := r.livenessDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.index.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.lock.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (r *Repository) segmentPath(num uint64) string {
	subdir := fmt.Sprintf("%d", num/segmentsPerSubdir)
	return filepath.Join(r.dataDir, subdir, fmt.Sprintf("%d", num))
}

// recover scans for the highest-numbered segment on disk and, if its
// last entry is not a COMMIT, truncates it to the last well-formed
// COMMIT boundary and replays its PUT/DELETE entries into the index,
// per the spec's crash-recovery contract.
func (r *Repository) recover() error {
	highest, err := r.index.HighestSegment()
	if err != nil {
		return err
	}

	num := highest
	for {
		path := r.segmentPath(num)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		scan, err := ScanSegment(path)
		if err != nil {
			return fmt.Errorf("repository: scan segment %d during recovery: %w", num, err)
		}
		if !scan.Sealed {
			if err := os.Truncate(path, scan.ValidLength); err != nil {
				return fmt.Errorf("repository: truncate uncommitted segment %d: %w", num, err)
			}
			for i, entry := range scan.Entries {
				if err := r.replayEntry(num, scan.Offsets[i], entry); err != nil {
					return err
				}
			}
			break
		}
		for i, entry := range scan.Entries {
			if err := r.replayEntry(num, scan.Offsets[i], entry); err != nil {
				return err
			}
		}
		if err := r.index.SetHighestSegment(num); err != nil {
			return err
		}
		num++
	}

	return nil
}

func (r *Repository) replayEntry(segNum uint64, offset int64, entry Entry) error {
	switch entry.Tag {
	case EntryPut:
		return r.index.Put(entry.ID, Location{Segment: segNum, Offset: offset})
	case EntryDelete:
		return r.index.Delete(entry.ID)
	default:
		return nil
	}
}

func (r *Repository) ensureSegment() error {
	if r.current != nil && r.current.Size() < maxSegmentSize {
		return nil
	}
	if r.current != nil {
		if err := r.current.Close(); err != nil {
			return err
		}
	}
	num := r.currentNum
	if r.current != nil {
		num++
	} else {
		highest, err := r.index.HighestSegment()
		if err != nil {
			return err
		}
		num = highest
		if _, err := os.Stat(r.segmentPath(num)); err == nil {
			num++
		}
	}
	path := r.segmentPath(num)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("repository: create segment subdir: %w", err)
	}
	sw, err := CreateSegment(path)
	if err != nil {
		return err
	}
	r.current = sw
	r.currentNum = num
	return nil
}

// Put compresses, encrypts, and frames plaintext as object id, buffering
// it in the current (not-yet-committed) segment. The caller must have
// already computed id (a keyed hash of plaintext) and decided it is
// not already present.
func (r *Repository) Put(id, plaintext []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureSegment(); err != nil {
		return err
	}

	payload, err := r.seal(id, plaintext)
	if err != nil {
		return err
	}

	offset, err := r.current.Append(Entry{Tag: EntryPut, ID: id, Payload: payload})
	if err != nil {
		return err
	}
	return r.index.Put(id, Location{Segment: r.currentNum, Offset: offset})
}

// Delete buffers a DELETE entry for id, removing it from the index
// immediately (it becomes permanently unresolvable as of this buffered
// write, even before Commit, matching "within one transaction readers
// observe their own writes").
func (r *Repository) Delete(id []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	loc, found, err := r.index.Lookup(id)
	if err != nil {
		return err
	}

	if err := r.ensureSegment(); err != nil {
		return err
	}
	if _, err := r.current.Append(Entry{Tag: EntryDelete, ID: id}); err != nil {
		return err
	}
	if err := r.index.Delete(id); err != nil {
		return err
	}

	if found {
		r.markDead(loc)
	}
	return nil
}

// markDead records loc's entry as no longer live in its segment's
// liveness bitmap and, once the segment's live ratio drops below
// compactionLiveRatioThreshold, enqueues it for compaction. Liveness
// tracking is best-effort: any failure here is swallowed rather than
// failing the Delete that triggered it, since the DELETE entry is
// already durable in the segment log by this point.
func (r *Repository) markDead(loc Location) {
	if r.liveness == nil || r.compactionQ == nil {
		return
	}
	seg, err := r.segmentLivenessFor(loc.Segment)
	if err != nil {
		return
	}
	idx, ok := seg.offsets[loc.Offset]
	if !ok {
		return
	}
	if err := seg.bitmap.MarkDead(idx); err != nil {
		return
	}
	_ = r.liveness.Save(seg.bitmap)

	if ratio := seg.bitmap.LiveRatio(); ratio < compactionLiveRatioThreshold {
		priority := int((1 - ratio) * 100)
		_ = r.compactionQ.Enqueue(CompactionCandidate{SegmentID: segmentKey(loc.Segment), Priority: priority})
	}
}

// segmentLivenessFor returns segNum's liveness tracker, loading it
// from the persistent store or building a fresh all-live one by
// scanning the segment if this is the first time this process has
// touched it.
func (r *Repository) segmentLivenessFor(segNum uint64) (*segmentLiveness, error) {
	if seg, ok := r.segTrack[segNum]; ok {
		return seg, nil
	}

	scan, err := ScanSegment(r.segmentPath(segNum))
	if err != nil {
		return nil, err
	}
	offsets := make(map[int64]int64)
	var total int64
	for i, entry := range scan.Entries {
		if entry.Tag != EntryPut {
			continue
		}
		offsets[scan.Offsets[i]] = total
		total++
	}

	key := segmentKey(segNum)
	bitmap, err := r.liveness.Load(key, total)
	if err == ErrLivenessNotFound {
		bitmap = NewLivenessBitmap(key, total)
		if saveErr := r.liveness.Save(bitmap); saveErr != nil {
			return nil, saveErr
		}
	} else if err != nil {
		return nil, err
	}

	seg := &segmentLiveness{bitmap: bitmap, offsets: offsets}
	r.segTrack[segNum] = seg
	return seg, nil
}

func segmentKey(segNum uint64) string {
	return strconv.FormatUint(segNum, 10)
}

// Compact rewrites segmentID's still-live entries into the
// repository's current write stream, re-pointing the index at their
// new locations, commits that rewrite, then removes the old segment
// file and its liveness bookkeeping. Driven by CompactionWorker, which
// pops candidates Delete queued via markDead.
func (r *Repository) Compact(segmentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	segNum, err := strconv.ParseUint(segmentID, 10, 64)
	if err != nil {
		return fmt.Errorf("repository: invalid compaction segment id %q: %w", segmentID, err)
	}
	path := r.segmentPath(segNum)
	scan, err := ScanSegment(path)
	if err != nil {
		return fmt.Errorf("repository: scan segment %d for compaction: %w", segNum, err)
	}

	for i, entry := range scan.Entries {
		if entry.Tag != EntryPut {
			continue
		}
		loc, found, err := r.index.Lookup(entry.ID)
		if err != nil {
			return err
		}
		if !found || loc.Segment != segNum || loc.Offset != scan.Offsets[i] {
			continue // superseded by a later PUT or removed by a DELETE
		}

		if err := r.ensureSegment(); err != nil {
			return err
		}
		newOffset, err := r.current.Append(Entry{Tag: EntryPut, ID: entry.ID, Payload: entry.Payload})
		if err != nil {
			return err
		}
		if err := r.index.Put(entry.ID, Location{Segment: r.currentNum, Offset: newOffset}); err != nil {
			return err
		}
	}

	// Seal and fsync the rewritten entries before unlinking their old
	// home: otherwise a crash between the two would lose them outright
	// (the copies would be neither committed in the new segment nor
	// recoverable from the old, already-deleted one).
	if err := r.commitLocked(); err != nil {
		return fmt.Errorf("repository: commit rewritten entries for segment %d: %w", segNum, err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("repository: remove compacted segment %d: %w", segNum, err)
	}
	delete(r.segTrack, segNum)
	if r.liveness != nil {
		_ = r.liveness.Delete(segmentKey(segNum))
	}
	return nil
}

// StartBackgroundCompaction launches a CompactionWorker that polls the
// compaction queue every interval and compacts whatever candidates it
// pops (each call commits internally), returning a function that stops
// the worker. It is a no-op only when the repository has no compaction
// queue; Open always opens one, ModeNone repositories included.
func (r *Repository) StartBackgroundCompaction(interval time.Duration) func() {
	if r.compactionQ == nil {
		return func() {}
	}
	worker := NewCompactionWorker(r.compactionQ, interval, r.Compact)
	worker.Start()
	return worker.Stop
}

// DrainCompaction pops up to n candidates off the compaction queue and
// compacts each in turn, committing after every segment so a failure
// partway through only loses the remaining candidates, not progress
// already made. It returns the segment ids it successfully compacted.
func (r *Repository) DrainCompaction(n int) ([]string, error) {
	if r.compactionQ == nil {
		return nil, nil
	}
	items, err := r.compactionQ.DequeueBatch(n)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, item := range items {
		if err := r.Compact(item.SegmentID); err != nil {
			return done, fmt.Errorf("repository: compact segment %s: %w", item.SegmentID, err)
		}
		done = append(done, item.SegmentID)
	}
	return done, nil
}

// Get fetches and decrypts id's object, verifying both authentication
// and that the plaintext re-hashes to id (in ModeNone neither check is
// made). Use this for chunk and
// item-stream objects, whose id is defined as a hash of their content.
func (r *Repository) Get(id []byte) ([]byte, error) {
	return r.get(id, true)
}

// GetFixedID fetches and decrypts id's object without checking that
// the plaintext re-hashes to id. It exists solely for the manifest,
// whose id is a fixed well-known value rather than a content hash;
// the manifest's own TAM provides its authentication instead.
func (r *Repository) GetFixedID(id []byte) ([]byte, error) {
	return r.get(id, false)
}

// Keys returns the repository's derived session keys, or nil for a
// ModeNone repository. Callers use this to compute content-addressed
// ids (crypto.ChunkID) and manifest TAMs (crypto.ComputeTAM) outside
// the repository package.
func (r *Repository) Keys() *crypto.SessionKeys {
	return r.keys
}

func (r *Repository) get(id []byte, verifyID bool) ([]byte, error) {
	loc, found, err := r.index.Lookup(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	if r.current != nil && loc.Segment == r.currentNum {
		// Not yet flushed to disk: force it out so the read below sees it.
		if err := r.current.Sync(); err != nil {
			return nil, err
		}
	}
	entry, err := ReadEntryAt(r.segmentPath(loc.Segment), loc.Offset)
	if err != nil {
		return nil, err
	}
	if entry.Tag != EntryPut || !bytes.Equal(entry.ID, id) {
		return nil, fmt.Errorf("repository: index points at a non-matching entry for id")
	}

	return r.open(id, entry.Payload, verifyID)
}

// Commit seals the current segment with a COMMIT entry, fsyncs it,
// and rotates to a new segment for subsequent writes. It is a no-op
// if nothing has been buffered since the last commit.
func (r *Repository) Commit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commitLocked()
}

func (r *Repository) commitLocked() error {
	if r.current == nil {
		return nil
	}
	if _, err := r.current.Append(Entry{Tag: EntryCommit}); err != nil {
		return err
	}
	if err := r.current.Sync(); err != nil {
		return err
	}
	if err := r.index.SetHighestSegment(r.currentNum); err != nil {
		return err
	}
	if err := r.current.Close(); err != nil {
		return err
	}
	r.current = nil
	return nil
}

// seal compresses then encrypts plaintext, using id as AEAD
// associated data, returning the framed payload: an 8-byte nonce
// counter followed by the ciphertext.
// In ModeNone it returns the compressed bytes unencrypted.
func (r *Repository) seal(id, plaintext []byte) ([]byte, error) {
	compressed, err := r.codecs.Compress(r.cfg.CompressionTag, plaintext)
	if err != nil {
		return nil, fmt.Errorf("repository: compress object: %w", err)
	}
	if r.cfg.Mode == ModeNone {
		return compressed, nil
	}

	counter, err := r.nonces.Next()
	if err != nil {
		return nil, err
	}
	nonce := crypto.DeriveNonce(r.cfg.IVBase, counter)
	ciphertext, err := crypto.Seal(r.keys.EncryptionKey[:], nonce[:], id, compressed)
	if err != nil {
		return nil, err
	}

	// Prefix the nonce counter so Open can reconstruct the nonce
	// without a side index.
	out := make([]byte, 8+len(ciphertext))
	putUint64(out[:8], counter)
	copy(out[8:], ciphertext)
	return out, nil
}

func (r *Repository) open(id, payload []byte, verifyID bool) ([]byte, error) {
	var compressed []byte
	if r.cfg.Mode == ModeNone {
		compressed = payload
	} else {
		if len(payload) < 8 {
			return nil, fmt.Errorf("repository: truncated sealed payload")
		}
		counter := getUint64(payload[:8])
		nonce := crypto.DeriveNonce(r.cfg.IVBase, counter)
		plain, err := crypto.Open(r.keys.EncryptionKey[:], nonce[:], id, payload[8:])
		if err != nil {
			return nil, err
		}
		compressed = plain
	}

	plaintext, err := r.codecs.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("repository: decompress object: %w", err)
	}

	if verifyID && r.cfg.Mode != ModeNone {
		gotID := crypto.ChunkID(r.keys.IDHashKey, r.keys.ChunkSeed, plaintext)
		if !bytes.Equal(gotID, id) {
			return nil, ErrIDMismatch
		}
	}
	return plaintext, nil
}

// Config returns the repository's loaded on-disk config.
func (r *Repository) Config() *RepoConfig { return r.cfg }

// Index exposes the persistent index for callers that need to
// enumerate objects (e.g. check, compaction candidate selection).
func (r *Repository) Index() *Index { return r.index }

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
