package cache

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

var bucketChunks = []byte("chunks")

// ChunkEntry tracks one content-addressed chunk's reference count and
// sizes so dedup decisions and repository space accounting don't need
// to scan the segment log.
type ChunkEntry struct {
	Refcount uint32
	Size     uint32 // plaintext size
	CSize    uint32 // stored size as supplied by the caller; archive.Creator passes the plaintext length
}

func (e ChunkEntry) marshal() []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], e.Refcount)
	binary.BigEndian.PutUint32(buf[4:8], e.Size)
	binary.BigEndian.PutUint32(buf[8:12], e.CSize)
	return buf
}

func unmarshalChunkEntry(v []byte) (ChunkEntry, error) {
	if len(v) != 12 {
		return ChunkEntry{}, fmt.Errorf("cache: corrupt chunk entry, want 12 bytes got %d", len(v))
	}
	return ChunkEntry{
		Refcount: binary.BigEndian.Uint32(v[0:4]),
		Size:     binary.BigEndian.Uint32(v[4:8]),
		CSize:    binary.BigEndian.Uint32(v[8:12]),
	}, nil
}

// ChunksIndex is a client-side cache of which chunk ids are already
// known to be present in the repository, and at what reference count,
// so repeated backups can skip re-encrypting and re-uploading chunks
// that are already stored.
type ChunksIndex struct {
	db *bolt.DB
}

// OpenChunksIndex opens (creating if absent) the bolt-backed chunks
// cache at path.
func OpenChunksIndex(path string) (*ChunksIndex, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketChunks)
		return e
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &ChunksIndex{db: db}, nil
}

// Close releases the underlying bolt database.
func (c *ChunksIndex) Close() error { return c.db.Close() }

// Has reports whether id is already known to the cache.
func (c *ChunksIndex) Has(id []byte) bool {
	var ok bool
	_ = c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketChunks)
		if bk == nil {
			return nil
		}
		ok = bk.Get(id) != nil
		return nil
	})
	return ok
}

// Get returns the cached entry for id, if any.
func (c *ChunksIndex) Get(id []byte) (ChunkEntry, bool, error) {
	var entry ChunkEntry
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketChunks)
		if bk == nil {
			return nil
		}
		v := bk.Get(id)
		if v == nil {
			return nil
		}
		e, err := unmarshalChunkEntry(v)
		if err != nil {
			return err
		}
		entry, found = e, true
		return nil
	})
	return entry, found, err
}

// IncRef increments id's reference count, creating the entry with
// size/csize if it doesn't already exist. Call this once per archive
// item that references the chunk, including the first time it's
// stored.
func (c *ChunksIndex) IncRef(id []byte, size, csize uint32) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketChunks)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		entry := ChunkEntry{Size: size, CSize: csize}
		if v := bk.Get(id); v != nil {
			existing, err := unmarshalChunkEntry(v)
			if err != nil {
				return err
			}
			entry = existing
		}
		entry.Refcount++
		return bk.Put(id, entry.marshal())
	})
}

// DecRef decrements id's reference count, deleting the entry entirely
// once it reaches zero. Called when pruning removes the last archive
// referencing a chunk.
func (c *ChunksIndex) DecRef(id []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketChunks)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		v := bk.Get(id)
		if v == nil {
			return nil
		}
		entry, err := unmarshalChunkEntry(v)
		if err != nil {
			return err
		}
		if entry.Refcount <= 1 {
			return bk.Delete(id)
		}
		entry.Refcount--
		return bk.Put(id, entry.marshal())
	})
}

// Resync rebuilds the cache from scratch by replacing its contents
// with refs, a map of chunk id (as a string key) to live reference
// count and sizes computed by summing every archive's item-stream.
// Use this to recover from a cache that has drifted from the
// repository's actual state (e.g. after an interrupted prune).
func (c *ChunksIndex) Resync(refs map[string]ChunkEntry) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketChunks); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		bk, err := tx.CreateBucket(bucketChunks)
		if err != nil {
			return err
		}
		for id, entry := range refs {
			if err := bk.Put([]byte(id), entry.marshal()); err != nil {
				return err
			}
		}
		return nil
	})
}
