package repository

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

var (
	bucketIndex     = []byte("index")
	bucketIndexMeta = []byte("meta")
)

var keyHighestSegment = []byte("highest_segment")

// Location is where an object's PUT entry physically lives.
type Location struct {
	Segment uint64
	Offset  int64
}

func (l Location) marshal() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], l.Segment)
	binary.BigEndian.PutUint64(buf[8:16], uint64(l.Offset))
	return buf
}

func unmarshalLocation(v []byte) (Location, error) {
	if len(v) != 16 {
		return Location{}, fmt.Errorf("repository: malformed index value (len %d)", len(v))
	}
	return Location{
		Segment: binary.BigEndian.Uint64(v[0:8]),
		Offset:  int64(binary.BigEndian.Uint64(v[8:16])),
	}, nil
}

// Index is the persistent id -> (segment, offset) hashtable. It is
// rebuildable from scratch by replaying every segment's PUT/DELETE
// entries in order, so Bolt's own durability is sufficient; there is
// no separate index.<N> snapshot file, only this one database.
type Index struct {
	db *bolt.DB
}

// OpenIndex opens (creating if absent) the persistent index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("repository: open index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketIndex); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketIndexMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: init index buckets: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the index database.
func (ix *Index) Close() error { return ix.db.Close() }

// Lookup returns id's location, if indexed.
func (ix *Index) Lookup(id []byte) (Location, bool, error) {
	var loc Location
	found := false
	err := ix.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIndex).Get(id)
		if v == nil {
			return nil
		}
		l, err := unmarshalLocation(v)
		if err != nil {
			return err
		}
		loc, found = l, true
		return nil
	})
	return loc, found, err
}

// Put records id's location, replacing any previous one (a later PUT
// of the same id supersedes the earlier object).
func (ix *Index) Put(id []byte, loc Location) error {
	return ix.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndex).Put(id, loc.marshal())
	})
}

// Delete removes id from the index.
func (ix *Index) Delete(id []byte) error {
	return ix.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndex).Delete(id)
	})
}

// Len returns the number of indexed objects.
func (ix *Index) Len() (int, error) {
	n := 0
	err := ix.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketIndex).Stats().KeyN
		return nil
	})
	return n, err
}

// ForEach calls fn for every (id, location) pair in the index. fn
// must not mutate the index.
func (ix *Index) ForEach(fn func(id []byte, loc Location) error) error {
	return ix.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndex).ForEach(func(k, v []byte) error {
			loc, err := unmarshalLocation(v)
			if err != nil {
				return err
			}
			id := make([]byte, len(k))
			copy(id, k)
			return fn(id, loc)
		})
	})
}

// HighestSegment returns the highest segment number the index has
// ever been told about via SetHighestSegment, or 0 if none.
func (ix *Index) HighestSegment() (uint64, error) {
	var n uint64
	err := ix.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIndexMeta).Get(keyHighestSegment)
		if v != nil {
			n = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return n, err
}

// SetHighestSegment records n as the highest segment number reflected
// in the index, so recovery on open knows where replay must resume.
func (ix *Index) SetHighestSegment(n uint64) error {
	return ix.db.Update(func(tx *bolt.Tx) error {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], n)
		return tx.Bucket(bucketIndexMeta).Put(keyHighestSegment, buf[:])
	})
}

// Reset drops and recreates the index bucket, used when rebuilding
// the index from scratch by replaying every segment from zero.
func (ix *Index) Reset() error {
	return ix.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketIndex); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketIndex)
		return err
	})
}
