package repository

import (
	"fmt"
	"time"

	"github.com/boltdb/bolt"
)

// CompactionCandidate names one segment whose liveness ratio has
// dropped low enough to be worth rewriting, along with the priority
// compaction scoring assigned it (lower live ratio -> higher priority).
type CompactionCandidate struct {
	SegmentID string
	Priority  int
}

// CompactionQueue is a bolt-backed durable queue of segments awaiting
// compaction, so a crash mid-compaction doesn't lose track of pending
// work once the repository reopens.
type CompactionQueue struct {
	db *bolt.DB
}

var bucketCompactionQueue = []byte("compaction_queue")

// OpenCompactionQueue opens (creating if absent) the compaction queue
// at path.
func OpenCompactionQueue(path string) (*CompactionQueue, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketCompactionQueue)
		return e
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &CompactionQueue{db: db}, nil
}

// Enqueue adds or updates a segment's compaction priority.
func (q *CompactionQueue) Enqueue(item CompactionCandidate) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCompactionQueue)
		return b.Put([]byte(item.SegmentID), []byte{byte(item.Priority)})
	})
}

// DequeueBatch removes and returns up to n candidates, highest
// priority first.
func (q *CompactionQueue) DequeueBatch(n int) ([]CompactionCandidate, error) {
	var out []CompactionCandidate
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCompactionQueue)
		c := b.Cursor()

		var all []CompactionCandidate
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) != 1 {
				return fmt.Errorf("repository: corrupt compaction queue entry for %q", k)
			}
			all = append(all, CompactionCandidate{SegmentID: string(k), Priority: int(v[0])})
		}

		for i := 0; i < len(all) && len(out) < n; i++ {
			best := -1
			for j, cand := range all {
				if cand.SegmentID == "" {
					continue
				}
				if best == -1 || cand.Priority > all[best].Priority {
					best = j
				}
			}
			if best == -1 {
				break
			}
			out = append(out, all[best])
			if err := b.Delete([]byte(all[best].SegmentID)); err != nil {
				return err
			}
			all[best].SegmentID = ""
		}
		return nil
	})
	return out, err
}

// Len reports the number of segments currently queued.
func (q *CompactionQueue) Len() (int, error) {
	count := 0
	err := q.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCompactionQueue)
		return b.ForEach(func(k, v []byte) error {
			count++
			return nil
		})
	})
	return count, err
}

// Close releases the underlying bolt database.
func (q *CompactionQueue) Close() error { return q.db.Close() }
