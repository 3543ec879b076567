package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLivenessNotFound is returned when no persisted liveness bitmap
// exists for a segment.
var ErrLivenessNotFound = errors.New("repository: liveness bitmap not found")

// LivenessBitmap tracks, for one segment, which of its entries are
// still referenced by the current manifest set versus superseded by a
// later PUT of the same id or an explicit DELETE. Compaction reads
// this to decide whether a segment's live ratio has dropped low enough
// to rewrite.
type LivenessBitmap struct {
	segmentID   string
	totalEntries int64
	bitmap      []byte
	liveCount   int64
	mu          sync.RWMutex
}

// NewLivenessBitmap creates a liveness bitmap sized for totalEntries
// entries in segment segmentID, all initially marked live.
func NewLivenessBitmap(segmentID string, totalEntries int64) *LivenessBitmap {
	bitmapSize := (totalEntries + 7) / 8

	lb := &LivenessBitmap{
		segmentID:    segmentID,
		totalEntries: totalEntries,
		bitmap:       make([]byte, bitmapSize),
	}
	for i := int64(0); i < totalEntries; i++ {
		lb.setBit(i)
	}
	lb.liveCount = totalEntries
	return lb
}

func (lb *LivenessBitmap) setBit(entryIndex int64) {
	lb.bitmap[entryIndex/8] |= 1 << uint(entryIndex%8)
}

func (lb *LivenessBitmap) clearBit(entryIndex int64) {
	lb.bitmap[entryIndex/8] &^= 1 << uint(entryIndex%8)
}

// MarkDead marks entryIndex as no longer live, e.g. because a later
// segment entry superseded its object id.
func (lb *LivenessBitmap) MarkDead(entryIndex int64) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if entryIndex < 0 || entryIndex >= lb.totalEntries {
		return fmt.Errorf("entry index out of range: %d", entryIndex)
	}

	byteIndex := entryIndex / 8
	bitIndex := entryIndex % 8
	if lb.bitmap[byteIndex]&(1<<bitIndex) == 0 {
		return nil // already dead
	}

	lb.clearBit(entryIndex)
	lb.liveCount--
	return nil
}

// IsLive reports whether entryIndex is still referenced.
func (lb *LivenessBitmap) IsLive(entryIndex int64) bool {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if entryIndex < 0 || entryIndex >= lb.totalEntries {
		return false
	}

	byteIndex := entryIndex / 8
	bitIndex := entryIndex % 8
	return lb.bitmap[byteIndex]&(1<<bitIndex) != 0
}

// DeadEntries returns the indices of all entries marked dead.
func (lb *LivenessBitmap) DeadEntries() []int64 {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	var dead []int64
	for i := int64(0); i < lb.totalEntries; i++ {
		byteIndex := i / 8
		bitIndex := i % 8
		if lb.bitmap[byteIndex]&(1<<bitIndex) == 0 {
			dead = append(dead, i)
		}
	}
	return dead
}

// LiveRatio returns the fraction of entries still live, used by
// compaction to decide whether a segment is worth rewriting.
func (lb *LivenessBitmap) LiveRatio() float64 {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if lb.totalEntries == 0 {
		return 1.0
	}
	return float64(lb.liveCount) / float64(lb.totalEntries)
}

// Serialize returns the bitmap data for persistence.
func (lb *LivenessBitmap) Serialize() []byte {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	data := make([]byte, len(lb.bitmap))
	copy(data, lb.bitmap)
	return data
}

// Deserialize loads bitmap data from persistence.
func (lb *LivenessBitmap) Deserialize(data []byte) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if len(data) != len(lb.bitmap) {
		return fmt.Errorf("bitmap size mismatch: expected %d, got %d", len(lb.bitmap), len(data))
	}
	copy(lb.bitmap, data)

	lb.liveCount = 0
	for i := int64(0); i < lb.totalEntries; i++ {
		byteIndex := i / 8
		bitIndex := i % 8
		if lb.bitmap[byteIndex]&(1<<bitIndex) != 0 {
			lb.liveCount++
		}
	}
	return nil
}

// LivenessStore persists segment liveness bitmaps across repository
// opens so compaction candidate selection survives a restart.
type LivenessStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewLivenessStore wraps an already-open database connection. The
// caller owns schema creation for its own tables; LivenessStore
// creates only the segment_liveness table it needs.
func NewLivenessStore(db *sql.DB) (*LivenessStore, error) {
	ls := &LivenessStore{db: db}
	schema := `
		CREATE TABLE IF NOT EXISTS segment_liveness (
			segment_id TEXT PRIMARY KEY,
			bitmap_data BLOB NOT NULL,
			live_count INTEGER NOT NULL,
			last_updated TIMESTAMP NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("repository: create segment_liveness table: %w", err)
	}
	return ls, nil
}

// Save persists bitmap's current state.
func (ls *LivenessStore) Save(bitmap *LivenessBitmap) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	query := `
		INSERT OR REPLACE INTO segment_liveness
		(segment_id, bitmap_data, live_count, last_updated)
		VALUES (?, ?, ?, ?)
	`
	_, err := ls.db.Exec(query, bitmap.segmentID, bitmap.Serialize(), bitmap.liveCount, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save liveness bitmap: %w", err)
	}
	return nil
}

// Load retrieves the persisted bitmap for segmentID, sized for
// totalEntries entries.
func (ls *LivenessStore) Load(segmentID string, totalEntries int64) (*LivenessBitmap, error) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	var (
		bitmapData []byte
		liveCount  int64
		lastUpdated time.Time
	)

	query := `SELECT bitmap_data, live_count, last_updated FROM segment_liveness WHERE segment_id = ?`
	err := ls.db.QueryRow(query, segmentID).Scan(&bitmapData, &liveCount, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, ErrLivenessNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to load liveness bitmap: %w", err)
	}

	bitmap := NewLivenessBitmap(segmentID, totalEntries)
	if err := bitmap.Deserialize(bitmapData); err != nil {
		return nil, fmt.Errorf("failed to deserialize liveness bitmap: %w", err)
	}
	return bitmap, nil
}

// Delete removes segmentID's persisted bitmap, called after
// compaction rewrites or drops the segment entirely.
func (ls *LivenessStore) Delete(segmentID string) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	_, err := ls.db.Exec("DELETE FROM segment_liveness WHERE segment_id = ?", segmentID)
	if err != nil {
		return fmt.Errorf("failed to delete liveness bitmap: %w", err)
	}
	return nil
}
