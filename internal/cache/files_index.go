package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrFileNotFound is returned when a path has no cached entry.
var ErrFileNotFound = errors.New("cache: file not found in files index")

// FileEntry is one cached record of a previously-backed-up file,
// letting a later run skip re-chunking files whose filesystem
// metadata hasn't changed.
type FileEntry struct {
	Path     string
	Inode    uint64
	Size     int64
	MtimeNS  int64
	CtimeNS  int64
	ChunkIDs []string // hex-encoded chunk ids, in file order
	Age      int      // backup runs since this entry was last confirmed live
}

// FilesIndex is a SQLite-backed cache mapping filesystem paths to the
// chunk ids they were last split into, keyed by a cheap-to-check
// metadata fingerprint (size + mtime + inode) so unchanged files skip
// re-chunking entirely.
type FilesIndex struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenFilesIndex opens (creating if absent) the files index at dbPath.
func OpenFilesIndex(dbPath string) (*FilesIndex, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	idx := &FilesIndex{db: db}

	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return idx, nil
}

func (idx *FilesIndex) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS files_index (
			path TEXT PRIMARY KEY,
			inode INTEGER NOT NULL,
			size INTEGER NOT NULL,
			mtime_ns INTEGER NOT NULL,
			ctime_ns INTEGER NOT NULL,
			chunk_ids TEXT NOT NULL,
			age INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_files_age ON files_index(age);
	`

	if _, err := idx.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var version int
	err := idx.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := idx.db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to query schema version: %w", err)
	}

	return nil
}

// Put inserts or replaces the cached entry for path, resetting its age to zero.
func (idx *FilesIndex) Put(entry FileEntry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	chunkIDsJSON, err := json.Marshal(entry.ChunkIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk ids: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO files_index
		(path, inode, size, mtime_ns, ctime_ns, chunk_ids, age)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`
	_, err = idx.db.Exec(query,
		entry.Path, entry.Inode, entry.Size, entry.MtimeNS, entry.CtimeNS, string(chunkIDsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save file entry: %w", err)
	}
	return nil
}

// Lookup returns the cached entry for path if one exists.
func (idx *FilesIndex) Lookup(path string) (FileEntry, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var (
		inode        uint64
		size         int64
		mtimeNS      int64
		ctimeNS      int64
		chunkIDsJSON string
		age          int
	)

	query := `
		SELECT inode, size, mtime_ns, ctime_ns, chunk_ids, age
		FROM files_index
		WHERE path = ?
	`
	err := idx.db.QueryRow(query, path).Scan(&inode, &size, &mtimeNS, &ctimeNS, &chunkIDsJSON, &age)
	if err == sql.ErrNoRows {
		return FileEntry{}, ErrFileNotFound
	} else if err != nil {
		return FileEntry{}, fmt.Errorf("failed to load file entry: %w", err)
	}

	var chunkIDs []string
	if err := json.Unmarshal([]byte(chunkIDsJSON), &chunkIDs); err != nil {
		return FileEntry{}, fmt.Errorf("failed to unmarshal chunk ids: %w", err)
	}

	return FileEntry{
		Path: path, Inode: inode, Size: size, MtimeNS: mtimeNS, CtimeNS: ctimeNS,
		ChunkIDs: chunkIDs, Age: age,
	}, nil
}

// Unchanged reports whether a freshly stat'd file matches the cached
// fingerprint, meaning it can be deduplicated against its prior chunk
// split without re-reading its contents.
func (e FileEntry) Unchanged(size int64, mtimeNS, ctimeNS int64, inode uint64) bool {
	return e.Size == size && e.MtimeNS == mtimeNS && e.CtimeNS == ctimeNS && e.Inode == inode
}

// AgeAll increments the age column for every cached entry. Call once
// per backup run before pruning entries that have aged out, so files
// no longer seen during enumeration eventually fall out of the cache.
func (idx *FilesIndex) AgeAll() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := idx.db.Exec("UPDATE files_index SET age = age + 1")
	return err
}

// ResetAge zeroes the age column for path, confirming it was seen in
// the current backup run.
func (idx *FilesIndex) ResetAge(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := idx.db.Exec("UPDATE files_index SET age = 0 WHERE path = ?", path)
	return err
}

// EvictOlderThan removes cached entries whose age exceeds maxAge,
// returning the number of rows removed.
func (idx *FilesIndex) EvictOlderThan(maxAge int) (int64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	result, err := idx.db.Exec("DELETE FROM files_index WHERE age > ?", maxAge)
	if err != nil {
		return 0, fmt.Errorf("failed to evict aged entries: %w", err)
	}
	return result.RowsAffected()
}

// Delete removes path's cached entry, if any.
func (idx *FilesIndex) Delete(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := idx.db.Exec("DELETE FROM files_index WHERE path = ?", path)
	return err
}

// Close closes the database connection.
func (idx *FilesIndex) Close() error {
	if idx.db != nil {
		return idx.db.Close()
	}
	return nil
}
