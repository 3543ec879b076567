package archive

import (
	"encoding/json"
	"time"

	"github.com/coldvault/coldvault/internal/chunker"
	"github.com/coldvault/coldvault/internal/compressor"
)

// Archive is the serialised record an archive object's plaintext
// holds: everything about one backup run except the item list itself,
// which lives in the referenced item-stream chunks.
type Archive struct {
	Name        string    `json:"name"`
	Comment     string    `json:"comment,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Hostname    string    `json:"hostname"`
	Username    string    `json:"username"`
	CommandLine []string  `json:"command_line"`

	// ItemStreamChunkIDs lists, in order, the ids of the chunks whose
	// concatenated plaintext is the serialised item stream.
	ItemStreamChunkIDs [][]byte `json:"item_stream_chunk_ids"`

	ChunkerParams  chunker.Params  `json:"chunker_params"`
	CompressionTag compressor.Tag  `json:"compression_tag"`

	// MerkleRoot is a Merkle root over ItemStreamChunkIDs (each base64
	// encoded), a supplementary integrity fingerprint over the item
	// stream's chunk ordering as a whole, checked in addition to (not
	// instead of) the per-chunk authentication each chunk already
	// carries on its own.
	MerkleRoot string `json:"merkle_root,omitempty"`

	// Checkpoint is true for a `<name>.checkpoint` archive: a partial,
	// periodically-committed snapshot of an in-progress backup, hidden
	// from normal listings.
	Checkpoint bool `json:"checkpoint,omitempty"`
}

// Marshal serialises the archive to its canonical plaintext form.
func (a *Archive) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalArchive parses an archive object's plaintext.
func UnmarshalArchive(data []byte) (*Archive, error) {
	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
