package archive

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// EncodeItemStream serialises items into the flat byte stream that
// gets content-defined-chunked and stored as an archive's
// ItemStreamChunkIDs: each item is a 4-byte big-endian length prefix
// followed by its JSON encoding, so the stream can be split on chunk
// boundaries and reassembled independently of item count.
func EncodeItemStream(items []Item) ([]byte, error) {
	var buf bytes.Buffer
	for i := range items {
		encoded, err := json.Marshal(&items[i])
		if err != nil {
			return nil, fmt.Errorf("archive: marshal item %q: %w", items[i].Path, err)
		}
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(encoded)))
		buf.Write(length[:])
		buf.Write(encoded)
	}
	return buf.Bytes(), nil
}

// DecodeItemStream parses the concatenated plaintext of an archive's
// item-stream chunks back into its ordered item list.
func DecodeItemStream(data []byte) ([]Item, error) {
	var items []Item
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("archive: truncated item-stream length prefix")
		}
		length := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint64(len(data)) < uint64(length) {
			return nil, fmt.Errorf("archive: truncated item-stream record")
		}
		var it Item
		if err := json.Unmarshal(data[:length], &it); err != nil {
			return nil, fmt.Errorf("archive: unmarshal item: %w", err)
		}
		items = append(items, it)
		data = data[length:]
	}
	return items, nil
}
