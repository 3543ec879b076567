package crypto

import (
	"encoding/base64"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// ComputeFileHashB64 computes BLAKE3 of a file and returns base64-encoded digest.
// Used at archive-creation time to record a regular file's whole-content
// hash on its Item, independent of how it gets chunked.
func ComputeFileHashB64(path string) string {
	f, err := os.Open(path)
	if err != nil { return "" }
	defer f.Close()
	h := blake3.New()
	buf := make([]byte, 1<<20)
	for {
		n, err := f.Read(buf)
		if n > 0 { h.Write(buf[:n]) }
		if err == io.EOF { break }
		if err != nil { return "" }
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ComputeBytesHashB64 computes BLAKE3 of data and returns the
// base64-encoded digest, the same way ComputeFileHashB64 does for a
// file on disk. check --deep uses this to re-hash a regular
// file's content reconstituted from its stored chunks.
func ComputeBytesHashB64(data []byte) string {
	h := blake3.New()
	h.Write(data)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
