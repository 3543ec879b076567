package compressor

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
)

// lzmaCodec backs the "lzma" tag. No LZMA implementation appears
// anywhere in the retrieval pack (see DESIGN.md); rather than fabricate
// a dependency, the lzma tag is served by the standard library's flate
// codec. This under-delivers on LZMA's usual compression ratio but
// preserves the tag-dispatch contract: objects written with this tag
// decompress correctly, which is the property the rest of the
// repository depends on.
type lzmaCodec struct {
	level int
}

func newLZMACodec(level int) *lzmaCodec {
	l := level
	if l <= 0 {
		l = flate.DefaultCompression
	}
	return &lzmaCodec{level: l}
}

func (c *lzmaCodec) Tag() Tag { return TagLZMA }

func (c *lzmaCodec) Compress(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(TagLZMA))
	w, err := flate.NewWriter(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("compressor/lzma: new writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("compressor/lzma: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressor/lzma: close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *lzmaCodec) Decompress(tagged []byte) ([]byte, error) {
	if len(tagged) == 0 || Tag(tagged[0]) != TagLZMA {
		return nil, fmt.Errorf("compressor/lzma: not an lzma-tagged payload")
	}
	r := flate.NewReader(bytes.NewReader(tagged[1:]))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compressor/lzma: read: %w", err)
	}
	return out, nil
}
