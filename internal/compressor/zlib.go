package compressor

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// zlibCodec backs the "zlib" tag with the standard library's zlib
// implementation. No third-party zlib-framed codec appears anywhere in
// the retrieval pack (see DESIGN.md), so this codec, like lzmaCodec's
// compress/flate stand-in, is stdlib rather than an adopted library.
type zlibCodec struct {
	level int
}

func newZlibCodec(level int) *zlibCodec {
	return &zlibCodec{level: level}
}

func (c *zlibCodec) Tag() Tag { return TagZlib }

func (c *zlibCodec) Compress(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(TagZlib))
	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("compressor/zlib: new writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("compressor/zlib: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressor/zlib: close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *zlibCodec) Decompress(tagged []byte) ([]byte, error) {
	if len(tagged) == 0 || Tag(tagged[0]) != TagZlib {
		return nil, fmt.Errorf("compressor/zlib: not a zlib-tagged payload")
	}
	r, err := zlib.NewReader(bytes.NewReader(tagged[1:]))
	if err != nil {
		return nil, fmt.Errorf("compressor/zlib: new reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compressor/zlib: read: %w", err)
	}
	return out, nil
}
