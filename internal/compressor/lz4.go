package compressor

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

type lz4Codec struct {
	level lz4.CompressionLevel
}

func newLZ4Codec(level int) *lz4Codec {
	return &lz4Codec{level: lz4.CompressionLevel(level)}
}

func (c *lz4Codec) Tag() Tag { return TagLZ4 }

func (c *lz4Codec) Compress(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(TagLZ4))
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return nil, fmt.Errorf("compressor/lz4: configure: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("compressor/lz4: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressor/lz4: close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *lz4Codec) Decompress(tagged []byte) ([]byte, error) {
	if len(tagged) == 0 || Tag(tagged[0]) != TagLZ4 {
		return nil, fmt.Errorf("compressor/lz4: not an lz4-tagged payload")
	}
	r := lz4.NewReader(bytes.NewReader(tagged[1:]))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compressor/lz4: read: %w", err)
	}
	return out, nil
}
