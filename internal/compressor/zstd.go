package compressor

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

type zstdCodec struct {
	level zstd.EncoderLevel
}

func newZstdCodec(level int) *zstdCodec {
	l := zstd.SpeedDefault
	switch {
	case level <= 1:
		l = zstd.SpeedFastest
	case level >= 4:
		l = zstd.SpeedBestCompression
	case level >= 2:
		l = zstd.SpeedBetterCompression
	}
	return &zstdCodec{level: l}
}

func (c *zstdCodec) Tag() Tag { return TagZstd }

func (c *zstdCodec) Compress(plaintext []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
	if err != nil {
		return nil, fmt.Errorf("compressor/zstd: new writer: %w", err)
	}
	defer enc.Close()

	compressed := enc.EncodeAll(plaintext, nil)
	out := make([]byte, 1+len(compressed))
	out[0] = byte(TagZstd)
	copy(out[1:], compressed)
	return out, nil
}

func (c *zstdCodec) Decompress(tagged []byte) ([]byte, error) {
	if len(tagged) == 0 || Tag(tagged[0]) != TagZstd {
		return nil, fmt.Errorf("compressor/zstd: not a zstd-tagged payload")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compressor/zstd: new reader: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(tagged[1:], nil)
	if err != nil {
		return nil, fmt.Errorf("compressor/zstd: decode: %w", err)
	}
	return out, nil
}
