package compressor

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Distribution chooses how many padding bytes to append after an inner
// codec's output, given that output's length.
type Distribution interface {
	// Level is the SPEC level this distribution instance represents.
	Level() int
	// padRange returns the inclusive [min, max] byte count to pad with.
	padRange(payloadLen int) (min, max int)
}

// RelativeFactor pads with a length drawn uniformly from
// [0, factor*payloadLen]. Levels run 1-6; factor grows with level.
type RelativeFactor struct {
	level  int
	factor float64
}

// NewRelativeFactor builds a RelativeFactor distribution for levels
// 1 through 6. Level 1 pads up to 10% of the payload size; level 6
// pads up to 60%.
func NewRelativeFactor(level int) (RelativeFactor, error) {
	if level < 1 || level > 6 {
		return RelativeFactor{}, fmt.Errorf("compressor: relative obfuscate level must be 1-6, got %d", level)
	}
	return RelativeFactor{level: level, factor: float64(level) * 0.1}, nil
}

func (d RelativeFactor) Level() int { return d.level }

func (d RelativeFactor) padRange(payloadLen int) (int, int) {
	max := int(float64(payloadLen) * d.factor)
	return 0, max
}

// AbsoluteSize pads to land the final size within a fixed byte range
// independent of the payload. Levels run 110-123, each mapping to a
// progressively larger target range so ciphertext size no longer
// correlates tightly with plaintext size for small objects.
type AbsoluteSize struct {
	level    int
	min, max int
}

// NewAbsoluteSize builds an AbsoluteSize distribution for levels
// 110 through 123. Each level doubles the previous level's range,
// starting at [1KiB, 2KiB] for level 110.
func NewAbsoluteSize(level int) (AbsoluteSize, error) {
	if level < 110 || level > 123 {
		return AbsoluteSize{}, fmt.Errorf("compressor: absolute obfuscate level must be 110-123, got %d", level)
	}
	shift := uint(level - 110)
	min := 1024 << shift
	max := 2048 << shift
	return AbsoluteSize{level: level, min: min, max: max}, nil
}

func (d AbsoluteSize) Level() int { return d.level }

func (d AbsoluteSize) padRange(payloadLen int) (int, int) {
	if payloadLen >= d.max {
		return 0, payloadLen / 10
	}
	min := d.min - payloadLen
	if min < 0 {
		min = 0
	}
	max := d.max - payloadLen
	if max < min {
		max = min
	}
	return min, max
}

// NewDistributionForLevel builds the Distribution a SPEC obfuscate
// level names: 1-6 select RelativeFactor, 110-123 select AbsoluteSize.
func NewDistributionForLevel(level int) (Distribution, error) {
	if level >= 1 && level <= 6 {
		return NewRelativeFactor(level)
	}
	if level >= 110 && level <= 123 {
		return NewAbsoluteSize(level)
	}
	return nil, fmt.Errorf("compressor: obfuscate level must be 1-6 or 110-123, got %d", level)
}

// obfuscateCodec wraps an inner codec, appending random padding sized
// per a Distribution, and prefixing the inner tagged payload with
// TagObfuscateBase and the payload's 4-byte length so Decompress can
// recover the real content length before stripping padding.
type obfuscateCodec struct {
	inner Codec
	dist  Distribution
}

func newObfuscateCodec(inner Codec, dist Distribution) *obfuscateCodec {
	return &obfuscateCodec{inner: inner, dist: dist}
}

func (c *obfuscateCodec) Tag() Tag { return TagObfuscateBase }

// Compress produces: TagObfuscateBase | inner-tagged-payload-len (4
// bytes, big-endian) | inner-tagged-payload (itself carrying the inner
// codec's own tag as its first byte) | random padding.
func (c *obfuscateCodec) Compress(plaintext []byte) ([]byte, error) {
	inner, err := c.inner.Compress(plaintext)
	if err != nil {
		return nil, err
	}

	min, max := c.dist.padRange(len(inner))
	padLen := min
	if max > min {
		n, err := randInt(max - min + 1)
		if err != nil {
			return nil, err
		}
		padLen += n
	}
	padding := make([]byte, padLen)
	if _, err := rand.Read(padding); err != nil {
		return nil, fmt.Errorf("compressor/obfuscate: random padding: %w", err)
	}

	out := make([]byte, 0, 1+4+len(inner)+padLen)
	out = append(out, byte(TagObfuscateBase))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(inner)))
	out = append(out, lenBuf[:]...)
	out = append(out, inner...)
	out = append(out, padding...)
	return out, nil
}

func (c *obfuscateCodec) Decompress(tagged []byte) ([]byte, error) {
	if len(tagged) < 5 || Tag(tagged[0]) != TagObfuscateBase {
		return nil, fmt.Errorf("compressor/obfuscate: not an obfuscate-tagged payload")
	}
	innerLen := int(binary.BigEndian.Uint32(tagged[1:5]))
	rest := tagged[5:]
	if innerLen < 0 || innerLen > len(rest) {
		return nil, fmt.Errorf("compressor/obfuscate: corrupt inner length")
	}
	return c.inner.Decompress(rest[:innerLen])
}

// randInt returns a uniform random integer in [0, n) using
// crypto/rand. n must be positive.
func randInt(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("compressor/obfuscate: random index: %w", err)
	}
	v := binary.BigEndian.Uint64(buf[:])
	return int(v % uint64(n)), nil
}

// decompressObfuscated dispatches an obfuscate-tagged payload to the
// obfuscate codec registered for the inner tag found just past the
// length prefix, so a single registry entry need not be pre-selected
// per inner codec.
func (r *Registry) decompressObfuscated(tagged []byte) ([]byte, error) {
	if len(tagged) < 6 {
		return nil, fmt.Errorf("compressor: truncated obfuscate payload")
	}
	innerLen := int(binary.BigEndian.Uint32(tagged[1:5]))
	rest := tagged[5:]
	if innerLen <= 0 || innerLen > len(rest) {
		return nil, fmt.Errorf("compressor: corrupt obfuscate payload")
	}
	innerTag := Tag(rest[0])
	c, ok := r.codecs[innerTag]
	if !ok {
		return nil, fmt.Errorf("compressor: unrecognised inner tag %d in obfuscate payload", innerTag)
	}
	return c.Decompress(rest[:innerLen])
}

// RegisterObfuscate wraps inner with dist and registers the result so
// Compress(TagObfuscateBase, ...) produces obfuscated payloads and
// Decompress recognises them. Only one obfuscate configuration is
// active at a time per registry, matching one repository having one
// configured obfuscate level.
func (r *Registry) RegisterObfuscate(innerTag Tag, dist Distribution) error {
	inner, ok := r.codecs[innerTag]
	if !ok {
		return fmt.Errorf("compressor: unknown inner tag %d for obfuscate", innerTag)
	}
	r.Register(newObfuscateCodec(inner, dist))
	return nil
}
