package compressor

import "fmt"

// autoMargin is how much smaller the lz4 output must be, as a fraction
// of the plaintext size, before auto prefers it over storing the chunk
// uncompressed. Below this margin the CPU cost of decompression on
// every future read isn't worth the saving.
const autoMargin = 0.98

// autoCodec implements the "auto" compression spec: try the inner
// codec (lz4 by default, fast enough to run unconditionally) and fall
// back to storing the chunk as TagNone when compression doesn't pay
// for itself.
type autoCodec struct {
	inner Codec
}

func newAutoCodec(inner Codec) *autoCodec {
	return &autoCodec{inner: inner}
}

// Tag reports the tag auto falls back to; the tag actually written is
// chosen per-call between inner.Tag() and TagNone.
func (c *autoCodec) Tag() Tag { return TagNone }

func (c *autoCodec) Compress(plaintext []byte) ([]byte, error) {
	compressed, err := c.inner.Compress(plaintext)
	if err != nil {
		return nil, err
	}
	if float64(len(compressed)) < float64(len(plaintext)+1)*autoMargin {
		return compressed, nil
	}
	return noneCodec{}.Compress(plaintext)
}

func (c *autoCodec) Decompress(tagged []byte) ([]byte, error) {
	if len(tagged) == 0 {
		return nil, nil
	}
	if Tag(tagged[0]) == TagNone {
		return noneCodec{}.Decompress(tagged)
	}
	return c.inner.Decompress(tagged)
}

// RegisterAuto wires TagAuto to an autoCodec wrapping innerTag's codec.
// TagAuto is registered as a distinct dispatch key from the payload
// tags auto actually writes (TagNone or innerTag itself, both already
// registered on their own), so Compress(TagAuto, ...) and decoding the
// result it produces never collide with one another.
func (r *Registry) RegisterAuto(innerTag Tag) error {
	inner, ok := r.codecs[innerTag]
	if !ok {
		return fmt.Errorf("compressor: unknown inner tag %d for auto", innerTag)
	}
	r.codecs[TagAuto] = newAutoCodec(inner)
	return nil
}
