// Package compressor implements the repository's pluggable compression
// codecs. Every compressed payload begins with a single-byte tag
// identifying the codec that produced it; that tag, not any
// out-of-band configuration, is authoritative when decompressing.
package compressor

import (
	"fmt"
)

// Tag identifies a codec. It is always the first byte of a compressed
// payload.
type Tag byte

const (
	TagNone Tag = iota
	TagLZ4
	TagZstd
	TagZlib
	TagLZMA
	// TagAuto selects the "try the inner codec, fall back to none"
	// strategy at Compress time. It is never itself written to a
	// payload: RegisterAuto wires it to an autoCodec whose own Tag()
	// is always TagNone; the payload it returns carries the tag of
	// whichever codec it actually used.
	TagAuto Tag = 0x7e
	// TagObfuscateBase marks the start of the obfuscate wrapper's tag
	// range; it is followed by a 4-byte inner-payload length and then
	// the inner codec's tagged payload.
	TagObfuscateBase Tag = 0x80
)

// Codec compresses and decompresses payloads for one tag.
type Codec interface {
	Tag() Tag
	Compress(plaintext []byte) ([]byte, error)
	Decompress(tagged []byte) ([]byte, error)
}

// Registry dispatches compress/decompress calls to the codec named by
// a payload's leading tag byte.
type Registry struct {
	codecs map[Tag]Codec
}

// NewRegistry builds a registry pre-populated with none/lz4/zstd/zlib/
// lzma. The auto and obfuscate wrappers are added separately by
// RegisterAuto and RegisterObfuscate.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[Tag]Codec)}
	r.Register(noneCodec{})
	r.Register(newLZ4Codec(0))
	r.Register(newZstdCodec(0))
	r.Register(newZlibCodec(6))
	r.Register(newLZMACodec(0))
	return r
}

// Register adds or replaces the codec for its own tag.
func (r *Registry) Register(c Codec) {
	r.codecs[c.Tag()] = c
}

// Compress encodes plaintext with the named codec, returning a
// tagged payload whose first byte selects the decoder.
func (r *Registry) Compress(tag Tag, plaintext []byte) ([]byte, error) {
	c, ok := r.codecs[tag]
	if !ok {
		return nil, fmt.Errorf("compressor: unknown tag %d", tag)
	}
	return c.Compress(plaintext)
}

// Decompress inspects the leading tag byte of tagged and dispatches to
// the matching codec.
func (r *Registry) Decompress(tagged []byte) ([]byte, error) {
	if len(tagged) == 0 {
		return nil, fmt.Errorf("compressor: empty payload")
	}
	tag := Tag(tagged[0])
	if tag >= TagObfuscateBase {
		return r.decompressObfuscated(tagged)
	}
	c, ok := r.codecs[tag]
	if !ok {
		return nil, fmt.Errorf("compressor: unrecognised tag %d", tagged[0])
	}
	return c.Decompress(tagged)
}

type noneCodec struct{}

func (noneCodec) Tag() Tag { return TagNone }

func (noneCodec) Compress(plaintext []byte) ([]byte, error) {
	out := make([]byte, 1+len(plaintext))
	out[0] = byte(TagNone)
	copy(out[1:], plaintext)
	return out, nil
}

func (noneCodec) Decompress(tagged []byte) ([]byte, error) {
	if len(tagged) == 0 || Tag(tagged[0]) != TagNone {
		return nil, fmt.Errorf("compressor: not a none-tagged payload")
	}
	out := make([]byte, len(tagged)-1)
	copy(out, tagged[1:])
	return out, nil
}
