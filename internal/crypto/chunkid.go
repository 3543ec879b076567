package crypto

import (
	"github.com/zeebo/blake3"
)

// ChunkID computes a chunk's content-id: a 256-bit keyed BLAKE3 hash
// of plaintext under idHashKey, XORed byte-by-byte with chunkSeed for
// domain separation between repositories that might otherwise derive
// the same id-hash key. Identical plaintext in two different
// repositories yields different ids, since both keys are themselves
// derived from each repository's own master secret.
func ChunkID(idHashKey, chunkSeed [32]byte, plaintext []byte) []byte {
	h, err := blake3.NewKeyed(idHashKey[:])
	if err != nil {
		// idHashKey is always exactly 32 bytes; NewKeyed only fails on
		// the wrong key length.
		panic(err)
	}
	h.Write(plaintext)
	sum := h.Sum(nil)

	id := make([]byte, len(sum))
	for i := range sum {
		id[i] = sum[i] ^ chunkSeed[i%len(chunkSeed)]
	}
	return id
}

// UnkeyedChunkID computes a chunk's content-id for a none-mode
// repository: a plain BLAKE3 hash of plaintext. There is no master
// secret to derive an id-hash key or chunk seed from in this mode, so
// the id is an unkeyed content hash rather than ChunkID's keyed one.
func UnkeyedChunkID(plaintext []byte) []byte {
	h := blake3.New()
	h.Write(plaintext)
	return h.Sum(nil)
}
