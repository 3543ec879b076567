// Package crypto provides the repository's cryptographic primitives:
// AES-256-GCM authenticated encryption, HKDF key derivation, Argon2id
// passphrase-based key wrapping, and BLAKE3 content hashing.
package crypto

// SessionKeys holds the four keys HKDF derives from a repository's
// 32-byte master secret. Every encrypted object, chunk id, and
// manifest in the repository is protected by one of these, never by
// the master secret directly.
type SessionKeys struct {
	EncryptionKey [32]byte // AES-256 key for object/chunk encryption
	IDHashKey     [32]byte // keyed BLAKE3 key for content-id computation
	ChunkSeed     [32]byte // XORed into the keyed-hash output for chunk identity
	TAMKey        [32]byte // HMAC-SHA256 key for manifest authentication
}

// KeystoreEntry represents an encrypted repository master secret
// stored on disk under repokey/keyfile key management modes.
type KeystoreEntry struct {
	Version       int    `json:"version"`
	KDF           string `json:"kdf"`
	Argon2Time    int    `json:"argon2_time"`
	Argon2Memory  int    `json:"argon2_memory"`
	Argon2Threads int    `json:"argon2_threads"`
	Salt          []byte `json:"salt"`
	Nonce         []byte `json:"nonce"`
	Ciphertext    []byte `json:"ciphertext"`
}
