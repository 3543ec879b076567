package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// sessionInfoString domain-separates repository key derivation from
	// any other HKDF use in the module.
	sessionInfoString = "coldvault-v1-repository-keys"

	// hkdfOutputLength is 32*4 bytes: EncryptionKey + IDHashKey +
	// ChunkSeed + TAMKey.
	hkdfOutputLength = 128
)

// DeriveSessionKeys expands a repository's 32-byte master secret into
// the four independent keys the rest of the repository uses. repoID
// is mixed in as the HKDF salt so keys never collide across
// repositories sharing a master secret by accident (e.g. a restored
// keyfile pointed at the wrong repo directory).
func DeriveSessionKeys(masterSecret []byte, repoID []byte) (*SessionKeys, error) {
	if len(masterSecret) != 32 {
		return nil, fmt.Errorf("master secret must be 32 bytes, got %d", len(masterSecret))
	}

	hkdfReader := hkdf.New(sha256.New, masterSecret, repoID, []byte(sessionInfoString))

	keyMaterial := make([]byte, hkdfOutputLength)
	if _, err := io.ReadFull(hkdfReader, keyMaterial); err != nil {
		return nil, fmt.Errorf("hkdf expansion failed: %w", err)
	}

	var keys SessionKeys
	copy(keys.EncryptionKey[:], keyMaterial[0:32])
	copy(keys.IDHashKey[:], keyMaterial[32:64])
	copy(keys.ChunkSeed[:], keyMaterial[64:96])
	copy(keys.TAMKey[:], keyMaterial[96:128])

	return &keys, nil
}
