package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// ComputeTAM computes a tertiary authentication message: an HMAC-SHA256
// over canonical, binding a manifest's bytes to the repository's
// TAMKey so a manifest swapped in from elsewhere (or hand-edited)
// fails authentication even if it separately decrypts cleanly.
func ComputeTAM(tamKey [32]byte, canonical []byte) []byte {
	h := hmac.New(sha256.New, tamKey[:])
	h.Write(canonical)
	return h.Sum(nil)
}

// VerifyTAM reports whether tag is the correct TAM for canonical under
// tamKey, using constant-time comparison.
func VerifyTAM(tamKey [32]byte, canonical []byte, tag []byte) bool {
	expected := ComputeTAM(tamKey, canonical)
	return hmac.Equal(expected, tag)
}
