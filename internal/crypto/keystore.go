package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters (recommended values for interactive use)
	argon2Time    = 3      // Number of iterations
	argon2Memory  = 65536  // Memory in KiB (64 MiB)
	argon2Threads = 4      // Parallelism factor
	argon2KeyLen  = 32     // Output key length (AES-256)
	saltSize      = 32     // Salt size in bytes
	keystoreVersion = 1    // Keystore format version
)

var (
	// ErrInvalidPassphrase is returned when the passphrase fails to decrypt the keystore
	ErrInvalidPassphrase = errors.New("invalid passphrase or corrupted keystore")
)

// SaveMasterSecret encrypts and saves a repository's 32-byte master
// secret to disk under the "repokey"/"keyfile" key management modes.
//
// An empty passphrase stores the secret unencrypted under the "none"
// mode; this is only appropriate when the repository directory itself
// is already access-controlled.
func SaveMasterSecret(secret []byte, keystorePath string, passphrase string) error {
	if len(secret) != 32 {
		return errors.New("master secret must be 32 bytes")
	}

	dir := filepath.Dir(keystorePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create keystore directory: %w", err)
	}

	var data []byte

	if passphrase == "" {
		data = secret
		keystorePath += ".insecure"
	} else {
		wrapped, err := WrapMasterSecret(secret, passphrase)
		if err != nil {
			return fmt.Errorf("failed to encrypt master secret: %w", err)
		}
		data = wrapped
	}

	if err := os.WriteFile(keystorePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write keystore file: %w", err)
	}

	return nil
}

// WrapMasterSecret encrypts a 32-byte master secret under passphrase,
// returning its JSON-encoded keystore entry. Used both for on-disk
// keyfile-mode keystores and for the inline wrapped secret a
// repokey-mode repository's config file carries.
func WrapMasterSecret(secret []byte, passphrase string) ([]byte, error) {
	if len(secret) != 32 {
		return nil, errors.New("master secret must be 32 bytes")
	}
	entry, err := encryptKey(secret, passphrase)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(entry, "", "  ")
}

// UnwrapMasterSecret reverses WrapMasterSecret.
func UnwrapMasterSecret(wrapped []byte, passphrase string) ([]byte, error) {
	var entry KeystoreEntry
	if err := json.Unmarshal(wrapped, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keystore entry: %w", err)
	}
	return decryptKey(&entry, passphrase)
}

// LoadMasterSecret loads and decrypts a repository's master secret
// from disk. If the keystore file ends with ".insecure" it is loaded
// without decryption; otherwise passphrase unwraps it via Argon2id.
func LoadMasterSecret(keystorePath string, passphrase string) ([]byte, error) {
	data, err := os.ReadFile(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %w", err)
	}

	if filepath.Ext(keystorePath) == ".insecure" {
		if len(data) != 32 {
			return nil, errors.New("invalid unencrypted keystore: expected 32 bytes")
		}
		return data, nil
	}

	secret, err := UnwrapMasterSecret(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt master secret: %w", err)
	}

	return secret, nil
}

// encryptKey encrypts a 32-byte master secret using Argon2id + AES-256-GCM.
func encryptKey(privateKey []byte, passphrase string) (*KeystoreEntry, error) {
	// Generate random salt
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// Derive encryption key from passphrase using Argon2id
	derivedKey := argon2.IDKey(
		[]byte(passphrase),
		salt,
		argon2Time,
		argon2Memory,
		argon2Threads,
		argon2KeyLen,
	)

	// Generate random nonce
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Encrypt private key using AES-256-GCM (no AAD for keystore)
	ciphertext, err := Seal(derivedKey, nonce, nil, privateKey)
	if err != nil {
		return nil, err
	}

	entry := &KeystoreEntry{
		Version:       keystoreVersion,
		KDF:           "argon2id",
		Argon2Time:    argon2Time,
		Argon2Memory:  argon2Memory,
		Argon2Threads: argon2Threads,
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
	}

	return entry, nil
}

// decryptKey decrypts a 32-byte master secret using Argon2id + AES-256-GCM.
func decryptKey(entry *KeystoreEntry, passphrase string) ([]byte, error) {
	// Validate keystore version
	if entry.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version: %d", entry.Version)
	}

	// Validate KDF
	if entry.KDF != "argon2id" {
		return nil, fmt.Errorf("unsupported KDF: %s", entry.KDF)
	}

	// Derive decryption key from passphrase using stored parameters
	derivedKey := argon2.IDKey(
		[]byte(passphrase),
		entry.Salt,
		uint32(entry.Argon2Time),
		uint32(entry.Argon2Memory),
		uint8(entry.Argon2Threads),
		argon2KeyLen,
	)

	// Decrypt private key using AES-256-GCM
	plaintext, err := Open(derivedKey, entry.Nonce, nil, entry.Ciphertext)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}

	// Validate decrypted key size
	if len(plaintext) != 32 {
		return nil, errors.New("decrypted master secret has invalid size")
	}

	return plaintext, nil
}

// GetDefaultKeystorePath returns the default keystore directory path.
// On Windows: %APPDATA%\coldvault\keys
// On Unix: $XDG_DATA_HOME/coldvault/keys or ~/.local/share/coldvault/keys
func GetDefaultKeystorePath() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "coldvault", "keys")
	}

	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "coldvault", "keys")
	}

	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "coldvault", "keys")
}