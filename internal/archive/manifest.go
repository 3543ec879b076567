package archive

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coldvault/coldvault/internal/chunker"
	"github.com/coldvault/coldvault/internal/compressor"
	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/repository"
)

// ManifestID is the repository's distinguished, fixed well-known
// object id for the manifest: a deterministic label hash, not a
// content hash, since the manifest's content changes on every write
// but callers must always be able to find it without an index lookup
// by name.
var ManifestID = func() []byte {
	sum := sha256.Sum256([]byte("coldvault-manifest-v1"))
	return sum[:]
}()

// ErrTAMMissing is returned loading a manifest with no TAM when the
// repository config requires one.
var ErrTAMMissing = errors.New("archive: manifest missing required TAM")

// ErrTAMInvalid is returned when a present TAM fails to verify.
var ErrTAMInvalid = errors.New("archive: manifest TAM verification failed")

// ArchiveRef is the manifest's record of one archive: where to find
// its archive object and when it was created.
type ArchiveRef struct {
	ID        []byte    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Manifest is the repository's single read-modify-write root object:
// format version, archive-name -> archive-object-id map, and
// server-side configuration hints.
type Manifest struct {
	Version int                   `json:"version"`
	Archives map[string]ArchiveRef `json:"archives"`

	ChunkerParams  chunker.Params `json:"chunker_params"`
	CompressionTag compressor.Tag `json:"compression_tag"`
}

const manifestVersion = 1

// NewManifest creates an empty manifest using params as the
// repository-wide chunker/compression defaults for new archives.
func NewManifest(params chunker.Params, tag compressor.Tag) *Manifest {
	return &Manifest{
		Version:        manifestVersion,
		Archives:       make(map[string]ArchiveRef),
		ChunkerParams:  params,
		CompressionTag: tag,
	}
}

// canonical returns the manifest's deterministic serialised form used
// both as its stored plaintext and as the input to its TAM.
func (m *Manifest) canonical() ([]byte, error) {
	return json.Marshal(m)
}

// Save writes the manifest to the repository's fixed manifest id,
// attaching a TAM when keys is non-nil (i.e. the repository is not in
// ModeNone).
func (m *Manifest) Save(repo *repository.Repository, keys *crypto.SessionKeys) error {
	canonical, err := m.canonical()
	if err != nil {
		return fmt.Errorf("archive: marshal manifest: %w", err)
	}

	payload := canonical
	if keys != nil {
		tam := crypto.ComputeTAM(keys.TAMKey, canonical)
		envelope := struct {
			Manifest json.RawMessage `json:"manifest"`
			TAM      []byte          `json:"tam"`
		}{Manifest: canonical, TAM: tam}
		payload, err = json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("archive: marshal manifest envelope: %w", err)
		}
	}

	return repo.Put(ManifestID, payload)
}

// LoadManifest reads and validates the manifest. requireTAM rejects a
// manifest with no TAM or an invalid one; when false, a present TAM is
// still checked, but its absence is tolerated (used for `none` mode
// repositories and the one-shot TAM-upgrade command).
func LoadManifest(repo *repository.Repository, keys *crypto.SessionKeys, requireTAM bool) (*Manifest, error) {
	payload, err := repo.GetFixedID(ManifestID)
	if err != nil {
		return nil, err
	}

	var canonical []byte
	if keys == nil {
		canonical = payload
	} else {
		var envelope struct {
			Manifest json.RawMessage `json:"manifest"`
			TAM      []byte          `json:"tam"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Manifest == nil {
			// No envelope: either an old/unauthenticated manifest, or
			// one written before TAM support existed.
			if requireTAM {
				return nil, ErrTAMMissing
			}
			canonical = payload
		} else {
			if len(envelope.TAM) == 0 {
				if requireTAM {
					return nil, ErrTAMMissing
				}
			} else if !crypto.VerifyTAM(keys.TAMKey, envelope.Manifest, envelope.TAM) {
				return nil, ErrTAMInvalid
			}
			canonical = envelope.Manifest
		}
	}

	var m Manifest
	if err := json.Unmarshal(canonical, &m); err != nil {
		return nil, fmt.Errorf("archive: parse manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("archive: unsupported manifest version %d", m.Version)
	}
	return &m, nil
}

// UpgradeTAM loads a manifest without requiring a TAM, then re-saves
// it with one attached, leaving its archive contents untouched.
func UpgradeTAM(repo *repository.Repository, keys *crypto.SessionKeys) error {
	m, err := LoadManifest(repo, keys, false)
	if err != nil {
		return err
	}
	return m.Save(repo, keys)
}
