package repository

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coldvault/coldvault/internal/chunker"
	"github.com/coldvault/coldvault/internal/compressor"
)

// EncryptionMode names one of the three supported key-handling modes.
type EncryptionMode string

const (
	ModeNone     EncryptionMode = "none"
	ModeRepokey  EncryptionMode = "repokey"
	ModeKeyfile  EncryptionMode = "keyfile"
)

// RepoConfig is the repository's on-disk `config` file: everything a
// client needs to start talking to the repository before it has
// unlocked any key material.
type RepoConfig struct {
	ID             string         `json:"id"`
	Version        int            `json:"version"`
	IVBase         [12]byte       `json:"iv_base"`
	Mode           EncryptionMode `json:"mode"`
	ChunkerParams  chunker.Params `json:"chunker_params"`
	CompressionTag compressor.Tag `json:"compression_tag"`

	// AutoInnerTag names the codec compressor.TagAuto tries before
	// falling back to storing a chunk uncompressed; meaningful only
	// when CompressionTag is compressor.TagAuto.
	AutoInnerTag compressor.Tag `json:"auto_inner_tag,omitempty"`

	// ObfuscateInnerTag/ObfuscateLevel configure the codec wrapped and
	// the padding distribution used when CompressionTag is
	// compressor.TagObfuscateBase; ignored otherwise.
	ObfuscateInnerTag compressor.Tag `json:"obfuscate_inner_tag,omitempty"`
	ObfuscateLevel    int            `json:"obfuscate_level,omitempty"`

	// WrappedMasterSecret is present only in repokey mode, where the
	// keystore-wrapped master secret lives in the repository itself
	// rather than the client's key directory.
	WrappedMasterSecret []byte `json:"wrapped_master_secret,omitempty"`
}

const repoConfigVersion = 1

// NewRepoConfig builds a fresh config for a newly created repository,
// generating a random repository id and IV base.
func NewRepoConfig(mode EncryptionMode) (*RepoConfig, error) {
	var idBytes [16]byte
	if _, err := rand.Read(idBytes[:]); err != nil {
		return nil, fmt.Errorf("repository: generate repo id: %w", err)
	}
	var ivBase [12]byte
	if _, err := rand.Read(ivBase[:]); err != nil {
		return nil, fmt.Errorf("repository: generate iv base: %w", err)
	}
	return &RepoConfig{
		ID:                fmt.Sprintf("%x", idBytes),
		Version:           repoConfigVersion,
		IVBase:            ivBase,
		Mode:              mode,
		ChunkerParams:     chunker.DefaultParams(),
		CompressionTag:    compressor.TagLZ4,
		AutoInnerTag:      compressor.TagLZ4,
		ObfuscateInnerTag: compressor.TagLZ4,
		ObfuscateLevel:    3,
	}, nil
}

func configPath(repoPath string) string { return filepath.Join(repoPath, "config") }

// LoadRepoConfig reads and parses the config file in repoPath.
func LoadRepoConfig(repoPath string) (*RepoConfig, error) {
	data, err := os.ReadFile(configPath(repoPath))
	if err != nil {
		return nil, fmt.Errorf("repository: read config: %w", err)
	}
	var cfg RepoConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("repository: parse config: %w", err)
	}
	if cfg.Version != repoConfigVersion {
		return nil, fmt.Errorf("repository: unsupported config version %d", cfg.Version)
	}
	return &cfg, nil
}

// Save writes cfg to repoPath's config file.
func (cfg *RepoConfig) Save(repoPath string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("repository: marshal config: %w", err)
	}
	if err := os.WriteFile(configPath(repoPath), data, 0600); err != nil {
		return fmt.Errorf("repository: write config: %w", err)
	}
	return nil
}
