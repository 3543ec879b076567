package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/coldvault/coldvault/internal/cache"
	"github.com/coldvault/coldvault/internal/config"
	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/hostid"
	"github.com/coldvault/coldvault/internal/repository"
)

// resolveRepoPath picks the repository location: the explicit flag if
// given, else COLDVAULT_REPO from the environment.
func resolveRepoPath(cfg *config.Config, flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	return cfg.RepositoryURL
}

// readPassphrase returns cfg.Passphrase if set, else prompts on the
// controlling terminal without echoing input.
func readPassphrase(cfg *config.Config, prompt bool) (string, error) {
	if cfg.Passphrase != "" {
		return cfg.Passphrase, nil
	}
	if !prompt {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "Enter passphrase: ")
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(data), nil
}

// resolveMasterSecret recovers a repository's raw 32-byte master
// secret per its on-disk EncryptionMode: repokey mode unwraps the
// secret carried inline in the repo config, keyfile mode loads it from
// the client-side keystore, none mode needs nothing.
func resolveMasterSecret(cfg *config.Config, repoPath string, passphrase string) ([]byte, error) {
	rc, err := repository.LoadRepoConfig(repoPath)
	if err != nil {
		return nil, err
	}

	switch rc.Mode {
	case repository.ModeNone:
		return nil, nil
	case repository.ModeRepokey:
		if len(rc.WrappedMasterSecret) == 0 {
			return nil, fmt.Errorf("repository: repokey mode but no wrapped master secret stored")
		}
		return crypto.UnwrapMasterSecret(rc.WrappedMasterSecret, passphrase)
	case repository.ModeKeyfile:
		keyPath := cfg.KeyFilePath
		if keyPath == "" {
			keyPath = filepath.Join(crypto.GetDefaultKeystorePath(), rc.ID+".key")
		}
		return crypto.LoadMasterSecret(keyPath, passphrase)
	default:
		return nil, fmt.Errorf("repository: unknown encryption mode %q", rc.Mode)
	}
}

// openRepository opens repoPath, resolving its master secret and host
// id from cfg, and acquiring the exclusive lock.
func openRepository(cfg *config.Config, repoPath string) (*repository.Repository, error) {
	host, err := hostid.LoadOrCreate("")
	if err != nil {
		return nil, fmt.Errorf("resolve host id: %w", err)
	}
	hostID := cfg.HostID
	if hostID == "" {
		hostID = host.String()
	}

	rc, err := repository.LoadRepoConfig(repoPath)
	if err != nil {
		return nil, err
	}

	var secret []byte
	if rc.Mode != repository.ModeNone {
		passphrase, err := readPassphrase(cfg, true)
		if err != nil {
			return nil, err
		}
		secret, err = resolveMasterSecret(cfg, repoPath, passphrase)
		if err != nil {
			return nil, fmt.Errorf("unlock repository: %w", err)
		}
	}

	return repository.Open(repoPath, hostID, cfg.SecurityDir, secret)
}

// openCaches opens the local dedup caches keyed by the repository's
// own id, under cfg.CacheDir.
func openCaches(cfg *config.Config, repoID string) (*cache.ChunksIndex, *cache.FilesIndex, error) {
	dir := filepath.Join(cfg.CacheDir, repoID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create cache dir: %w", err)
	}
	chunks, err := cache.OpenChunksIndex(filepath.Join(dir, "chunks.db"))
	if err != nil {
		return nil, nil, err
	}
	files, err := cache.OpenFilesIndex(filepath.Join(dir, "files.db"))
	if err != nil {
		return nil, nil, err
	}
	return chunks, files, nil
}
