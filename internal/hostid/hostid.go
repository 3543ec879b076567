// Package hostid provides a stable identifier for the machine running
// coldvault, used to populate lock-file host ids and diagnostics.
package hostid

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ID identifies one host across repository opens.
type ID struct {
	UUID     string `json:"uuid"`
	Hostname string `json:"hostname"`
}

// String renders the id as "hostname:uuid" for lock files and logs.
func (i ID) String() string {
	return i.Hostname + ":" + i.UUID
}

// DefaultPath returns the default cache path for the host id file,
// under the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "coldvault", "hostid.json"), nil
}

// LoadOrCreate loads the cached host id from path, generating and
// persisting one if absent. An empty path resolves via DefaultPath.
// The COLDVAULT_HOST_ID environment variable, if set, overrides
// everything and is returned verbatim as the UUID field with the
// local hostname.
func LoadOrCreate(path string) (ID, error) {
	if override := os.Getenv("COLDVAULT_HOST_ID"); override != "" {
		return ID{UUID: override, Hostname: currentHostname()}, nil
	}

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return ID{}, err
		}
		path = p
	}

	id, err := load(path)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return ID{}, err
	}

	id = ID{UUID: uuid.NewString(), Hostname: currentHostname()}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return ID{}, err
	}
	if err := persist(path, id); err != nil {
		return ID{}, err
	}
	return id, nil
}

func load(path string) (ID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ID{}, err
	}
	var id ID
	if err := json.Unmarshal(data, &id); err != nil {
		return ID{}, err
	}
	return id, nil
}

func persist(path string, id ID) error {
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func currentHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
