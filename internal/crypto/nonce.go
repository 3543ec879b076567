package crypto

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DeriveNonce derives a 12-byte AES-GCM nonce from ivBase and counter
// by XORing the counter's little-endian encoding into the first 8
// bytes of ivBase. The same counter always yields the same nonce for
// a given ivBase, so uniqueness depends entirely on the counter never
// repeating.
func DeriveNonce(ivBase [12]byte, counter uint64) [12]byte {
	var nonce [12]byte

	var counterBytes [8]byte
	binary.LittleEndian.PutUint64(counterBytes[:], counter)

	for i := 0; i < 8; i++ {
		nonce[i] = ivBase[i] ^ counterBytes[i]
	}
	copy(nonce[8:12], ivBase[8:12])

	return nonce
}

// NonceManager hands out monotonically increasing counters for
// DeriveNonce, persisting the high-water mark to disk so a counter is
// never reused after a crash or restart. One NonceManager is shared
// by all writers against a single repository's EncryptionKey.
type NonceManager struct {
	mu      sync.Mutex
	path    string
	counter uint64
}

// OpenNonceManager loads the persisted counter from path, creating it
// at zero if absent. Callers should additionally call AdvancePast
// with the highest counter observed in the repository's existing
// segments before issuing new nonces, covering the case where the
// counter file itself was lost or rolled back.
func OpenNonceManager(path string) (*NonceManager, error) {
	m := &NonceManager{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := m.persist(); err != nil {
				return nil, err
			}
			return m, nil
		}
		return nil, fmt.Errorf("crypto: read nonce counter: %w", err)
	}
	if len(data) != 8 {
		return nil, fmt.Errorf("crypto: corrupt nonce counter file %s", path)
	}
	m.counter = binary.BigEndian.Uint64(data)
	return m, nil
}

// Next returns the next unused counter value and persists the new
// high-water mark before returning.
func (m *NonceManager) Next() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.counter
	m.counter++
	if err := m.persist(); err != nil {
		m.counter--
		return 0, err
	}
	return next, nil
}

// AdvancePast raises the manager's counter so that it is strictly
// greater than observed, if it isn't already. Call this on open with
// the maximum counter found across the repository's segments.
func (m *NonceManager) AdvancePast(observed uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if observed < m.counter {
		return nil
	}
	m.counter = observed + 1
	return m.persist()
}

func (m *NonceManager) persist() error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("crypto: create nonce counter dir: %w", err)
	}

	tmp := m.path + ".tmp"
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], m.counter)
	if err := os.WriteFile(tmp, buf[:], 0600); err != nil {
		return fmt.Errorf("crypto: write nonce counter: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("crypto: commit nonce counter: %w", err)
	}
	return nil
}
