package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the process-wide configuration for a coldvault run,
// assembled once at startup from built-in defaults overlaid with
// environment variables. Nothing here is reloaded mid-process.
type Config struct {
	// RepositoryURL is the default repository location used when a
	// command omits an explicit repository argument.
	RepositoryURL string

	// Passphrase sources: an inline value, a shell command whose stdout
	// supplies the passphrase, or an already-open file descriptor
	// number. LoadConfig fills all three from the environment, but the
	// coldvault commands read only Passphrase (falling back to a
	// terminal prompt); PassphraseCommand and PassphraseFD are not used.
	Passphrase        string
	PassphraseCommand string
	PassphraseFD      int

	// RemoteInvocation overrides the program used to reach a remote
	// repository (defaults to ssh). RemoteBinaryPath overrides the
	// coldvault binary invoked on the far end of that connection.
	RemoteInvocation string
	RemoteBinaryPath string

	// Directory bases for cache, config, and security state. Mirrors
	// XDG layout: cache data that can be rebuilt, config that should
	// survive reinstalls, and security-sensitive material (nonce
	// counters, keystore) kept apart from both.
	CacheDir    string
	ConfigDir   string
	SecurityDir string

	// KeyFilePath overrides the keyfile location for keyfile-mode
	// repositories; empty means <repo id>.key under
	// crypto.GetDefaultKeystorePath().
	KeyFilePath string

	// HostID overrides the local host identity used for lock
	// ownership and staleness checks, in place of the persisted
	// internal/hostid value.
	HostID string

	// SelfTestDisabled records the self-test toggle from the
	// environment. No command runs a startup self-test, so the value
	// has no effect.
	SelfTestDisabled bool

	// Workarounds holds named compatibility workarounds enabled for
	// this run, e.g. for quirky filesystems or older repositories.
	Workarounds map[string]bool

	// FUSEBackends lists FUSE implementations to try, in preference
	// order, when mounting an archive.
	FUSEBackends []string
}

const (
	envRepository        = "COLDVAULT_REPO"
	envPassphrase         = "COLDVAULT_PASSPHRASE"
	envPassphraseCommand  = "COLDVAULT_PASSCOMMAND"
	envPassphraseFD       = "COLDVAULT_PASSPHRASE_FD"
	envRemoteInvocation   = "COLDVAULT_RSH"
	envRemoteBinaryPath   = "COLDVAULT_REMOTE_PATH"
	envCacheDir           = "COLDVAULT_CACHE_DIR"
	envConfigDir          = "COLDVAULT_CONFIG_DIR"
	envSecurityDir        = "COLDVAULT_SECURITY_DIR"
	envKeyFile            = "COLDVAULT_KEY_FILE"
	envHostID             = "COLDVAULT_HOST_ID"
	envDisableSelfTest    = "COLDVAULT_DISABLE_SELFTEST"
	envWorkarounds        = "COLDVAULT_WORKAROUNDS"
	envFUSEBackends       = "COLDVAULT_FUSE_IMPL"
)

// DefaultConfig assembles a Config from built-in defaults overlaid
// with whatever COLDVAULT_* environment variables are set.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	cacheDir := filepath.Join(homeDir, ".cache", "coldvault")
	configDir := filepath.Join(homeDir, ".config", "coldvault")
	securityDir := filepath.Join(homeDir, ".local", "share", "coldvault", "security")

	cfg := &Config{
		RepositoryURL:     os.Getenv(envRepository),
		Passphrase:        os.Getenv(envPassphrase),
		PassphraseCommand: os.Getenv(envPassphraseCommand),
		PassphraseFD:      -1,
		RemoteInvocation:  "ssh",
		RemoteBinaryPath:  "coldvault",
		CacheDir:          cacheDir,
		ConfigDir:         configDir,
		SecurityDir:       securityDir,
		KeyFilePath:       os.Getenv(envKeyFile),
		HostID:            os.Getenv(envHostID),
		SelfTestDisabled:  false,
		Workarounds:       map[string]bool{},
		FUSEBackends:      []string{"macfuse", "fuse3", "fuse2"},
	}

	if fd := os.Getenv(envPassphraseFD); fd != "" {
		if n, err := strconv.Atoi(fd); err == nil {
			cfg.PassphraseFD = n
		}
	}
	if v := os.Getenv(envRemoteInvocation); v != "" {
		cfg.RemoteInvocation = v
	}
	if v := os.Getenv(envRemoteBinaryPath); v != "" {
		cfg.RemoteBinaryPath = v
	}
	if v := os.Getenv(envCacheDir); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv(envConfigDir); v != "" {
		cfg.ConfigDir = v
	}
	if v := os.Getenv(envSecurityDir); v != "" {
		cfg.SecurityDir = v
	}
	if v := os.Getenv(envDisableSelfTest); v != "" {
		cfg.SelfTestDisabled = v != "0"
	}
	if v := os.Getenv(envWorkarounds); v != "" {
		for _, name := range strings.Fields(v) {
			cfg.Workarounds[name] = true
		}
	}
	if v := os.Getenv(envFUSEBackends); v != "" {
		cfg.FUSEBackends = strings.Split(v, ",")
	}

	return cfg
}

// LoadConfig returns the process configuration, ignoring configPath.
// coldvault has no on-disk config file format; all configurable
// behaviour is environment-driven, per DefaultConfig.
func LoadConfig(configPath string) (*Config, error) {
	return DefaultConfig(), nil
}

// HasWorkaround reports whether the named workaround is enabled.
func (c *Config) HasWorkaround(name string) bool {
	return c.Workarounds[name]
}
