package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Store persists cache entries between runs.
type Store interface {
	// Get returns the value for key. A missing or expired entry is
	// (false, nil); unreadable data is an error.
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Clear() error
	Stats() (StoreStats, error)
	Close() error
}

// StoreStats describes a persistent store.
type StoreStats struct {
	Backend    string `json:"backend"`
	Location   string `json:"location"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"totalBytes"`
	Expired    int    `json:"expired"`
}

// Options selects and configures a persistent store.
type Options struct {
	Enabled    bool
	Backend    string // "file" (default) or "sqlite"
	Dir        string // empty means the user cache directory
	TTLSeconds int
}

// Backends accepted in Options.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the store described by opts, or nil when caching is disabled.
func Open(opts Options) (Store, error) {
	if !opts.Enabled {
		return nil, nil
	}
	dir := opts.Dir
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	ttl := time.Duration(opts.TTLSeconds) * time.Second
	switch opts.Backend {
	case "", BackendFile:
		fs, err := OpenFileStore(dir, ttl)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case BackendSQLite:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		ss, err := OpenSQLiteStore(filepath.Join(dir, "cache.db"), ttl)
		if err != nil {
			return nil, err
		}
		return ss, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// DefaultDir returns the per-user cache directory for lens.
func DefaultDir() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "lens"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "lens"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "lens", "cache"), nil
		}
		return filepath.Join(home, "AppData", "Local", "lens", "cache"), nil
	default:
		return filepath.Join(home, ".cache", "lens"), nil
	}
}

func expired(created time.Time, ttl time.Duration) bool {
	return ttl > 0 && time.Since(created) > ttl
}
