package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// entry is the on-disk form of a file store record.
type entry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileStore keeps one JSON file per entry in a directory.
type FileStore struct {
	dir string
	ttl time.Duration
}

// OpenFileStore creates dir if needed and returns a store over it.
func OpenFileStore(dir string, ttl time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &FileStore{dir: dir, ttl: ttl}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get reads the entry for key. Expired entries are removed.
func (s *FileStore) Get(key string) (string, bool, error) {
	path := s.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return "", false, fmt.Errorf("corrupt cache entry %s: %w", filepath.Base(path), err)
	}
	if e.Key != key {
		return "", false, fmt.Errorf("cache entry %s holds key %q", filepath.Base(path), e.Key)
	}
	if expired(e.CreatedAt, s.ttl) {
		_ = os.Remove(path)
		return "", false, nil
	}
	return e.Value, true, nil
}

// Put writes the entry through a temporary file so readers never see a
// partial record.
func (s *FileStore) Put(key, value string) error {
	data, err := json.Marshal(entry{Key: key, Value: value, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Clear removes all entries.
func (s *FileStore) Clear() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" || strings.HasPrefix(e.Name(), ".entry-") {
			_ = os.Remove(filepath.Join(s.dir, e.Name()))
		}
	}
	return nil
}

// Stats counts entries, bytes and expired entries.
func (s *FileStore) Stats() (StoreStats, error) {
	stats := StoreStats{Backend: BackendFile, Location: s.dir}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.TotalBytes += info.Size()

		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var rec entry
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if expired(rec.CreatedAt, s.ttl) {
			stats.Expired++
		}
	}
	return stats, nil
}

// Close is a no-op for file stores.
func (s *FileStore) Close() error { return nil }
