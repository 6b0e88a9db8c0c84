package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache is a content-addressed, append-only result cache.
type Cache struct {
	store Store
	log   *zap.Logger

	mu      sync.RWMutex
	entries map[string]string
	group   singleflight.Group

	hits     atomic.Int64
	misses   atomic.Int64
	computes atomic.Int64
}

// New returns a Cache writing through to store. A nil store keeps results in
// memory only.
func New(store Store, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{store: store, log: log, entries: make(map[string]string)}
}

// Key hashes the semantic inputs of a call into a cache key. Parts are
// length-prefixed so that ("ab", "c") and ("a", "bc") differ.
func Key(kind string, parts ...string) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range append([]string{kind}, parts...) {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached value without computing.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return v, true
	}
	if v, ok = c.load(key); ok {
		c.remember(key, v)
	}
	return v, ok
}

// GetOrCompute returns the value stored under key, invoking compute at most
// once per key when it is absent. Failed computations are not cached.
func (c *Cache) GetOrCompute(key string, compute func() (string, error)) (string, error) {
	if v, ok := c.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		// another caller may have finished between Get and Do
		c.mu.RLock()
		v, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			c.hits.Add(1)
			return v, nil
		}
		c.misses.Add(1)
		c.computes.Add(1)
		v, err := compute()
		if err != nil {
			return "", err
		}
		c.remember(key, v)
		c.persist(key, v)
		return v, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) remember(key, value string) {
	c.mu.Lock()
	if _, ok := c.entries[key]; !ok {
		c.entries[key] = value
	}
	c.mu.Unlock()
}

func (c *Cache) load(key string) (string, bool) {
	if c.store == nil {
		return "", false
	}
	v, ok, err := c.store.Get(key)
	if err != nil {
		c.log.Warn("cache read failed, treating as miss", zap.String("key", short(key)), zap.Error(err))
		return "", false
	}
	return v, ok
}

func (c *Cache) persist(key, value string) {
	if c.store == nil {
		return
	}
	if err := c.store.Put(key, value); err != nil {
		c.log.Warn("cache write failed", zap.String("key", short(key)), zap.Error(err))
	}
}

// Stats reports counters for this cache and, when available, its store.
type Stats struct {
	Memory   int         `json:"memory"`
	Hits     int64       `json:"hits"`
	Misses   int64       `json:"misses"`
	Computes int64       `json:"computes"`
	Store    *StoreStats `json:"store,omitempty"`
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	s := Stats{Memory: n, Hits: c.hits.Load(), Misses: c.misses.Load(), Computes: c.computes.Load()}
	if c.store != nil {
		if ss, err := c.store.Stats(); err == nil {
			s.Store = &ss
		}
	}
	return s
}

// Close releases the store.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("cache store closed")

func short(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
