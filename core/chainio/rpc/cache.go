package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
)

type cacheEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
}

// Cache holds read-only chain snapshots keyed by (network, dataType,
// address). Entries are only evicted when a lookup finds them stale;
// concurrent writers to one key race and the last write wins.
type Cache struct {
	store      *bigcache.BigCache
	defaultTTL time.Duration
	now        func() time.Time
}

func NewCache(ctx context.Context, defaultTTL time.Duration) (*Cache, error) {
	config := bigcache.DefaultConfig(24 * time.Hour)
	// no background sweep, staleness is checked on read
	config.CleanWindow = 0
	config.Shards = 64
	config.MaxEntriesInWindow = 10 * 1000
	config.MaxEntrySize = 2048
	config.Verbose = false
	config.HardMaxCacheSize = 256

	store, err := bigcache.New(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("cannot create rpc cache: %w", err)
	}

	return &Cache{store: store, defaultTTL: defaultTTL, now: time.Now}, nil
}

func CacheKey(network, dataType, address string) string {
	return strings.ToLower(network) + ":" + dataType + ":" + strings.ToLower(address)
}

// Get decodes the cached value into out. The bool is false on a miss or
// when the entry outlived its ttl, in which case it is dropped.
func (c *Cache) Get(network, dataType, address string, out any) bool {
	key := CacheKey(network, dataType, address)
	raw, err := c.store.Get(key)
	if err != nil {
		return false
	}

	entry := &cacheEntry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		c.store.Delete(key)
		return false
	}

	if c.now().UnixMilli()-entry.Timestamp > entry.TTL {
		c.store.Delete(key)
		return false
	}

	return json.Unmarshal(entry.Data, out) == nil
}

// Set stores value with ttl, zero ttl falls back to the default
func (c *Cache) Set(network, dataType, address string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(&cacheEntry{
		Data:      data,
		Timestamp: c.now().UnixMilli(),
		TTL:       ttl.Milliseconds(),
	})
	if err != nil {
		return err
	}

	return c.store.Set(CacheKey(network, dataType, address), raw)
}

func (c *Cache) Len() int {
	return c.store.Len()
}

func (c *Cache) Close() error {
	return c.store.Close()
}
