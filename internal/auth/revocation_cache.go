package auth

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/sessiond/internal/infrastructure/cache"
)

// RevocationCache holds the current fingerprint hash per account with a TTL.
// A miss is reported as found=false, never as an error.
type RevocationCache interface {
	Get(ctx context.Context, accountID string) (hash string, found bool, err error)
	Set(ctx context.Context, accountID, hash string, ttl time.Duration) error
	Delete(ctx context.Context, accountID string) error
}

type cacheEntry struct {
	hash      string
	expiresAt time.Time
}

// MemoryRevocationCache is an in-process RevocationCache. It suits a single
// node and tests; multi-node deployments use RedisRevocationCache.
type MemoryRevocationCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryRevocationCache creates an empty in-process cache.
func NewMemoryRevocationCache() *MemoryRevocationCache {
	return &MemoryRevocationCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached hash unless it has expired.
func (c *MemoryRevocationCache) Get(ctx context.Context, accountID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	c.mu.RLock()
	entry, ok := c.entries[accountID]
	c.mu.RUnlock()

	if !ok || !c.now().Before(entry.expiresAt) {
		return "", false, nil
	}
	return entry.hash, true, nil
}

// Set stores hash for ttl. Concurrent writers for one account: last write wins.
func (c *MemoryRevocationCache) Set(ctx context.Context, accountID, hash string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[accountID] = cacheEntry{hash: hash, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Delete evicts the account's entry.
func (c *MemoryRevocationCache) Delete(ctx context.Context, accountID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.entries, accountID)
	c.mu.Unlock()
	return nil
}

// Cleanup drops expired entries and returns how many were removed.
func (c *MemoryRevocationCache) Cleanup() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including expired ones not yet cleaned.
func (c *MemoryRevocationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// redisKeyPrefix namespaces fingerprint hashes within the configured prefix.
const redisKeyPrefix = "fph:"

// RedisRevocationCache shares fingerprint hashes between nodes through Redis.
type RedisRevocationCache struct {
	client *cache.Client
}

// NewRedisRevocationCache wraps a connected cache client.
func NewRedisRevocationCache(client *cache.Client) *RedisRevocationCache {
	return &RedisRevocationCache{client: client}
}

// Get implements RevocationCache.
func (c *RedisRevocationCache) Get(ctx context.Context, accountID string) (string, bool, error) {
	return c.client.Get(ctx, redisKeyPrefix+accountID)
}

// Set implements RevocationCache.
func (c *RedisRevocationCache) Set(ctx context.Context, accountID, hash string, ttl time.Duration) error {
	return c.client.Set(ctx, redisKeyPrefix+accountID, hash, ttl)
}

// Delete implements RevocationCache.
func (c *RedisRevocationCache) Delete(ctx context.Context, accountID string) error {
	return c.client.Delete(ctx, redisKeyPrefix+accountID)
}
