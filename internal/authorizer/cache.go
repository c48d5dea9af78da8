package authorizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DecisionCache holds short-lived authorization decisions. Entries are
// tagged with the deciding user so a role, status or MFA change can drop
// everything that user has cached, regardless of token or target.
type DecisionCache interface {
	Get(ctx context.Context, key string) (*Decision, bool)
	Set(ctx context.Context, key, userID string, d *Decision, ttl time.Duration)
	InvalidateUser(ctx context.Context, userID string) error
}

// CacheKey fingerprints the raw token so the cache never stores credential
// material, then scopes it to the target.
func CacheKey(rawToken, resource, action string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:]) + "|" + resource + "|" + action
}

type memoryEntry struct {
	decision  Decision
	userID    string
	expiresAt time.Time
}

// MemoryCache is the in-process DecisionCache. Expired entries are dropped
// lazily on read and swept on write, which is enough at second-scale TTLs.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	byUser  map[string]map[string]struct{}
	nowF    func() time.Time
}

// NewMemoryCache returns an empty in-process decision cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		byUser:  make(map[string]map[string]struct{}),
		nowF:    time.Now,
	}
}

// Get returns the cached decision for key if present and not expired.
func (c *MemoryCache) Get(ctx context.Context, key string) (*Decision, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expiresAt.After(c.nowF()) {
		c.mu.Lock()
		c.remove(key)
		c.mu.Unlock()
		return nil, false
	}
	d := e.decision
	return &d, true
}

// Set stores d under key for ttl, indexed by userID for invalidation.
func (c *MemoryCache) Set(ctx context.Context, key, userID string, d *Decision, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := c.nowF()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !e.expiresAt.After(now) {
			c.remove(k)
		}
	}
	c.entries[key] = memoryEntry{decision: *d, userID: userID, expiresAt: now.Add(ttl)}
	if userID != "" {
		keys, ok := c.byUser[userID]
		if !ok {
			keys = make(map[string]struct{})
			c.byUser[userID] = keys
		}
		keys[key] = struct{}{}
	}
}

// InvalidateUser drops every cached decision tagged with userID.
func (c *MemoryCache) InvalidateUser(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.byUser[userID] {
		delete(c.entries, key)
	}
	delete(c.byUser, userID)
	return nil
}

// remove deletes key from both indexes. Caller holds the write lock.
func (c *MemoryCache) remove(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	if e.userID != "" {
		if keys, ok := c.byUser[e.userID]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byUser, e.userID)
			}
		}
	}
}
