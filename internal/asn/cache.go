package asn

import (
	"context"
	"sync"
	"time"

	"github.com/proxyproinsight/omeganexus/internal/model"
)

// DefaultCacheTTL is how long a resolved entry stays fresh.
const DefaultCacheTTL = time.Hour

type cacheEntry struct {
	data     *model.ASNData
	cachedAt time.Time
}

// LookupFunc resolves an IP to ASN data; satisfied by Detector.Lookup.
type LookupFunc func(ctx context.Context, ip string) (*model.ASNData, error)

// Cache is a read-through, per-IP cache in front of the detector. It is the
// one piece of shared state touched by many concurrent validations, so reads
// take the read lock and only cache fills take the write lock. Failed
// lookups are never cached: the next caller retries the providers.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	lookup LookupFunc
	ttl    time.Duration
	now    func() time.Time
}

// NewCache builds a cache over the given lookup with the given TTL.
func NewCache(lookup LookupFunc, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		lookup:  lookup,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached classification for an IP, resolving and filling on
// a miss or an expired entry.
func (c *Cache) Get(ctx context.Context, ip string) (*model.ASNData, error) {
	c.mu.RLock()
	entry, ok := c.entries[ip]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.cachedAt) < c.ttl {
		return entry.data, nil
	}

	data, err := c.lookup(ctx, ip)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[ip] = cacheEntry{data: data, cachedAt: c.now()}
	c.mu.Unlock()
	return data, nil
}

// Len reports the number of cached entries, fresh or expired.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
