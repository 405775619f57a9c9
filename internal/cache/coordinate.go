// Package cache holds the two in-process caches that make the proxy
// pipeline latency-acceptable: coordinate → area code, and query
// fingerprint → weather data.
package cache

import (
	"strconv"

	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCoordinateTTL is one week; resolved district boundaries change
// rarely.
const DefaultCoordinateTTL = 7 * 24 * time.Hour

// DefaultCoordinateCacheSize bounds the LRU.
const DefaultCoordinateCacheSize = 65536

// CoordinateCache maps a quantized (lat, lon) pair to a 6-digit area code.
// Entries expire individually and the cache is size-bounded LRU.
type CoordinateCache struct {
	lru *expirable.LRU[string, string]
}

// NewCoordinateCache creates a coordinate cache with the given capacity and
// per-entry TTL. Zero values select the defaults.
func NewCoordinateCache(size int, ttl time.Duration) *CoordinateCache {
	if size <= 0 {
		size = DefaultCoordinateCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCoordinateTTL
	}
	return &CoordinateCache{
		lru: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// CoordinateKey quantizes a coordinate pair to six decimal digits, the full
// precision the wire format carries.
func CoordinateKey(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lon, 'f', 6, 64)
}

// Get returns the cached area code for a coordinate pair.
func (c *CoordinateCache) Get(lat, lon float64) (string, bool) {
	return c.lru.Get(CoordinateKey(lat, lon))
}

// Put stores the area code resolved for a coordinate pair.
func (c *CoordinateCache) Put(lat, lon float64, areaCode string) {
	c.lru.Add(CoordinateKey(lat, lon), areaCode)
}

// Len returns the number of live entries.
func (c *CoordinateCache) Len() int {
	return c.lru.Len()
}

// dump returns the current entries for snapshot persistence.
func (c *CoordinateCache) dump() map[string]string {
	out := make(map[string]string, c.lru.Len())
	for _, k := range c.lru.Keys() {
		if v, ok := c.lru.Peek(k); ok {
			out[k] = v
		}
	}
	return out
}

// load restores snapshot entries with a fresh TTL.
func (c *CoordinateCache) load(entries map[string]string) {
	for k, v := range entries {
		c.lru.Add(k, v)
	}
}
