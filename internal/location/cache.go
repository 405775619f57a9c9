package location

import (
	"strconv"
	"sync"
	"time"
)

// areaCache is a TTL map keyed by the exact "lon,lat" string. Expiry is
// lazy on lookup; there is no capacity bound, which is acceptable because
// callers quantize coordinates to six decimals.
type areaCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]areaEntry
}

type areaEntry struct {
	code    string
	expires time.Time
}

func newAreaCache(ttl time.Duration) *areaCache {
	return &areaCache{
		ttl:     ttl,
		entries: make(map[string]areaEntry),
	}
}

// cacheKey renders the "lon,lat" lookup key at wire precision.
func cacheKey(lon, lat float64) string {
	return strconv.FormatFloat(lon, 'f', 6, 64) + "," + strconv.FormatFloat(lat, 'f', 6, 64)
}

func (c *areaCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.code, true
}

func (c *areaCache) put(key, code string) {
	c.mu.Lock()
	c.entries[key] = areaEntry{code: code, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *areaCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
