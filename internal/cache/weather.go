package cache

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultWeatherTTL keeps forecast answers for ten minutes.
const DefaultWeatherTTL = 10 * time.Minute

// Fingerprint is the weather cache key: area code, requested flag bitmap,
// and forecast day. Because the flags are part of the key, a hit always
// covers exactly the requested fields; a superset request misses and goes
// to the backend.
type Fingerprint struct {
	AreaCode string
	Flags    uint8
	Day      uint8
}

func (f Fingerprint) key() string {
	return fmt.Sprintf("%s/%02x/%d", f.AreaCode, f.Flags, f.Day)
}

// WeatherEntry is a decoded weather answer as served to a client.
// Temperature is in Celsius, not wire-biased.
type WeatherEntry struct {
	WeatherCode uint16   `msgpack:"weather_code"`
	Temperature int      `msgpack:"temperature"`
	Pop         uint8    `msgpack:"pop"`
	Alerts      []string `msgpack:"alerts"`
	Disasters   []string `msgpack:"disasters"`
}

// WeatherCache maps query fingerprints to decoded weather answers with a
// uniform TTL.
type WeatherCache struct {
	ttl time.Duration
	c   *gocache.Cache
}

// NewWeatherCache creates a weather cache with the given TTL. Zero selects
// the default.
func NewWeatherCache(ttl time.Duration) *WeatherCache {
	if ttl <= 0 {
		ttl = DefaultWeatherTTL
	}
	return &WeatherCache{
		ttl: ttl,
		c:   gocache.New(ttl, ttl),
	}
}

// Get returns the cached answer for a fingerprint if it has not expired.
func (w *WeatherCache) Get(fp Fingerprint) (*WeatherEntry, bool) {
	v, ok := w.c.Get(fp.key())
	if !ok {
		return nil, false
	}
	entry := v.(WeatherEntry)
	return &entry, true
}

// Put stores an answer under its fingerprint.
func (w *WeatherCache) Put(fp Fingerprint, entry WeatherEntry) {
	w.c.Set(fp.key(), entry, w.ttl)
}

// Len returns the number of live entries.
func (w *WeatherCache) Len() int {
	return w.c.ItemCount()
}

// dump returns unexpired entries for snapshot persistence.
func (w *WeatherCache) dump() map[string]WeatherEntry {
	items := w.c.Items()
	out := make(map[string]WeatherEntry, len(items))
	for k, item := range items {
		if item.Expired() {
			continue
		}
		out[k] = item.Object.(WeatherEntry)
	}
	return out
}

// load restores snapshot entries with a fresh TTL.
func (w *WeatherCache) load(entries map[string]WeatherEntry) {
	for k, v := range entries {
		w.c.Set(k, v, w.ttl)
	}
}
