package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinateCacheRoundTrip(t *testing.T) {
	c := NewCoordinateCache(16, time.Minute)
	c.Put(35.6895, 139.6917, "130000")

	got, ok := c.Get(35.6895, 139.6917)
	require.True(t, ok)
	assert.Equal(t, "130000", got)

	_, ok = c.Get(35.6896, 139.6917)
	assert.False(t, ok)
}

func TestCoordinateCacheExpiry(t *testing.T) {
	c := NewCoordinateCache(16, 20*time.Millisecond)
	c.Put(1, 2, "011000")
	time.Sleep(50 * time.Millisecond)
	_, ok := c.Get(1, 2)
	assert.False(t, ok)
}

func TestCoordinateCacheBounded(t *testing.T) {
	c := NewCoordinateCache(2, time.Minute)
	c.Put(1, 1, "a")
	c.Put(2, 2, "b")
	c.Put(3, 3, "c")
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(1, 1)
	assert.False(t, ok, "oldest entry evicted")
}

func TestCoordinateKeyQuantization(t *testing.T) {
	assert.Equal(t, "35.689500,139.691700", CoordinateKey(35.6895, 139.6917))
	assert.Equal(t, CoordinateKey(35.6895, 139.6917), CoordinateKey(35.68950000001, 139.6917))
}

func TestWeatherCacheFingerprint(t *testing.T) {
	w := NewWeatherCache(time.Minute)
	fp := Fingerprint{AreaCode: "130000", Flags: 0x07, Day: 0}
	w.Put(fp, WeatherEntry{WeatherCode: 100, Temperature: 25, Pop: 30})

	got, ok := w.Get(fp)
	require.True(t, ok)
	assert.Equal(t, uint16(100), got.WeatherCode)
	assert.Equal(t, 25, got.Temperature)

	// A different flag bitmap is a different fingerprint: superset requests
	// never get served from a narrower entry.
	_, ok = w.Get(Fingerprint{AreaCode: "130000", Flags: 0x0F, Day: 0})
	assert.False(t, ok)
	_, ok = w.Get(Fingerprint{AreaCode: "130000", Flags: 0x07, Day: 1})
	assert.False(t, ok)
}

func TestWeatherCacheExpiry(t *testing.T) {
	w := NewWeatherCache(20 * time.Millisecond)
	fp := Fingerprint{AreaCode: "011000", Flags: 0x01, Day: 0}
	w.Put(fp, WeatherEntry{WeatherCode: 200})
	time.Sleep(50 * time.Millisecond)
	_, ok := w.Get(fp)
	assert.False(t, ok)
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caches.snapshot")

	cc := NewCoordinateCache(16, time.Minute)
	wc := NewWeatherCache(time.Minute)
	cc.Put(35.6895, 139.6917, "130000")
	wc.Put(Fingerprint{AreaCode: "130000", Flags: 0x07, Day: 0}, WeatherEntry{
		WeatherCode: 100,
		Temperature: 25,
		Pop:         30,
		Alerts:      []string{"大雨警報"},
	})

	require.NoError(t, Save(path, cc, wc))

	cc2 := NewCoordinateCache(16, time.Minute)
	wc2 := NewWeatherCache(time.Minute)
	require.NoError(t, Load(path, cc2, wc2))

	area, ok := cc2.Get(35.6895, 139.6917)
	require.True(t, ok)
	assert.Equal(t, "130000", area)

	entry, ok := wc2.Get(Fingerprint{AreaCode: "130000", Flags: 0x07, Day: 0})
	require.True(t, ok)
	assert.Equal(t, []string{"大雨警報"}, entry.Alerts)
}

func TestSnapshotMissingFileIsFine(t *testing.T) {
	cc := NewCoordinateCache(16, time.Minute)
	wc := NewWeatherCache(time.Minute)
	assert.NoError(t, Load(filepath.Join(t.TempDir(), "nope"), cc, wc))
}
