package cache

import (
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshotVersion guards against loading snapshots written by an
// incompatible layout.
const snapshotVersion = 1

// Snapshot is the on-disk form of both proxy caches, written on graceful
// shutdown and reloaded on start so a restart does not empty the caches.
type Snapshot struct {
	Version     int                     `msgpack:"version"`
	SavedAt     int64                   `msgpack:"saved_at"`
	Coordinates map[string]string       `msgpack:"coordinates"`
	Weather     map[string]WeatherEntry `msgpack:"weather"`
}

// Save writes both caches to path as msgpack.
func Save(path string, cc *CoordinateCache, wc *WeatherCache) error {
	snap := Snapshot{
		Version:     snapshotVersion,
		SavedAt:     time.Now().Unix(),
		Coordinates: cc.dump(),
		Weather:     wc.dump(),
	}
	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encoding cache snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing cache snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores both caches from a snapshot at path. A missing file is not
// an error; entries get a fresh TTL on load.
func Load(path string, cc *CoordinateCache, wc *WeatherCache) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading cache snapshot: %w", err)
	}
	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding cache snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("cache snapshot version %d not supported", snap.Version)
	}
	cc.load(snap.Coordinates)
	wc.load(snap.Weather)
	return nil
}
