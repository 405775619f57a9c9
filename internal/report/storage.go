// Package report implements the Report Server: it accepts Type-4 sensor
// reports, appends them to per-area JSON logs, and acknowledges with Type-5.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// Record is one stored sensor report. The measurement fields are pointers
// because a sensor submits only the fields its flags select; zero is a valid
// reading for all three.
type Record struct {
	ReportID    string   `json:"report_id"`
	Timestamp   int64    `json:"timestamp"`
	WeatherCode *int     `json:"weather_code,omitempty"`
	Temperature *int     `json:"temperature,omitempty"`
	Pop         *int     `json:"pop,omitempty"`
	Alerts      []string `json:"alerts,omitempty"`
	Disasters   []string `json:"disasters,omitempty"`
	ReceivedAt  string   `json:"received_at"`
}

// Document is the on-disk shape of one area's report log. Reports are kept
// newest-first.
type Document struct {
	AreaCode     string   `json:"area_code"`
	CreatedAt    string   `json:"created_at"`
	LastUpdated  string   `json:"last_updated"`
	TotalReports int      `json:"total_reports"`
	Reports      []Record `json:"reports"`
}

// FileStore persists report logs as one JSON file per area under dir.
// Writes to the same area serialize on a file lock; distinct areas proceed
// concurrently.
type FileStore struct {
	dir        string
	maxReports int

	mu    sync.Mutex
	locks map[string]*flock.Flock
}

// NewFileStore creates the report directory if needed. maxReports <= 0
// disables trimming.
func NewFileStore(dir string, maxReports int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report dir: %w", err)
	}
	return &FileStore{
		dir:        dir,
		maxReports: maxReports,
		locks:      make(map[string]*flock.Flock),
	}, nil
}

func (fs *FileStore) path(areaCode string) string {
	return filepath.Join(fs.dir, fmt.Sprintf("sensor_data_%s.json", areaCode))
}

// areaLock returns the process-wide lock handle for one area's file.
func (fs *FileStore) areaLock(areaCode string) *flock.Flock {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	lk, ok := fs.locks[areaCode]
	if !ok {
		lk = flock.New(fs.path(areaCode) + ".lock")
		fs.locks[areaCode] = lk
	}
	return lk
}

// Append assigns the record an id and prepends it to the area's log.
// created reports whether this call started a new area file.
func (fs *FileStore) Append(areaCode string, rec Record) (created bool, err error) {
	lk := fs.areaLock(areaCode)
	if err := lk.Lock(); err != nil {
		return false, fmt.Errorf("locking report log %s: %w", areaCode, err)
	}
	defer lk.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	doc, err := fs.read(areaCode)
	if errors.Is(err, os.ErrNotExist) {
		created = true
		doc = &Document{AreaCode: areaCode, CreatedAt: now}
	} else if err != nil {
		return false, err
	}

	rec.ReportID = uuid.NewString()
	rec.ReceivedAt = now

	doc.Reports = append([]Record{rec}, doc.Reports...)
	if fs.maxReports > 0 && len(doc.Reports) > fs.maxReports {
		doc.Reports = doc.Reports[:fs.maxReports]
	}
	doc.TotalReports = len(doc.Reports)
	doc.LastUpdated = now

	return created, fs.write(areaCode, doc)
}

// Load returns one area's log, or os.ErrNotExist.
func (fs *FileStore) Load(areaCode string) (*Document, error) {
	lk := fs.areaLock(areaCode)
	if err := lk.RLock(); err != nil {
		return nil, fmt.Errorf("locking report log %s: %w", areaCode, err)
	}
	defer lk.Unlock()
	return fs.read(areaCode)
}

func (fs *FileStore) read(areaCode string) (*Document, error) {
	data, err := os.ReadFile(fs.path(areaCode))
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding report log %s: %w", areaCode, err)
	}
	return &doc, nil
}

// write replaces the log atomically through a temp file rename.
func (fs *FileStore) write(areaCode string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report log %s: %w", areaCode, err)
	}
	path := fs.path(areaCode)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing report log %s: %w", areaCode, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing report log %s: %w", areaCode, err)
	}
	return nil
}
