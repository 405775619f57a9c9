package server

import (
	"sync"
	"time"
)

// Stats is the per-server request/success/error counter triplet. Every
// update happens under the mutex.
type Stats struct {
	mu       sync.Mutex
	requests uint64
	success  uint64
	errors   uint64
	started  time.Time
}

// NewStats creates a counter set with the uptime clock started.
func NewStats() *Stats {
	return &Stats{started: time.Now()}
}

// IncRequest counts one received datagram.
func (s *Stats) IncRequest() {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
}

// IncSuccess counts one successfully handled datagram.
func (s *Stats) IncSuccess() {
	s.mu.Lock()
	s.success++
	s.mu.Unlock()
}

// IncError counts one failed datagram.
func (s *Stats) IncError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Requests      uint64  `json:"requests"`
	Success       uint64  `json:"success"`
	Errors        uint64  `json:"errors"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Requests:      s.requests,
		Success:       s.success,
		Errors:        s.errors,
		UptimeSeconds: time.Since(s.started).Seconds(),
	}
}
