// Package stats aggregates capture session counters and body-fetch latency.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram bounds in microseconds: 1us to 5 minutes
const (
	minLatencyUs = 1
	maxLatencyUs = 300_000_000
)

// Stats collects capture outcomes. All methods are safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	// Counters
	received       atomic.Int64
	rejected       atomic.Int64
	excluded       atomic.Int64
	captured       atomic.Int64
	failed         atomic.Int64
	writeFailures  atomic.Int64
	recordFailures atomic.Int64
	bytesCaptured  atomic.Int64

	// Body fetch latency (microseconds)
	histogram *hdrhistogram.Histogram

	byExtension map[string]int64

	startTime time.Time
	endTime   time.Time
}

// Summary is a point-in-time copy of the statistics
type Summary struct {
	Received       int64            `json:"received"`
	Rejected       int64            `json:"rejected"`
	Excluded       int64            `json:"excluded"`
	Captured       int64            `json:"captured"`
	Failed         int64            `json:"failed"`
	WriteFailures  int64            `json:"write_failures"`
	RecordFailures int64            `json:"record_failures"`
	Bytes          int64            `json:"bytes"`
	ByExtension    map[string]int64 `json:"by_extension"`
	FetchP50       time.Duration    `json:"fetch_p50"`
	FetchP95       time.Duration    `json:"fetch_p95"`
	FetchP99       time.Duration    `json:"fetch_p99"`
	FetchMax       time.Duration    `json:"fetch_max"`
	Elapsed        time.Duration    `json:"elapsed"`
}

// New creates an empty collector
func New() *Stats {
	return &Stats{
		histogram:   hdrhistogram.New(minLatencyUs, maxLatencyUs, 3),
		byExtension: make(map[string]int64),
	}
}

// Start marks the beginning of the session
func (s *Stats) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = time.Now()
}

// Stop marks the end of the session
func (s *Stats) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endTime = time.Now()
}

// Received counts a response event
func (s *Stats) Received() {
	s.received.Add(1)
}

// Rejected counts a redirect or error response
func (s *Stats) Rejected() {
	s.rejected.Add(1)
}

// Excluded counts a response skipped by the include pattern
func (s *Stats) Excluded() {
	s.excluded.Add(1)
}

// Fetched records how long the body retrieval took
func (s *Stats) Fetched(d time.Duration) {
	latencyUs := d.Microseconds()
	if latencyUs < minLatencyUs {
		latencyUs = minLatencyUs
	}
	if latencyUs > maxLatencyUs {
		latencyUs = maxLatencyUs
	}

	s.mu.Lock()
	_ = s.histogram.RecordValue(latencyUs)
	s.mu.Unlock()
}

// Captured counts a response handed to the writers
func (s *Stats) Captured(extension string, size int) {
	s.captured.Add(1)
	s.bytesCaptured.Add(int64(size))

	s.mu.Lock()
	s.byExtension[extension]++
	s.mu.Unlock()
}

// Failed counts a response whose pipeline failed
func (s *Stats) Failed() {
	s.failed.Add(1)
}

// WriteFailed counts a failed artifact write
func (s *Stats) WriteFailed() {
	s.writeFailures.Add(1)
}

// RecordFailed counts a failed metadata insert
func (s *Stats) RecordFailed() {
	s.recordFailures.Add(1)
}

// Summary returns a snapshot of the collected statistics
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		Received:       s.received.Load(),
		Rejected:       s.rejected.Load(),
		Excluded:       s.excluded.Load(),
		Captured:       s.captured.Load(),
		Failed:         s.failed.Load(),
		WriteFailures:  s.writeFailures.Load(),
		RecordFailures: s.recordFailures.Load(),
		Bytes:          s.bytesCaptured.Load(),
		ByExtension:    make(map[string]int64, len(s.byExtension)),
	}
	for ext, n := range s.byExtension {
		sum.ByExtension[ext] = n
	}

	if s.histogram.TotalCount() > 0 {
		sum.FetchP50 = time.Duration(s.histogram.ValueAtQuantile(50)) * time.Microsecond
		sum.FetchP95 = time.Duration(s.histogram.ValueAtQuantile(95)) * time.Microsecond
		sum.FetchP99 = time.Duration(s.histogram.ValueAtQuantile(99)) * time.Microsecond
		sum.FetchMax = time.Duration(s.histogram.Max()) * time.Microsecond
	}

	if !s.startTime.IsZero() {
		end := s.endTime
		if end.IsZero() {
			end = time.Now()
		}
		sum.Elapsed = end.Sub(s.startTime)
	}

	return sum
}
