package analytics

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Event is one served request as seen by a traffic entry of the stack.
type Event struct {
	Entries   []string // display names of the chain entries that served it
	Backend   string   // proxy backend, if any
	Status    int
	Latency   time.Duration
	BytesIn   int64
	BytesOut  int64
	Timestamp time.Time
}

// Bucket aggregates traffic for one key during a one-minute window.
type Bucket struct {
	Key          string        `json:"key"`
	Timestamp    time.Time     `json:"timestamp"` // start of the window
	RequestCount int           `json:"request_count"`
	ErrorCount   int           `json:"error_count"` // status >= 500
	TotalLatency time.Duration `json:"total_latency"`
	MaxLatency   time.Duration `json:"max_latency"`
	BytesIn      int64         `json:"bytes_in"`
	BytesOut     int64         `json:"bytes_out"`
}

// AvgLatency returns the mean latency for this bucket.
func (b *Bucket) AvgLatency() time.Duration {
	if b.RequestCount == 0 {
		return 0
	}
	return b.TotalLatency / time.Duration(b.RequestCount)
}

// Summary folds the buckets of one key over a time range.
type Summary struct {
	Requests   int           `json:"requests"`
	Errors     int           `json:"errors"`
	ErrorRate  float64       `json:"error_rate"`
	AvgLatency time.Duration `json:"avg_latency"`
	MaxLatency time.Duration `json:"max_latency"`
	BytesIn    int64         `json:"bytes_in"`
	BytesOut   int64         `json:"bytes_out"`
}

func summarize(buckets []Bucket) Summary {
	var s Summary
	var total time.Duration
	for _, b := range buckets {
		s.Requests += b.RequestCount
		s.Errors += b.ErrorCount
		total += b.TotalLatency
		s.MaxLatency = max(s.MaxLatency, b.MaxLatency)
		s.BytesIn += b.BytesIn
		s.BytesOut += b.BytesOut
	}
	if s.Requests > 0 {
		s.ErrorRate = float64(s.Errors) / float64(s.Requests)
		s.AvgLatency = total / time.Duration(s.Requests)
	}
	return s
}

type bucketMap map[string]map[time.Time]*Bucket // key -> minute -> bucket

// Store keeps per-entry and per-backend traffic in one-minute buckets.
type Store struct {
	mu        sync.RWMutex
	entries   bucketMap
	backends  bucketMap
	retention time.Duration
}

// NewStore creates an in-memory traffic store keeping buckets for
// retention (default 48h).
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &Store{
		entries:   make(bucketMap),
		backends:  make(bucketMap),
		retention: retention,
	}
}

// Record counts ev once for every entry in its chain and once for its backend.
func (s *Store) Record(ev Event) {
	minute := ev.Timestamp.Truncate(time.Minute)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range ev.Entries {
		s.entries.record(entry, minute, ev)
	}
	if ev.Backend != "" {
		s.backends.record(ev.Backend, minute, ev)
	}
}

func (m bucketMap) record(key string, minute time.Time, ev Event) {
	if m[key] == nil {
		m[key] = make(map[time.Time]*Bucket)
	}
	b, exists := m[key][minute]
	if !exists {
		b = &Bucket{Key: key, Timestamp: minute}
		m[key][minute] = b
	}
	b.RequestCount++
	b.TotalLatency += ev.Latency
	b.MaxLatency = max(b.MaxLatency, ev.Latency)
	if ev.Status >= 500 {
		b.ErrorCount++
	}
	b.BytesIn += ev.BytesIn
	b.BytesOut += ev.BytesOut
}

// collect returns the buckets of key within [from, to), oldest first.
// Callers hold at least a read lock.
func (m bucketMap) collect(key string, from, to time.Time) []Bucket {
	var result []Bucket
	for ts, b := range m[key] {
		if !ts.Before(from) && ts.Before(to) {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

func (m bucketMap) summaries(from, to time.Time) map[string]Summary {
	result := make(map[string]Summary, len(m))
	for key := range m {
		if buckets := m.collect(key, from, to); len(buckets) > 0 {
			result[key] = summarize(buckets)
		}
	}
	return result
}

// Buckets returns the buckets of one entry within [from, to).
func (s *Store) Buckets(entry string, from, to time.Time) []Bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.collect(entry, from, to)
}

// Entries returns every entry name seen, sorted.
func (s *Store) Entries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EntrySummaries summarizes each entry's traffic within [from, to).
func (s *Store) EntrySummaries(from, to time.Time) map[string]Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.summaries(from, to)
}

// BackendSummaries summarizes each backend's traffic within [from, to).
func (s *Store) BackendSummaries(from, to time.Time) map[string]Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backends.summaries(from, to)
}

// StartCleanup prunes expired buckets every interval until ctx is done.
func (s *Store) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.prune(now.Add(-s.retention))
			}
		}
	}()
}

func (s *Store) prune(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.prune(cutoff)
	s.backends.prune(cutoff)
}

func (m bucketMap) prune(cutoff time.Time) {
	for key, buckets := range m {
		for ts := range buckets {
			if ts.Before(cutoff) {
				delete(buckets, ts)
			}
		}
		if len(buckets) == 0 {
			delete(m, key)
		}
	}
}
