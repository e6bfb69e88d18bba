package dashboard

import (
	"strings"
	"sync"
	"time"
)

// RequestLog is one request as seen by a capture entry of the stack.
type RequestLog struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	Latency   time.Duration `json:"latency_ms"`
	ClientIP  string        `json:"client_ip"`
	BytesIn   int64         `json:"bytes_in"`
	BytesOut  int64         `json:"bytes_out"`
	Backend   string        `json:"backend,omitempty"`
	Chain     []string      `json:"chain,omitempty"` // stack entries that served the request
}

// LogStore is a thread-safe ring buffer for storing recent request logs
type LogStore struct {
	logs  []RequestLog
	mu    sync.RWMutex
	size  int
	index int
	count int

	// OnAdd is an optional hook to fire when a new log is received
	OnAdd func(log RequestLog)
}

// NewLogStore creates a new LogStore with the specified capacity
func NewLogStore(capacity int) *LogStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LogStore{
		logs: make([]RequestLog, capacity),
		size: capacity,
	}
}

// Add inserts a new request log into the ring buffer
func (s *LogStore) Add(log RequestLog) {
	s.mu.Lock()
	s.logs[s.index] = log
	s.index = (s.index + 1) % s.size
	if s.count < s.size {
		s.count++
	}
	s.mu.Unlock()

	if s.OnAdd != nil {
		s.OnAdd(log)
	}
}

// Len returns the number of logs held.
func (s *LogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// each visits logs newest first until fn returns false. Callers hold the lock.
func (s *LogStore) each(fn func(RequestLog) bool) {
	for i := 1; i <= s.count; i++ {
		idx := (s.index - i + s.size) % s.size
		if !fn(s.logs[idx]) {
			return
		}
	}
}

// Recent returns the n most recent request logs, ordered newest to oldest
func (s *LogStore) Recent(n int) []RequestLog {
	if n <= 0 {
		return []RequestLog{}
	}
	return s.Search(n, 0, "")
}

// GetByID retrieves a specific log by its ID
func (s *LogStore) GetByID(id string) (RequestLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found RequestLog
	ok := false
	s.each(func(log RequestLog) bool {
		if log.ID == id {
			found, ok = log, true
			return false
		}
		return true
	})
	return found, ok
}

// Search returns up to limit logs, newest first, filtered by status (0 = any)
// and by a path substring (empty = any).
func (s *LogStore) Search(limit int, status int, path string) []RequestLog {
	return s.Query(Query{Limit: limit, Status: status, Path: path})
}

// Query narrows a log search.
type Query struct {
	Limit  int
	Status int
	Path   string
	Entry  string // display name of a stack entry that must be in the chain
}

// Query returns logs matching q, newest first.
func (s *LogStore) Query(q Query) []RequestLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	result := make([]RequestLog, 0, min(limit, s.count))
	s.each(func(log RequestLog) bool {
		if len(result) >= limit {
			return false
		}
		if q.Status > 0 && log.Status != q.Status {
			return true
		}
		if q.Path != "" && !strings.Contains(log.Path, q.Path) {
			return true
		}
		if q.Entry != "" && !containsEntry(log.Chain, q.Entry) {
			return true
		}
		result = append(result, log)
		return true
	})
	return result
}

func containsEntry(chain []string, entry string) bool {
	for _, e := range chain {
		if e == entry {
			return true
		}
	}
	return false
}
