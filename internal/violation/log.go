package violation

import "sync"

// DefaultLogCapacity is the number of records kept for display.
const DefaultLogCapacity = 10

// Log is a bounded most-recent-first sequence of records. Inserting into a
// full log evicts the oldest record. It is presentation state, not an audit trail.
type Log struct {
	mu       sync.RWMutex
	records  []Record
	capacity int
}

// NewLog creates a log holding at most capacity records.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{
		records:  make([]Record, 0, capacity),
		capacity: capacity,
	}
}

// Add prepends r, evicting the oldest record when full.
func (l *Log) Add(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.records) < l.capacity {
		l.records = append(l.records, Record{})
	}
	copy(l.records[1:], l.records[:len(l.records)-1])
	l.records[0] = r
}

// Snapshot returns a copy of the records, most recent first.
func (l *Log) Snapshot() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the current number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Capacity returns the maximum number of records kept.
func (l *Log) Capacity() int {
	return l.capacity
}

// Clear removes all records.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = l.records[:0]
}
