package logger

import (
	"fmt"
	"sync"
	"time"
)

// LogEntry is one line captured by a LogBuffer.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	NodeID    string
	Message   string
}

// LogBuffer keeps the newest entries in a fixed ring. Safe for concurrent use.
type LogBuffer struct {
	mu   sync.RWMutex
	ring []LogEntry
	head int // slot the next entry is written to
	size int
	now  func() time.Time
}

func NewLogBuffer(capacity int) *LogBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &LogBuffer{
		ring: make([]LogEntry, capacity),
		now:  time.Now,
	}
}

// Add records an entry stamped with the current time, overwriting the oldest
// entry once the ring is full.
func (lb *LogBuffer) Add(level, nodeID, message string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.ring[lb.head] = LogEntry{
		Timestamp: lb.now(),
		Level:     level,
		NodeID:    nodeID,
		Message:   message,
	}
	lb.head = (lb.head + 1) % len(lb.ring)
	if lb.size < len(lb.ring) {
		lb.size++
	}
}

// Len is the number of entries held.
func (lb *LogBuffer) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.size
}

// GetRecent returns up to count of the newest entries, oldest first.
func (lb *LogBuffer) GetRecent(count int) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.tail(count)
}

// GetAll returns every held entry, oldest first.
func (lb *LogBuffer) GetAll() []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.tail(lb.size)
}

// ForNode returns the held entries tagged with nodeID, oldest first.
func (lb *LogBuffer) ForNode(nodeID string) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	var out []LogEntry
	for _, e := range lb.tail(lb.size) {
		if e.NodeID == nodeID {
			out = append(out, e)
		}
	}
	return out
}

func (lb *LogBuffer) Clear() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	for i := range lb.ring {
		lb.ring[i] = LogEntry{}
	}
	lb.head, lb.size = 0, 0
}

// tail copies the newest n entries in insertion order. Callers hold mu.
func (lb *LogBuffer) tail(n int) []LogEntry {
	if n > lb.size {
		n = lb.size
	}
	if n <= 0 {
		return []LogEntry{}
	}
	out := make([]LogEntry, n)
	start := lb.head - n
	if start < 0 {
		start += len(lb.ring)
	}
	for i := range out {
		out[i] = lb.ring[(start+i)%len(lb.ring)]
	}
	return out
}

// FormatLogEntry renders an entry as one line for the monitor.
func FormatLogEntry(entry LogEntry) string {
	return fmt.Sprintf("%s %-5s %-8s %s",
		entry.Timestamp.Format("15:04:05.000"), entry.Level, entry.NodeID, entry.Message)
}
