// Package audit provides the bounded in-memory audit trail shared by the gate
// and the ledger. It exists for observability; tamper-evidence is the ledger's
// job.
package audit

import (
	"sync"
	"time"
)

// DefaultCapacity is used when a Log is constructed with a non-positive
// capacity.
const DefaultCapacity = 1000

// Entry is one recorded state transition or event.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "gate" or "ledger"
	Kind      string    `json:"kind"`   // e.g. "action.approved", "tx.appended"
	RefID     string    `json:"ref_id"` // action id or transaction id
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Log is a fixed-capacity ring of entries. Once full, each append silently
// drops the oldest entry. Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	head    int // index of the oldest entry once the ring is full
	size    int
}

// NewLog creates a Log holding at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{entries: make([]Entry, capacity)}
}

// Append records e, evicting the oldest entry if the ring is full.
func (l *Log) Append(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size < len(l.entries) {
		l.entries[(l.head+l.size)%len(l.entries)] = e
		l.size++
		return
	}
	l.entries[l.head] = e
	l.head = (l.head + 1) % len(l.entries)
}

// Tail returns up to n of the most recent entries, oldest first.
func (l *Log) Tail(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]Entry, 0, n)
	start := l.size - n
	for i := start; i < l.size; i++ {
		out = append(out, l.entries[(l.head+i)%len(l.entries)])
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
