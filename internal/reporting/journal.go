package reporting

import (
	"sync"
	"time"
)

const defaultJournalCapacity = 1000

// Journal is a bounded in-memory log of recent runs; the oldest entries are
// dropped once it is full.
type Journal struct {
	mu       sync.RWMutex
	entries  []JournalEntry
	next     int
	full     bool
	capacity int
}

// NewJournal creates a journal holding up to capacity entries.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = defaultJournalCapacity
	}
	return &Journal{entries: make([]JournalEntry, capacity), capacity: capacity}
}

// Record appends e.
func (j *Journal) Record(e JournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[j.next] = e
	j.next = (j.next + 1) % j.capacity
	if j.next == 0 {
		j.full = true
	}
}

// Since returns entries at or after from, oldest first. A zero from returns
// everything held.
func (j *Journal) Since(from time.Time) []JournalEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var ordered []JournalEntry
	if j.full {
		ordered = append(ordered, j.entries[j.next:]...)
	}
	ordered = append(ordered, j.entries[:j.next]...)

	out := ordered[:0:0]
	for _, e := range ordered {
		if from.IsZero() || !e.Timestamp.Before(from) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries held.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.full {
		return j.capacity
	}
	return j.next
}
