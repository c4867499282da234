// Package history keeps detection results: a bounded in-memory ring for
// status and diagnostics, and an optional SQLite log of every cycle.
package history

import (
	"image"
	"sync"
	"time"
)

// Entry is one detection result.
type Entry struct {
	Template   string      `json:"template"`
	Confidence float64     `json:"confidence"`
	Position   image.Point `json:"position"`
	Found      bool        `json:"found"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Ring is a fixed-capacity buffer that evicts the oldest entry when full.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewRing creates a ring holding up to capacity entries.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{entries: make([]Entry, capacity)}
}

// Add appends e, evicting the oldest entry when the ring is full.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Len returns the number of stored entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns the stored entries, oldest first.
func (r *Ring) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full {
		return append(make([]Entry, 0, r.next), r.entries[:r.next]...)
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}

// Last returns the newest entry.
func (r *Ring) Last() (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full && r.next == 0 {
		return Entry{}, false
	}
	i := (r.next - 1 + len(r.entries)) % len(r.entries)
	return r.entries[i], true
}

// Resize changes the capacity, keeping the newest entries.
func (r *Ring) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	kept := r.Entries()
	if len(kept) > capacity {
		kept = kept[len(kept)-capacity:]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make([]Entry, capacity)
	copy(r.entries, kept)
	r.next = len(kept) % capacity
	r.full = len(kept) == capacity
}
