package results

import (
	"sync"
	"time"

	"github.com/acme/campaign-dialer/internal/domain"
)

// Recency remembers when each contact dedup key was last seen, in fetched
// call records or local call attempts. It is independent of any view, so
// run filters and view resets do not clear it. Keys older than the window
// relative to the newest observation are dropped.
type Recency struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	newest time.Time
}

// NewRecency constructs an empty index keeping keys for window. A zero
// window remembers nothing.
func NewRecency(window time.Duration) *Recency {
	return &Recency{window: window, seen: make(map[string]time.Time)}
}

// Observe records that key was dialed at at.
func (r *Recency) Observe(key string, at time.Time) {
	if key == "" || at.IsZero() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observeLocked(key, at)
	r.pruneLocked()
}

// ObserveEntries records the start time of every entry.
func (r *Recency) ObserveEntries(entries []domain.MergedCallLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		if e.StartedAt.IsZero() {
			continue
		}
		r.observeLocked(e.DedupKey(), e.StartedAt)
	}
	r.pruneLocked()
}

// LastSeen returns the latest time key was seen.
func (r *Recency) LastSeen(key string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.seen[key]
	return at, ok
}

// Len reports the number of remembered keys.
func (r *Recency) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func (r *Recency) observeLocked(key string, at time.Time) {
	if r.window <= 0 {
		return
	}
	if prev, ok := r.seen[key]; !ok || at.After(prev) {
		r.seen[key] = at
	}
	if at.After(r.newest) {
		r.newest = at
	}
}

func (r *Recency) pruneLocked() {
	if r.window <= 0 {
		return
	}
	cutoff := r.newest.Add(-r.window)
	for key, at := range r.seen {
		if at.Before(cutoff) {
			delete(r.seen, key)
		}
	}
}
