package conversation

import (
	"sync"
	"time"
)

// lockEntry is one per-lead mutex with bookkeeping for pruning.
type lockEntry struct {
	mu       sync.Mutex
	refs     int
	lastUsed time.Time
}

// Locks is an arena of per-key mutexes. It serializes the
// load-context → resolve → append section for one (tenant, channel, user)
// identity while leaving different identities fully parallel.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// NewLocks creates an empty lock arena.
func NewLocks() *Locks {
	return &Locks{entries: map[string]*lockEntry{}}
}

// Acquire blocks until the key's mutex is held and returns its release
// function.
func (l *Locks) Acquire(key string) func() {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		entry.lastUsed = time.Now()
		l.mu.Unlock()
	}
}

// Prune drops mutexes that are unreferenced and idle for at least idleFor,
// returning the number removed. Safe to run concurrently with Acquire.
func (l *Locks) Prune(idleFor time.Duration) int {
	cutoff := time.Now().Add(-idleFor)
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.entries {
		if entry.refs == 0 && !entry.lastUsed.IsZero() && entry.lastUsed.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the current arena size.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
