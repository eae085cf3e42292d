// Package locktable tracks node ids whose status is temporarily
// immutable. Entries carry a ttl; expired entries are dropped lazily on
// lookup so a stuck operation (e.g. an upgrade that never returns) can
// never wedge a node forever.
package locktable

import (
	"sync"
	"time"

	"github.com/formicaio/formicaiod/internal/types"
)

type entry struct {
	lockedAt time.Time
	ttl      time.Duration
}

// LockTable is the in-memory authority for in-process status locking.
// The store's persistent lock bit mirrors it for API consumers and
// across restarts.
type LockTable struct {
	mu      sync.Mutex
	entries map[types.NodeID]entry

	now func() time.Time // overridable in tests
}

// New returns an empty lock table.
func New() *LockTable {
	return &LockTable{
		entries: make(map[types.NodeID]entry),
		now:     time.Now,
	}
}

// Lock inserts or replaces the entry for the given node id.
func (t *LockTable) Lock(id types.NodeID, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = entry{lockedAt: t.now(), ttl: ttl}
}

// Remove drops the entry unconditionally.
func (t *LockTable) Remove(id types.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// IsStillLocked reports whether the node's status is currently locked.
// An expired entry is removed and reported as unlocked.
func (t *LockTable) IsStillLocked(id types.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return false
	}
	if t.now().Sub(e.lockedAt) >= e.ttl {
		delete(t.entries, id)
		return false
	}
	return true
}

// Len returns the number of live entries, counting expired ones until
// they are observed.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
