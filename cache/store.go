package cache

import (
	"slices"
	"sync/atomic"
)

// store maps keys to entries. The owning Cache's RWMutex guards the map:
// lookup needs at least the read lock, insert and remove need the write
// lock. len and empty read an atomic counter and need no lock.
type store[R any] struct {
	entries map[Key]*entry[R]
	count   atomic.Int64
}

func newStore[R any]() *store[R] {
	return &store[R]{entries: make(map[Key]*entry[R])}
}

// lookup returns the live handle for key. Entries whose handle was already
// collected report a miss; the reclamation worker removes them.
func (s *store[R]) lookup(key Key) (*Handle[R], bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	h := e.ref.Value()
	return h, h != nil
}

// insert adds or overwrites the entry for key.
func (s *store[R]) insert(key Key, e *entry[R]) {
	if _, ok := s.entries[key]; !ok {
		s.count.Add(1)
	}
	s.entries[key] = e
}

// remove deletes the entry for key only if it belongs to handle id.
// It reports whether an entry was removed.
func (s *store[R]) remove(key Key, id uint64) bool {
	e, ok := s.entries[key]
	if !ok || e.id != id {
		return false
	}
	delete(s.entries, key)
	s.count.Add(-1)
	return true
}

func (s *store[R]) len() int { return int(s.count.Load()) }

func (s *store[R]) empty() bool { return s.count.Load() == 0 }

// keys returns the stored keys in sorted order.
func (s *store[R]) keys() []Key {
	out := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
