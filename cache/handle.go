package cache

import (
	"slices"
	"sync/atomic"
	"time"
	"weak"
)

// handleIDs numbers handles process-wide, so ids never repeat across keys or caches.
var handleIDs atomic.Uint64

// Handle wraps a cached resource. Holding a *Handle keeps the resource
// cached; once no caller holds it, the cache reclaims and tears it down.
type Handle[R any] struct {
	id        uint64
	key       Key
	locations []string
	resource  R
}

func newHandle[R any](key Key, locations []string, resource R) *Handle[R] {
	return &Handle[R]{
		id:        handleIDs.Add(1),
		key:       key,
		locations: slices.Clone(locations),
		resource:  resource,
	}
}

// Resource returns the wrapped resource. Callers must keep the handle, not
// just the resource, reachable while they use it.
func (h *Handle[R]) Resource() R { return h.resource }

// Key returns the key the handle is cached under.
func (h *Handle[R]) Key() Key { return h.key }

// ID returns the handle's process-unique identity.
func (h *Handle[R]) ID() uint64 { return h.id }

// Locations returns a copy of the locations the resource was built from.
func (h *Handle[R]) Locations() []string { return slices.Clone(h.locations) }

// LeakPrevention scrubs state that crossed the boundary between a resource
// and its consumers. It runs once, on the reclamation worker, after the
// resource's handle is gone. A nil LeakPrevention is skipped.
//
// A strategy must not capture the resource's handle: the handle would then
// stay reachable from its own teardown and never be reclaimed.
type LeakPrevention[R any] func(resource R) error

// entry is the store's record for a key. It never holds the handle strongly.
type entry[R any] struct {
	id  uint64
	ref weak.Pointer[Handle[R]]
}

func newEntry[R any](h *Handle[R]) *entry[R] {
	return &entry[R]{id: h.id, ref: weak.Make(h)}
}

// teardownRecord carries what reclamation needs after the handle is gone.
// It references the resource directly and must never reference the handle,
// or the handle would stay reachable forever.
type teardownRecord[R any] struct {
	key       Key
	id        uint64
	locations []string
	resource  R
	inbound   LeakPrevention[R]
	outbound  LeakPrevention[R]
	created   time.Time
}

func newTeardownRecord[R any](h *Handle[R], inbound, outbound LeakPrevention[R]) *teardownRecord[R] {
	return &teardownRecord[R]{
		key:       h.key,
		id:        h.id,
		locations: slices.Clone(h.locations),
		resource:  h.resource,
		inbound:   inbound,
		outbound:  outbound,
		created:   time.Now(),
	}
}
