package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var errLoaderClosed = errors.New("loadcache: loader is closed")

// Loader stands in for an isolated code loader built from a location list.
type Loader struct {
	name      string
	locations []string
	open      atomic.Bool
	tasks     atomic.Int64
}

var loaderSeq atomic.Uint64

func openLoader(ctx context.Context, locations []string, delay time.Duration) (*Loader, error) {
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	l := &Loader{
		name:      fmt.Sprintf("loader-%d", loaderSeq.Add(1)),
		locations: locations,
	}
	l.open.Store(true)
	hostState.register(l)
	return l, nil
}

// Run executes one task on the loader.
func (l *Loader) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.open.Load() {
		return errLoaderClosed
	}
	l.tasks.Add(1)
	return nil
}

// Close releases the loader. Later calls return errLoaderClosed.
func (l *Loader) Close() error {
	if !l.open.CompareAndSwap(true, false) {
		return errLoaderClosed
	}
	return nil
}

// hostRegistry models host-side state that keeps references into loaders,
// the way drivers or thread locals pin a loader in a real host.
type hostRegistry struct {
	mu      sync.Mutex
	loaders map[string]*Loader
}

var hostState = &hostRegistry{loaders: make(map[string]*Loader)}

func (r *hostRegistry) register(l *Loader) {
	r.mu.Lock()
	r.loaders[l.name] = l
	r.mu.Unlock()
}

func (r *hostRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loaders)
}

// scrubHost is the inbound leak prevention: drop host references to the loader.
func scrubHost(l *Loader) error {
	hostState.mu.Lock()
	defer hostState.mu.Unlock()
	if _, ok := hostState.loaders[l.name]; !ok {
		return fmt.Errorf("%s not registered", l.name)
	}
	delete(hostState.loaders, l.name)
	return nil
}

// closeLoader is the outbound leak prevention.
func closeLoader(l *Loader) error { return l.Close() }
