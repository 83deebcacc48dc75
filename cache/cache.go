package cache

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/loadcache/observe"
	"github.com/jonwraymond/loadcache/resilience"
)

const (
	directionInbound  = "inbound"
	directionOutbound = "outbound"
)

// ConstructionMode selects how concurrent misses construct resources.
type ConstructionMode int

const (
	// ConstructExclusive runs the factory under the cache's write lock.
	// At most one factory call runs at a time across all keys, and a key is
	// never constructed twice while its handle is live. The lock is not
	// reentrant: a factory that calls back into the same cache deadlocks.
	// Use ConstructCoalesced when resources are built from other cached
	// resources.
	ConstructExclusive ConstructionMode = iota

	// ConstructCoalesced runs the factory outside the write lock, sharing
	// one call among concurrent misses for the same key. Different keys
	// construct in parallel. Waiters share the first caller's context.
	ConstructCoalesced
)

func (m ConstructionMode) String() string {
	switch m {
	case ConstructExclusive:
		return "exclusive"
	case ConstructCoalesced:
		return "coalesced"
	default:
		return "unknown"
	}
}

// ParseConstructionMode parses "exclusive" (or "") and "coalesced".
func ParseConstructionMode(s string) (ConstructionMode, error) {
	switch s {
	case "", "exclusive":
		return ConstructExclusive, nil
	case "coalesced":
		return ConstructCoalesced, nil
	default:
		return 0, fmt.Errorf("cache: unknown construction mode %q", s)
	}
}

// Config configures a Cache. The zero value is usable.
type Config struct {
	// Logger receives construction, reclamation and teardown events.
	// Default: observe.NopLogger()
	Logger observe.Logger

	// Meter creates the cache's instruments. Default: a no-op meter.
	Meter metric.Meter

	// Tracer records a span per factory call. Default: a no-op tracer.
	Tracer trace.Tracer

	// Construction selects the construction mode. Default: ConstructExclusive.
	Construction ConstructionMode

	// ConstructionRetry, when set, retries failing factory calls.
	// In ConstructExclusive mode the write lock is held across retries.
	ConstructionRetry *resilience.RetryConfig
}

// Factory builds the raw resource on a cache miss. A factory that fails
// must release anything it partially built.
//
// Under ConstructExclusive a factory must not call WithResource on the same
// cache. Under ConstructCoalesced it may, for any key other than its own.
type Factory[R any] func(ctx context.Context) (R, error)

// Action uses a cached resource. The handle stays reachable for the whole call.
type Action[R any] func(ctx context.Context, h *Handle[R]) error

// Cache maps location lists to shared resource handles.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Ownership: the cache holds handles weakly; callers keep them alive.
// - Lifecycle: each Cache owns one reclamation worker, stopped by Shutdown.
type Cache[R any] struct {
	mu    sync.RWMutex
	store *store[R]

	reclaimer *reclaimer[R]
	flight    singleflight.Group

	mode    ConstructionMode
	retry   *resilience.Retry
	logger  observe.Logger
	tracer  trace.Tracer
	metrics *instruments

	closed       atomic.Bool
	shutdownOnce sync.Once
}

// New creates a cache and starts its reclamation worker.
func New[R any](cfg Config) (*Cache[R], error) {
	c := &Cache[R]{
		store:  newStore[R](),
		mode:   cfg.Construction,
		logger: cfg.Logger,
		tracer: cfg.Tracer,
	}
	if c.logger == nil {
		c.logger = observe.NopLogger()
	}
	if c.tracer == nil {
		c.tracer = observe.NopTracer()
	}
	if cfg.ConstructionRetry != nil {
		c.retry = resilience.NewRetry(*cfg.ConstructionRetry)
	}

	switch c.mode {
	case ConstructExclusive, ConstructCoalesced:
	default:
		return nil, fmt.Errorf("cache: unknown construction mode %d", c.mode)
	}

	c.reclaimer = startReclaimer(c.reclaim)

	m, err := newInstruments(cfg.Meter, c.store.len, c.reclaimer.pending)
	if err != nil {
		c.reclaimer.signal()
		return nil, fmt.Errorf("cache: failed to create instruments: %w", err)
	}
	c.metrics = m
	return c, nil
}

// WithResource runs action with the handle cached for locations, building
// it with factory on a miss.
//
// inbound and outbound are registered only when this call constructs the
// resource; on reclamation inbound runs first, then outbound.
//
// Factory errors are returned as *ConstructionError and leave the cache
// unchanged. Action errors are returned unchanged and keep the handle cached.
func (c *Cache[R]) WithResource(
	ctx context.Context,
	locations []string,
	inbound, outbound LeakPrevention[R],
	factory Factory[R],
	action Action[R],
) error {
	if factory == nil {
		return ErrNilFactory
	}
	if action == nil {
		return ErrNilAction
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if err := ValidateLocations(locations); err != nil {
		return err
	}

	key := DeriveKey(locations)
	h, err := c.acquire(ctx, key, locations, inbound, outbound, factory)
	if err != nil {
		return err
	}

	// No lock is held here; long actions never block other lookups.
	err = action(ctx, h)
	runtime.KeepAlive(h)
	return err
}

func (c *Cache[R]) acquire(
	ctx context.Context,
	key Key,
	locations []string,
	inbound, outbound LeakPrevention[R],
	factory Factory[R],
) (*Handle[R], error) {
	c.mu.RLock()
	h, ok := c.store.lookup(key)
	c.mu.RUnlock()

	c.metrics.recordLookup(ctx, ok)
	if ok {
		return h, nil
	}

	if c.mode == ConstructCoalesced {
		return c.acquireCoalesced(ctx, key, locations, inbound, outbound, factory)
	}
	return c.acquireExclusive(ctx, key, locations, inbound, outbound, factory)
}

func (c *Cache[R]) acquireExclusive(
	ctx context.Context,
	key Key,
	locations []string,
	inbound, outbound LeakPrevention[R],
	factory Factory[R],
) (*Handle[R], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have constructed it while we waited.
	if h, ok := c.store.lookup(key); ok {
		return h, nil
	}
	if c.closed.Load() {
		return nil, ErrClosed
	}

	resource, err := c.construct(ctx, key, locations, factory)
	if err != nil {
		return nil, err
	}
	return c.installLocked(ctx, key, locations, resource, inbound, outbound), nil
}

func (c *Cache[R]) acquireCoalesced(
	ctx context.Context,
	key Key,
	locations []string,
	inbound, outbound LeakPrevention[R],
	factory Factory[R],
) (*Handle[R], error) {
	v, err, _ := c.flight.Do(string(key), func() (any, error) {
		// A previous flight may have finished since our lookup.
		c.mu.RLock()
		h, ok := c.store.lookup(key)
		c.mu.RUnlock()
		if ok {
			return h, nil
		}
		if c.closed.Load() {
			return nil, ErrClosed
		}

		resource, err := c.construct(ctx, key, locations, factory)
		if err != nil {
			return nil, err
		}

		// Flights for one key never overlap, so no other handle for key
		// was installed since the recheck above.
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.installLocked(ctx, key, locations, resource, inbound, outbound), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle[R]), nil
}

// construct calls factory, through the retry policy when configured.
func (c *Cache[R]) construct(ctx context.Context, key Key, locations []string, factory Factory[R]) (R, error) {
	ctx, span := observe.StartSpan(ctx, c.tracer, "loadcache.construct",
		attribute.String("loadcache.key", key.String()),
		attribute.StringSlice("loadcache.locations", locations),
	)

	var resource R
	op := func(ctx context.Context) error {
		r, err := factory(ctx)
		if err != nil {
			return err
		}
		resource = r
		return nil
	}

	start := time.Now()
	var err error
	if c.retry != nil {
		err = c.retry.Execute(ctx, op)
	} else {
		err = op(ctx)
	}
	elapsed := time.Since(start)
	c.metrics.recordConstruction(ctx, elapsed, err)

	if err != nil {
		err = &ConstructionError{Key: key, Err: err}
		observe.EndSpan(span, err)
		c.logger.Debug(ctx, "resource construction failed",
			observe.F("key", key.String()),
			observe.F("error", err),
		)
		var zero R
		return zero, err
	}

	observe.EndSpan(span, nil)
	return resource, nil
}

// installLocked wraps resource in a new handle, arranges its reclamation and
// stores its entry. The caller holds the write lock.
func (c *Cache[R]) installLocked(
	ctx context.Context,
	key Key,
	locations []string,
	resource R,
	inbound, outbound LeakPrevention[R],
) *Handle[R] {
	h := newHandle(key, locations, resource)
	rec := newTeardownRecord(h, inbound, outbound)
	runtime.AddCleanup(h, c.reclaimer.enqueue, rec)
	c.store.insert(key, newEntry(h))

	c.logger.Debug(ctx, "resource cached",
		observe.F("key", key.String()),
		observe.F("handle", h.id),
		observe.F("locations", len(locations)),
	)
	return h
}

// reclaim runs on the worker for every notification: remove the entry if it
// still belongs to the reclaimed handle, then tear the resource down.
func (c *Cache[R]) reclaim(rec *teardownRecord[R]) {
	ctx := context.Background()

	c.mu.Lock()
	removed := c.store.remove(rec.key, rec.id)
	c.mu.Unlock()

	c.metrics.recordReclamation(ctx, removed)
	c.logger.Debug(ctx, "resource reclaimed",
		observe.F("key", rec.key.String()),
		observe.F("handle", rec.id),
		observe.F("entry_removed", removed),
		observe.F("age_ms", time.Since(rec.created).Milliseconds()),
	)

	c.teardown(ctx, rec, directionInbound, rec.inbound)
	c.teardown(ctx, rec, directionOutbound, rec.outbound)
}

func (c *Cache[R]) teardown(ctx context.Context, rec *teardownRecord[R], direction string, fn LeakPrevention[R]) {
	if fn == nil {
		return
	}
	if err := runLeakPrevention(fn, rec.resource); err != nil {
		c.metrics.recordTeardownError(ctx, direction)
		c.logger.Warn(ctx, "leak prevention failed",
			observe.F("key", rec.key.String()),
			observe.F("handle", rec.id),
			observe.F("direction", direction),
			observe.F("locations", rec.locations),
			observe.F("error", err),
		)
	}
}

// runLeakPrevention converts a panicking strategy into an error.
func runLeakPrevention[R any](fn LeakPrevention[R], resource R) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrTeardown, p)
		}
	}()
	if err := fn(resource); err != nil {
		return fmt.Errorf("%w: %w", ErrTeardown, err)
	}
	return nil
}

// Len returns the number of cached keys. Entries whose handle was collected
// but not yet processed by the worker are still counted.
func (c *Cache[R]) Len() int { return c.store.len() }

// IsEmpty reports whether the cache holds no keys. Like Len, it still
// counts entries whose handle was collected but not yet processed.
func (c *Cache[R]) IsEmpty() bool { return c.store.empty() }

// Keys returns the cached keys in sorted order.
func (c *Cache[R]) Keys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.keys()
}

// Pending returns the number of reclamation notifications not yet processed.
func (c *Cache[R]) Pending() int { return c.reclaimer.pending() }

// WorkerState returns the reclamation worker's state.
func (c *Cache[R]) WorkerState() WorkerState { return c.reclaimer.workerState() }

// WorkerRunning reports whether the reclamation worker is processing notifications.
func (c *Cache[R]) WorkerRunning() bool { return c.WorkerState() == WorkerRunning }

// Stats returns a snapshot of the cache's counters.
func (c *Cache[R]) Stats() Stats {
	s := c.metrics.snapshot()
	s.Entries = c.Len()
	s.Pending = c.Pending()
	s.Worker = c.WorkerState()
	return s
}

// Shutdown stops the reclamation worker and waits for it to exit, or for
// ctx to be done. The worker finishes the record it is processing; queued
// records are abandoned and their resources are never torn down.
//
// In-flight WithResource calls complete; later calls return ErrClosed.
// Shutdown is idempotent.
func (c *Cache[R]) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.closed.Store(true)
		abandoned := c.reclaimer.signal()
		c.metrics.unregister()
		c.logger.Info(ctx, "cache shut down",
			observe.F("entries", c.Len()),
			observe.F("abandoned", abandoned),
		)
	})

	select {
	case <-c.reclaimer.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
