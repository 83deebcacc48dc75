package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Stats is a point-in-time snapshot of a cache.
type Stats struct {
	Entries int
	Pending int
	Worker  WorkerState

	Hits                 uint64
	Misses               uint64
	Constructions        uint64
	ConstructionFailures uint64
	Reclaimed            uint64
	StaleNotifications   uint64
	TeardownFailures     uint64
}

type counters struct {
	hits                 atomic.Uint64
	misses               atomic.Uint64
	constructions        atomic.Uint64
	constructionFailures atomic.Uint64
	reclaimed            atomic.Uint64
	stale                atomic.Uint64
	teardownFailures     atomic.Uint64
}

var (
	attrHit      = metric.WithAttributes(attribute.String("result", "hit"))
	attrMiss     = metric.WithAttributes(attribute.String("result", "miss"))
	attrRemoved  = metric.WithAttributes(attribute.String("outcome", "removed"))
	attrStale    = metric.WithAttributes(attribute.String("outcome", "stale"))
	attrInbound  = metric.WithAttributes(attribute.String("direction", "inbound"))
	attrOutbound = metric.WithAttributes(attribute.String("direction", "outbound"))
)

// instruments records cache activity as OpenTelemetry metrics alongside
// the in-process counters reported by Stats.
type instruments struct {
	counters

	lookups              metric.Int64Counter
	constructionsTotal   metric.Int64Counter
	constructionErrors   metric.Int64Counter
	constructionDuration metric.Float64Histogram
	reclamations         metric.Int64Counter
	teardownErrors       metric.Int64Counter

	registration metric.Registration
}

func newInstruments(meter metric.Meter, entries, pending func() int) (*instruments, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("noop")
	}

	m := &instruments{}
	var err error

	if m.lookups, err = meter.Int64Counter(
		"loadcache.lookups",
		metric.WithDescription("Cache lookups by result"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}

	if m.constructionsTotal, err = meter.Int64Counter(
		"loadcache.constructions",
		metric.WithDescription("Resources constructed on cache miss"),
		metric.WithUnit("{resource}"),
	); err != nil {
		return nil, err
	}

	if m.constructionErrors, err = meter.Int64Counter(
		"loadcache.construction.errors",
		metric.WithDescription("Failed resource constructions"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.constructionDuration, err = meter.Float64Histogram(
		"loadcache.construction.duration_ms",
		metric.WithDescription("Resource construction duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.reclamations, err = meter.Int64Counter(
		"loadcache.reclamations",
		metric.WithDescription("Processed reclamation notifications by outcome"),
		metric.WithUnit("{notification}"),
	); err != nil {
		return nil, err
	}

	if m.teardownErrors, err = meter.Int64Counter(
		"loadcache.teardown.errors",
		metric.WithDescription("Failed leak prevention strategies by direction"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	entriesGauge, err := meter.Int64ObservableGauge(
		"loadcache.entries",
		metric.WithDescription("Keys currently held by the cache"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	pendingGauge, err := meter.Int64ObservableGauge(
		"loadcache.pending",
		metric.WithDescription("Reclamation notifications waiting for the worker"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(entriesGauge, int64(entries()))
		o.ObserveInt64(pendingGauge, int64(pending()))
		return nil
	}, entriesGauge, pendingGauge)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *instruments) recordLookup(ctx context.Context, hit bool) {
	if hit {
		m.hits.Add(1)
		m.lookups.Add(ctx, 1, attrHit)
		return
	}
	m.misses.Add(1)
	m.lookups.Add(ctx, 1, attrMiss)
}

func (m *instruments) recordConstruction(ctx context.Context, d time.Duration, err error) {
	m.constructionDuration.Record(ctx, float64(d.Microseconds())/1000)
	if err != nil {
		m.constructionFailures.Add(1)
		m.constructionErrors.Add(ctx, 1)
		return
	}
	m.constructions.Add(1)
	m.constructionsTotal.Add(ctx, 1)
}

func (m *instruments) recordReclamation(ctx context.Context, removed bool) {
	if removed {
		m.reclaimed.Add(1)
		m.reclamations.Add(ctx, 1, attrRemoved)
		return
	}
	m.stale.Add(1)
	m.reclamations.Add(ctx, 1, attrStale)
}

func (m *instruments) recordTeardownError(ctx context.Context, direction string) {
	m.teardownFailures.Add(1)
	if direction == directionInbound {
		m.teardownErrors.Add(ctx, 1, attrInbound)
		return
	}
	m.teardownErrors.Add(ctx, 1, attrOutbound)
}

func (m *instruments) unregister() {
	if m.registration != nil {
		_ = m.registration.Unregister()
	}
}

func (m *instruments) snapshot() Stats {
	return Stats{
		Hits:                 m.hits.Load(),
		Misses:               m.misses.Load(),
		Constructions:        m.constructions.Load(),
		ConstructionFailures: m.constructionFailures.Load(),
		Reclaimed:            m.reclaimed.Load(),
		StaleNotifications:   m.stale.Load(),
		TeardownFailures:     m.teardownFailures.Load(),
	}
}
