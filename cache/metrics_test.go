package cache

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newMeteredCache(t *testing.T, cfg Config) (*Cache[*testLoader], *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	cfg.Meter = provider.Meter("loadcache-test")
	return newTestCache(t, cfg), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

// sumBy totals an int64 sum's data points by the value of attribute key.
func sumBy(t *testing.T, m metricdata.Metrics, key string) map[string]int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s data = %T, want Sum[int64]", m.Name, m.Data)
	}
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(key))
		out[v.AsString()] += dp.Value
	}
	return out
}

func gaugeValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	g, ok := m.Data.(metricdata.Gauge[int64])
	if !ok || len(g.DataPoints) != 1 {
		t.Fatalf("%s data = %#v, want one Gauge[int64] point", m.Name, m.Data)
	}
	return g.DataPoints[0].Value
}

func TestMetrics_LookupsAndConstructions(t *testing.T) {
	c, reader := newMeteredCache(t, Config{})
	ctx := context.Background()
	var calls atomic.Int32

	var held *Handle[*testLoader]
	keep := func(_ context.Context, h *Handle[*testLoader]) error {
		held = h
		return nil
	}
	_ = c.WithResource(ctx, []string{"/a.jar"}, nil, nil, countingFactory(&calls, "a"), keep)
	_ = c.WithResource(ctx, []string{"/a.jar"}, nil, nil, countingFactory(&calls, "a"), noopAction)
	_ = c.WithResource(ctx, []string{"/bad.jar"}, nil, nil,
		func(context.Context) (*testLoader, error) { return nil, errors.New("bad") }, noopAction)

	metrics := collect(t, reader)

	lookups := sumBy(t, metrics["loadcache.lookups"], "result")
	if lookups["hit"] != 1 || lookups["miss"] != 2 {
		t.Errorf("loadcache.lookups = %v, want hit=1 miss=2", lookups)
	}
	if got := sumBy(t, metrics["loadcache.constructions"], "")[""]; got != 1 {
		t.Errorf("loadcache.constructions = %d, want 1", got)
	}
	if got := sumBy(t, metrics["loadcache.construction.errors"], "")[""]; got != 1 {
		t.Errorf("loadcache.construction.errors = %d, want 1", got)
	}

	hist, ok := metrics["loadcache.construction.duration_ms"].Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("loadcache.construction.duration_ms = %#v, want 2 observations", metrics["loadcache.construction.duration_ms"].Data)
	}

	if got := gaugeValue(t, metrics["loadcache.entries"]); got != 1 {
		t.Errorf("loadcache.entries = %d, want 1", got)
	}
	if got := gaugeValue(t, metrics["loadcache.pending"]); got != 0 {
		t.Errorf("loadcache.pending = %d, want 0", got)
	}

	runtime.KeepAlive(held)
}

func TestMetrics_ReclamationAndTeardownErrors(t *testing.T) {
	c, reader := newMeteredCache(t, Config{})
	ctx := context.Background()
	ev := &events{}
	var calls atomic.Int32

	failing := func(*testLoader) error { return errors.New("scrub failed") }
	_ = c.WithResource(ctx, []string{"/a.jar"}, ev.strategy("in"), failing, countingFactory(&calls, "a"), noopAction)
	waitFor(t, "reclamation", func() bool { return c.Stats().TeardownFailures == 1 })

	metrics := collect(t, reader)

	if got := sumBy(t, metrics["loadcache.reclamations"], "outcome"); got["removed"] != 1 {
		t.Errorf("loadcache.reclamations = %v, want removed=1", got)
	}
	if got := sumBy(t, metrics["loadcache.teardown.errors"], "direction"); got["outbound"] != 1 || got["inbound"] != 0 {
		t.Errorf("loadcache.teardown.errors = %v, want outbound=1", got)
	}
	if got := gaugeValue(t, metrics["loadcache.entries"]); got != 0 {
		t.Errorf("loadcache.entries = %d, want 0", got)
	}
}

func TestMetrics_GaugesUnregisteredOnShutdown(t *testing.T) {
	c, reader := newMeteredCache(t, Config{})

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	metrics := collect(t, reader)
	if m, ok := metrics["loadcache.entries"]; ok {
		if g, ok := m.Data.(metricdata.Gauge[int64]); ok && len(g.DataPoints) > 0 {
			t.Errorf("loadcache.entries still observed after Shutdown: %v", g.DataPoints)
		}
	}
}

func TestTracing_ConstructSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	c := newTestCache(t, Config{Tracer: provider.Tracer("loadcache-test")})
	ctx := context.Background()
	var calls atomic.Int32

	var held *Handle[*testLoader]
	_ = c.WithResource(ctx, []string{"/a.jar"}, nil, nil, countingFactory(&calls, "a"),
		func(_ context.Context, h *Handle[*testLoader]) error {
			held = h
			return nil
		})
	_ = c.WithResource(ctx, []string{"/a.jar"}, nil, nil, countingFactory(&calls, "a"), noopAction)
	_ = c.WithResource(ctx, []string{"/bad.jar"}, nil, nil,
		func(context.Context) (*testLoader, error) { return nil, errors.New("bad") }, noopAction)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2 (hits are not traced)", len(spans))
	}

	for i, wantCode := range []codes.Code{codes.Ok, codes.Error} {
		span := spans[i]
		if span.Name() != "loadcache.construct" {
			t.Errorf("span[%d].Name() = %s, want loadcache.construct", i, span.Name())
		}
		if span.Status().Code != wantCode {
			t.Errorf("span[%d].Status().Code = %v, want %v", i, span.Status().Code, wantCode)
		}
	}

	var key string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "loadcache.key" {
			key = kv.Value.AsString()
		}
	}
	if key != DeriveKey([]string{"/a.jar"}).String() {
		t.Errorf("loadcache.key = %q, want %s", key, DeriveKey([]string{"/a.jar"}))
	}

	runtime.KeepAlive(held)
}
