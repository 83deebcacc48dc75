package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return recorder, tp
}

func TestStartSpan_AttributesAndOkStatus(t *testing.T) {
	recorder, tp := newRecordingTracer()
	tracer := tp.Tracer("test")

	_, span := StartSpan(context.Background(), tracer, "loadcache.construct",
		attribute.String("loadcache.key", "classpath:abc"))
	EndSpan(span, nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != "loadcache.construct" {
		t.Errorf("span name = %q", s.Name())
	}
	if s.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", s.Status().Code)
	}
	found := false
	for _, kv := range s.Attributes() {
		if kv.Key == "loadcache.key" && kv.Value.AsString() == "classpath:abc" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected loadcache.key attribute, got %v", s.Attributes())
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	recorder, tp := newRecordingTracer()

	_, span := StartSpan(context.Background(), tp.Tracer("test"), "op")
	EndSpan(span, errors.New("factory failed"))

	s := recorder.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status().Code)
	}
	if s.Status().Description != "factory failed" {
		t.Errorf("description = %q", s.Status().Description)
	}
	if len(s.Events()) == 0 {
		t.Error("expected an exception event")
	}
}

func TestStartSpan_NilTracer(t *testing.T) {
	ctx, span := StartSpan(context.Background(), nil, "op")
	if ctx == nil || span == nil {
		t.Fatal("expected non-nil context and span")
	}
	EndSpan(span, nil)
}
