package otel

import (
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/podly-labs/podflow"
)

func newTestTracing(t *testing.T) (*TracingHandler, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })
	return NewTracingHandler(tp.Tracer("test")), exporter
}

func spanByName(spans tracetest.SpanStubs, name string) (tracetest.SpanStub, bool) {
	for _, s := range spans {
		if s.Name == name {
			return s, true
		}
	}
	return tracetest.SpanStub{}, false
}

func TestTracingHandlerRunLifecycle(t *testing.T) {
	h, exporter := newTestTracing(t)
	now := time.Now()

	h.Handle(podflow.Event{Kind: podflow.EventRunStarted, RunID: "r1", Graph: "assembly", Time: now})
	h.Handle(podflow.Event{Kind: podflow.EventNodeStarted, RunID: "r1", NodeID: "mix", Agent: "audioMixBGM", Time: now})
	h.Handle(podflow.Event{Kind: podflow.EventNodeFinished, RunID: "r1", NodeID: "mix", Time: now.Add(time.Second)})
	h.Handle(podflow.Event{Kind: podflow.EventNodeSkipped, RunID: "r1", NodeID: "search", Time: now})
	h.Handle(podflow.Event{
		Kind: podflow.EventRunFinished, RunID: "r1", Graph: "assembly",
		Time: now.Add(2 * time.Second), Payload: map[string]any{"status": "succeeded"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want node + skip + run", len(spans))
	}

	run, ok := spanByName(spans, "run:assembly")
	if !ok {
		t.Fatal("run span missing")
	}
	if run.Status.Code != codes.Ok {
		t.Errorf("run status = %v", run.Status)
	}

	node, ok := spanByName(spans, "node:mix")
	if !ok {
		t.Fatal("node span missing")
	}
	if node.Parent.SpanID() != run.SpanContext.SpanID() {
		t.Error("node span is not parented under the run span")
	}
	var sawCapability bool
	for _, attr := range node.Attributes {
		if string(attr.Key) == "podflow.capability" && attr.Value.AsString() == "audioMixBGM" {
			sawCapability = true
		}
	}
	if !sawCapability {
		t.Errorf("node attributes = %v", node.Attributes)
	}

	skip, ok := spanByName(spans, "node:search")
	if !ok {
		t.Fatal("skip span missing")
	}
	if !skip.EndTime.Equal(skip.StartTime) {
		t.Errorf("skip span has duration %v", skip.EndTime.Sub(skip.StartTime))
	}
}

func TestTracingHandlerFailure(t *testing.T) {
	h, exporter := newTestTracing(t)
	now := time.Now()

	h.Handle(podflow.Event{Kind: podflow.EventRunStarted, RunID: "r2", Graph: "generation", Time: now})
	h.Handle(podflow.Event{Kind: podflow.EventNodeStarted, RunID: "r2", NodeID: "compose", Time: now})
	h.Handle(podflow.Event{
		Kind: podflow.EventNodeFailed, RunID: "r2", NodeID: "compose",
		Time: now, Payload: map[string]any{"error": "llm unreachable"},
	})
	h.Handle(podflow.Event{
		Kind: podflow.EventRunFinished, RunID: "r2", Graph: "generation",
		Time: now, Payload: map[string]any{"status": "failed", "error": "node compose failed"},
	})

	spans := exporter.GetSpans()
	node, ok := spanByName(spans, "node:compose")
	if !ok {
		t.Fatal("node span missing")
	}
	if node.Status.Code != codes.Error || node.Status.Description != "llm unreachable" {
		t.Errorf("node status = %+v", node.Status)
	}

	run, ok := spanByName(spans, "run:generation")
	if !ok {
		t.Fatal("run span missing")
	}
	if run.Status.Code != codes.Error {
		t.Errorf("run status = %+v", run.Status)
	}
}

func TestTracingHandlerUnmatchedEvents(t *testing.T) {
	h, exporter := newTestTracing(t)

	// Finish and fail events without a started span are dropped, not
	// panicked on.
	h.Handle(podflow.Event{Kind: podflow.EventNodeFinished, RunID: "r", NodeID: "ghost", Time: time.Now()})
	h.Handle(podflow.Event{Kind: podflow.EventRunFinished, RunID: "r", Time: time.Now()})

	if n := len(exporter.GetSpans()); n != 0 {
		t.Errorf("spans = %d, want none", n)
	}
}

func TestActiveRunSpanContext(t *testing.T) {
	h, _ := newTestTracing(t)
	now := time.Now()

	h.Handle(podflow.Event{Kind: podflow.EventRunStarted, RunID: "r3", Time: now})
	if !h.ActiveRunSpanContext("r3").IsValid() {
		t.Error("active run should have a valid span context")
	}
	if h.ActiveRunSpanContext("absent").IsValid() {
		t.Error("unknown run should yield an invalid span context")
	}

	h.Handle(podflow.Event{Kind: podflow.EventRunFinished, RunID: "r3", Time: now})
	if h.ActiveRunSpanContext("r3").IsValid() {
		t.Error("finished run should no longer be active")
	}
}
