// Package otel translates pipeline events into OpenTelemetry spans and
// metrics.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/podly-labs/podflow"
)

// TracingHandler maintains active run and node spans, creating and ending
// them from scheduler events.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span
	runCtxs   map[string]context.Context
	nodeSpans map[string]trace.Span // runID:nodeID -> span
}

// NewTracingHandler creates a TracingHandler using the given tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		nodeSpans: make(map[string]trace.Span),
	}
}

// Handle processes one scheduler event. Wire it in with
// podflow.Options{EventHandler: handler.Handle}.
func (h *TracingHandler) Handle(e podflow.Event) {
	switch e.Kind {
	case podflow.EventRunStarted:
		h.handleRunStarted(e)
	case podflow.EventNodeStarted:
		h.handleNodeStarted(e)
	case podflow.EventNodeFinished:
		h.endNodeSpan(e, codes.Ok, "")
	case podflow.EventNodeFailed:
		h.handleNodeFailed(e)
	case podflow.EventNodeSkipped:
		h.handleNodeSkipped(e)
	case podflow.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func (h *TracingHandler) handleRunStarted(e podflow.Event) {
	spanName := "run:" + e.RunID
	if e.Graph != "" {
		spanName = "run:" + e.Graph
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(attribute.String("podflow.run_id", e.RunID)),
		trace.WithTimestamp(e.Time),
	)
	if e.Graph != "" {
		span.SetAttributes(attribute.String("podflow.graph", e.Graph))
	}

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeStarted(e podflow.Event) {
	h.mu.RLock()
	ctx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()
	if !ok {
		ctx = context.Background()
	}

	attrs := []attribute.KeyValue{
		attribute.String("podflow.run_id", e.RunID),
		attribute.String("podflow.node_id", e.NodeID),
	}
	if e.Agent != "" {
		attrs = append(attrs, attribute.String("podflow.capability", e.Agent))
	}

	_, span := h.tracer.Start(ctx, "node:"+e.NodeID,
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.nodeSpans[e.RunID+":"+e.NodeID] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeFailed(e podflow.Event) {
	msg := ""
	if e.Payload != nil {
		msg, _ = e.Payload["error"].(string)
	}
	h.endNodeSpan(e, codes.Error, msg)
}

// handleNodeSkipped records skips as zero-length spans so traces show which
// branches a run gated off.
func (h *TracingHandler) handleNodeSkipped(e podflow.Event) {
	h.mu.RLock()
	ctx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()
	if !ok {
		ctx = context.Background()
	}

	_, span := h.tracer.Start(ctx, "node:"+e.NodeID,
		trace.WithAttributes(
			attribute.String("podflow.node_id", e.NodeID),
			attribute.Bool("podflow.skipped", true),
		),
		trace.WithTimestamp(e.Time),
	)
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) endNodeSpan(e podflow.Event, code codes.Code, msg string) {
	key := e.RunID + ":" + e.NodeID
	h.mu.Lock()
	span, ok := h.nodeSpans[key]
	delete(h.nodeSpans, key)
	h.mu.Unlock()
	if !ok {
		return
	}
	span.SetStatus(code, msg)
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleRunFinished(e podflow.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	delete(h.runSpans, e.RunID)
	delete(h.runCtxs, e.RunID)
	h.mu.Unlock()
	if !ok {
		return
	}

	status := ""
	if e.Payload != nil {
		status, _ = e.Payload["status"].(string)
	}
	if status == "failed" {
		msg := ""
		if e.Payload != nil {
			msg, _ = e.Payload["error"].(string)
		}
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveRunSpanContext returns the span context of a run in flight, for
// correlating external logs with traces.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if span, ok := h.runSpans[runID]; ok {
		return span.SpanContext()
	}
	return trace.SpanContext{}
}
