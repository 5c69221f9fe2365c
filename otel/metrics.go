package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/podly-labs/podflow"
)

// MetricsHandler records counters and histograms for node executions,
// failures, skips, and run durations.
type MetricsHandler struct {
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeSkips      metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler using the given meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	nodeExec, err := meter.Int64Counter("podflow.node.executions",
		metric.WithDescription("Number of node executions"),
	)
	if err != nil {
		return nil, err
	}

	nodeFail, err := meter.Int64Counter("podflow.node.failures",
		metric.WithDescription("Number of node failures"),
	)
	if err != nil {
		return nil, err
	}

	nodeSkip, err := meter.Int64Counter("podflow.node.skips",
		metric.WithDescription("Number of nodes skipped by activation conditions"),
	)
	if err != nil {
		return nil, err
	}

	nodeDur, err := meter.Float64Histogram("podflow.node.duration",
		metric.WithDescription("Duration of node execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("podflow.run.duration",
		metric.WithDescription("Duration of graph run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		nodeExecutions: nodeExec,
		nodeFailures:   nodeFail,
		nodeSkips:      nodeSkip,
		nodeDuration:   nodeDur,
		runDuration:    runDur,
	}, nil
}

// Handle records metrics for one scheduler event.
func (h *MetricsHandler) Handle(e podflow.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("graph", e.Graph),
		attribute.String("node", e.NodeID),
	)

	switch e.Kind {
	case podflow.EventNodeFinished:
		h.nodeExecutions.Add(ctx, 1, attrs)
		h.nodeDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	case podflow.EventNodeFailed:
		h.nodeExecutions.Add(ctx, 1, attrs)
		h.nodeFailures.Add(ctx, 1, attrs)
	case podflow.EventNodeSkipped:
		h.nodeSkips.Add(ctx, 1, attrs)
	case podflow.EventRunFinished:
		h.runDuration.Record(ctx, e.Elapsed.Seconds(),
			metric.WithAttributes(attribute.String("graph", e.Graph)))
	}
}
