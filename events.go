package podflow

import (
	"log/slog"
	"time"
)

// EventKind identifies the type of event emitted during a run.
type EventKind string

const (
	EventRunStarted   EventKind = "run_started"
	EventNodeStarted  EventKind = "node_started"
	EventNodeFinished EventKind = "node_finished"
	EventNodeSkipped  EventKind = "node_skipped"
	EventNodeFailed   EventKind = "node_failed"
	EventRunFinished  EventKind = "run_finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string { return string(k) }

// Event is a structured record of scheduler progress. Nested runs (sub-graph
// and map instances) report node IDs prefixed with their parent node ID.
type Event struct {
	Kind    EventKind
	RunID   string
	Graph   string
	NodeID  string // empty for run-level events
	Agent   string // capability name, empty for value/sub-graph nodes
	Time    time.Time
	Elapsed time.Duration
	Payload map[string]any
}

// EventHandler receives events during execution. Handlers must be fast; slow
// consumers should buffer on their own channel.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// SlogEventHandler logs events through the given logger at debug level, with
// failures elevated to warn.
func SlogEventHandler(logger *slog.Logger) EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(e Event) {
		attrs := []any{
			slog.String("run_id", e.RunID),
			slog.String("graph", e.Graph),
		}
		if e.NodeID != "" {
			attrs = append(attrs, slog.String("node", e.NodeID))
		}
		if e.Elapsed > 0 {
			attrs = append(attrs, slog.Duration("elapsed", e.Elapsed))
		}
		if errMsg, ok := e.Payload["error"].(string); ok {
			attrs = append(attrs, slog.String("error", errMsg))
		}

		if e.Kind == EventNodeFailed {
			logger.Warn(string(e.Kind), attrs...)
			return
		}
		logger.Debug(string(e.Kind), attrs...)
	}
}
