package podflow

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for graph construction and execution.
var (
	ErrEmptyGraph         = errors.New("graph has no nodes")
	ErrCycleDetected      = errors.New("cycle detected in graph")
	ErrUnknownReference   = errors.New("reference to undeclared node")
	ErrCapabilityNotFound = errors.New("capability not found")
	ErrInjectAfterRun     = errors.New("inject called after run started")
	ErrNotValueNode       = errors.New("injection target is not a value node")
	ErrNoProgress         = errors.New("run stalled with unfinished nodes")
)

// GraphDefinitionError reports an invalid GraphSpec. It is raised at
// construction time, before any node executes.
type GraphDefinitionError struct {
	Graph string // graph name, may be empty
	Node  string // offending node ID, may be empty
	Err   error
}

func (e *GraphDefinitionError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("graph %q: node %q: %v", e.Graph, e.Node, e.Err)
	}
	return fmt.Sprintf("graph %q: %v", e.Graph, e.Err)
}

func (e *GraphDefinitionError) Unwrap() error { return e.Err }

// TimeoutError reports that a network-bound capability exceeded its
// configured timeout.
type TimeoutError struct {
	Capability string
	Timeout    time.Duration
	Err        error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("capability %q timed out after %s: %v", e.Capability, e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ErrorKind classifies capability failures for callers that map errors to
// transport-level responses.
type ErrorKind string

const (
	KindLLM     ErrorKind = "llm"
	KindSearch  ErrorKind = "search"
	KindExtract ErrorKind = "extract"
	KindTTS     ErrorKind = "tts"
	KindMedia   ErrorKind = "media"
	KindStore   ErrorKind = "store"
)

// CapabilityError wraps a failure inside a capability with its kind.
type CapabilityError struct {
	Kind       ErrorKind
	Capability string
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s capability %q: %v", e.Kind, e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// NodeError records a node-level failure observed during a run. Failures are
// recorded even when the run ultimately succeeds through an alternate branch.
type NodeError struct {
	NodeID string
	Err    error
	At     time.Time
}

func (e NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

func (e NodeError) Unwrap() error { return e.Err }
