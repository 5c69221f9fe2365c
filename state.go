package podflow

// NodeStatus is the lifecycle state of a node within one run.
type NodeStatus int

const (
	StatusPending NodeStatus = iota
	StatusRunning
	StatusSkipped
	StatusCompleted
	StatusFailed
)

// String returns the lowercase status name.
func (s NodeStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSkipped:
		return "skipped"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// terminal reports whether the status cannot change for the rest of the run.
func (s NodeStatus) terminal() bool {
	return s == StatusSkipped || s == StatusCompleted || s == StatusFailed
}

// ResultBag holds the completed outputs of every node flagged IsResult,
// keyed by node ID. A node skipped by its activation condition contributes
// no key; consumers treat a missing key as "that branch did not run".
type ResultBag map[string]any
