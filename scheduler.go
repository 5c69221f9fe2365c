package podflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Options controls execution behavior for a Scheduler.
type Options struct {
	// Concurrency caps how many ready nodes execute at once when the graph
	// does not set its own cap. Zero means sequential.
	Concurrency int

	// EventHandler receives progress events during execution.
	EventHandler EventHandler

	// Now provides the current time (for testing). Nil uses time.Now.
	Now func() time.Time
}

// Scheduler executes a validated GraphSpec. Each Run creates fresh node
// state; no state is shared across independent runs. External values are
// bound with Inject before Run starts.
type Scheduler struct {
	spec     *GraphSpec
	registry *Registry
	opts     Options

	mu       sync.RWMutex
	injected map[string]any
	started  bool
	status   map[string]NodeStatus
	outputs  map[string]any
	nodeErrs []NodeError
}

// NewScheduler validates the spec and prepares a scheduler for it. Invalid
// specs fail here, before anything executes.
func NewScheduler(spec *GraphSpec, registry *Registry, opts Options) (*Scheduler, error) {
	if spec == nil {
		return nil, &GraphDefinitionError{Err: ErrEmptyGraph}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return newScheduler(spec, registry, opts), nil
}

// newScheduler skips validation; used for nested runs whose specs were
// validated with the root graph.
func newScheduler(spec *GraphSpec, registry *Registry, opts Options) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		spec:     spec,
		registry: registry,
		opts:     opts,
		injected: make(map[string]any),
	}
}

// Inject binds an external value to the named value node. It must be called
// before Run starts.
func (s *Scheduler) Inject(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("%w: %q", ErrInjectAfterRun, name)
	}
	node, ok := s.spec.Nodes[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownReference, name)
	}
	if node.Value == nil {
		return fmt.Errorf("%w: %q", ErrNotValueNode, name)
	}
	s.injected[name] = value
	return nil
}

// Errors returns every node-level failure recorded during the last run,
// including failures on branches that did not affect the final result.
func (s *Scheduler) Errors() []NodeError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NodeError, len(s.nodeErrs))
	copy(out, s.nodeErrs)
	return out
}

// Status reports the terminal state a node reached in the last run.
func (s *Scheduler) Status(nodeID string) NodeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status[nodeID]
}

// Run executes the graph to completion and returns the ResultBag: the
// completed outputs of every IsResult node. A failure aborts the run only
// when it reaches a result node through non-tolerant references; failures
// confined to skipped or tolerated branches are reported via Errors alone.
func (s *Scheduler) Run(ctx context.Context) (ResultBag, error) {
	s.mu.Lock()
	s.started = true
	s.status = make(map[string]NodeStatus, len(s.spec.Nodes))
	s.outputs = make(map[string]any, len(s.spec.Nodes))
	s.nodeErrs = nil
	for id := range s.spec.Nodes {
		s.status[id] = StatusPending
	}
	s.mu.Unlock()

	runID := uuid.NewString()
	start := s.opts.Now()
	s.emit(Event{Kind: EventRunStarted, RunID: runID, Graph: s.spec.Name, Time: start})

	err := s.execute(ctx, runID, start)

	finish := Event{
		Kind:    EventRunFinished,
		RunID:   runID,
		Graph:   s.spec.Name,
		Time:    s.opts.Now(),
		Elapsed: s.opts.Now().Sub(start),
		Payload: map[string]any{"status": "completed"},
	}
	if err != nil {
		finish.Payload["status"] = "failed"
		finish.Payload["error"] = err.Error()
	}
	s.emit(finish)

	if err != nil {
		return nil, err
	}
	return s.resultBag(), s.runError()
}

func (s *Scheduler) execute(ctx context.Context, runID string, start time.Time) error {
	s.resolveValueNodes()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ready, progressed := s.sweep(runID, start)
		if len(ready) == 0 {
			if progressed {
				continue
			}
			break
		}
		s.executeBatch(ctx, runID, start, ready)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, st := range s.status {
		if !st.terminal() {
			return fmt.Errorf("%w: node %q is %s", ErrNoProgress, id, st)
		}
	}
	return nil
}

// resolveValueNodes completes injected or defaulted value nodes and marks
// the rest skipped (absent), which AnyInput consumers tolerate.
func (s *Scheduler) resolveValueNodes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, node := range s.spec.Nodes {
		if node.Value == nil {
			continue
		}
		if v, ok := s.injected[id]; ok {
			s.status[id] = StatusCompleted
			s.outputs[id] = v
			continue
		}
		if node.Value.Default != nil {
			s.status[id] = StatusCompleted
			s.outputs[id] = node.Value.Default
			continue
		}
		s.status[id] = StatusSkipped
	}
}

// sweep classifies pending nodes whose dependencies all reached a terminal
// state: propagating skips and upstream failures, applying activation
// conditions, and returning the nodes that should actually execute.
func (s *Scheduler) sweep(runID string, start time.Time) ([]string, bool) {
	s.mu.Lock()

	var ready []string
	var skipped, failed []string
	failures := make(map[string]error)

	for id, st := range s.status {
		if st != StatusPending {
			continue
		}
		node := s.spec.Nodes[id]

		decided := true
		for _, expr := range node.references() {
			if !s.status[refHead(expr)].terminal() {
				decided = false
				break
			}
		}
		if !decided {
			continue
		}

		switch verdict, err := s.classify(node); verdict {
		case StatusSkipped:
			s.status[id] = StatusSkipped
			skipped = append(skipped, id)
		case StatusFailed:
			s.status[id] = StatusFailed
			failures[id] = err
			failed = append(failed, id)
		default:
			ready = append(ready, id)
		}
	}
	s.mu.Unlock()

	now := s.opts.Now()
	for _, id := range skipped {
		s.emit(Event{Kind: EventNodeSkipped, RunID: runID, Graph: s.spec.Name,
			NodeID: id, Time: now, Elapsed: now.Sub(start)})
	}
	for _, id := range failed {
		s.emit(Event{Kind: EventNodeFailed, RunID: runID, Graph: s.spec.Name,
			NodeID: id, Time: now, Elapsed: now.Sub(start),
			Payload: map[string]any{"error": failures[id].Error()}})
	}

	return ready, len(skipped)+len(failed) > 0
}

// classify decides whether a decidable pending node runs, skips, or inherits
// an upstream failure. Callers hold s.mu.
func (s *Scheduler) classify(node NodeSpec) (NodeStatus, error) {
	// Activation conditions come first: a condition node that skipped or
	// failed gates this node off before inputs are considered.
	if cond := node.If; cond != "" {
		switch s.status[refHead(cond)] {
		case StatusFailed:
			return StatusFailed, fmt.Errorf("condition %q failed upstream", cond)
		case StatusSkipped:
			return StatusSkipped, nil
		}
		v, ok := LookupPath(s.outputs[refHead(cond)], refPath(cond))
		if !ok || !IsTruthy(v) {
			return StatusSkipped, nil
		}
	}
	if cond := node.Unless; cond != "" {
		switch s.status[refHead(cond)] {
		case StatusFailed:
			return StatusFailed, fmt.Errorf("condition %q failed upstream", cond)
		case StatusSkipped:
			return StatusSkipped, nil
		}
		if v, ok := LookupPath(s.outputs[refHead(cond)], refPath(cond)); ok && IsTruthy(v) {
			return StatusSkipped, nil
		}
	}

	var inputRefs []string
	for _, b := range node.Inputs {
		if b.Ref != "" {
			inputRefs = append(inputRefs, b.Ref)
		}
		inputRefs = append(inputRefs, b.Refs...)
	}

	if node.AnyInput {
		if len(inputRefs) == 0 {
			return StatusRunning, nil
		}
		for _, expr := range inputRefs {
			if s.status[refHead(expr)] == StatusCompleted {
				if _, ok := LookupPath(s.outputs[refHead(expr)], refPath(expr)); ok {
					return StatusRunning, nil
				}
			}
		}
		return StatusSkipped, nil
	}

	for _, expr := range inputRefs {
		switch s.status[refHead(expr)] {
		case StatusFailed:
			return StatusFailed, fmt.Errorf("input %q failed upstream", expr)
		case StatusSkipped:
			return StatusSkipped, nil
		}
	}
	return StatusRunning, nil
}

// executeBatch runs the ready nodes, independent ones concurrently up to the
// configured cap.
func (s *Scheduler) executeBatch(ctx context.Context, runID string, start time.Time, ready []string) {
	cap64 := int64(s.concurrency())
	sem := semaphore.NewWeighted(cap64)

	var wg sync.WaitGroup
	for _, id := range ready {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer sem.Release(1)
			s.executeNode(ctx, runID, start, id)
		}(id)
	}
	wg.Wait()
}

func (s *Scheduler) concurrency() int {
	if s.spec.Concurrency > 0 {
		return s.spec.Concurrency
	}
	if s.opts.Concurrency > 0 {
		return s.opts.Concurrency
	}
	return 1
}

func (s *Scheduler) executeNode(ctx context.Context, runID string, start time.Time, id string) {
	node := s.spec.Nodes[id]

	s.mu.Lock()
	s.status[id] = StatusRunning
	s.mu.Unlock()

	nodeStart := s.opts.Now()
	s.emit(Event{Kind: EventNodeStarted, RunID: runID, Graph: s.spec.Name,
		NodeID: id, Agent: node.Agent, Time: nodeStart, Elapsed: nodeStart.Sub(start)})

	in := s.resolveInputs(node)

	var out any
	var err error
	switch node.kind() {
	case "compute":
		var fn Capability
		fn, err = s.registry.Resolve(node.Agent)
		if err == nil {
			out, err = fn(ctx, in, Params(node.Params))
		}
	case "subgraph":
		out, err = s.runSubgraph(ctx, id, node.Graph, in)
	case "map":
		out, err = s.runMap(ctx, id, node, in)
	}

	now := s.opts.Now()
	s.mu.Lock()
	if err != nil {
		s.status[id] = StatusFailed
		s.nodeErrs = append(s.nodeErrs, NodeError{NodeID: id, Err: err, At: now})
	} else {
		s.status[id] = StatusCompleted
		s.outputs[id] = out
	}
	s.mu.Unlock()

	ev := Event{Kind: EventNodeFinished, RunID: runID, Graph: s.spec.Name,
		NodeID: id, Agent: node.Agent, Time: now, Elapsed: now.Sub(nodeStart)}
	if err != nil {
		ev.Kind = EventNodeFailed
		ev.Payload = map[string]any{"error": err.Error()}
	}
	s.emit(ev)
}

// resolveInputs materializes the node's bindings from completed outputs.
// Unresolvable references (tolerated by AnyInput, or missing sub-paths) are
// dropped for list bindings and absent for single ones.
func (s *Scheduler) resolveInputs(node NodeSpec) Inputs {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in := make(Inputs, len(node.Inputs))
	for name, b := range node.Inputs {
		switch {
		case b.Ref != "":
			if s.status[refHead(b.Ref)] != StatusCompleted {
				continue
			}
			if v, ok := LookupPath(s.outputs[refHead(b.Ref)], refPath(b.Ref)); ok {
				in[name] = v
			}
		case len(b.Refs) > 0:
			vals := make([]any, 0, len(b.Refs))
			for _, expr := range b.Refs {
				if s.status[refHead(expr)] != StatusCompleted {
					continue
				}
				if v, ok := LookupPath(s.outputs[refHead(expr)], refPath(expr)); ok {
					vals = append(vals, v)
				}
			}
			in[name] = vals
		default:
			in[name] = b.Literal
		}
	}
	return in
}

// runSubgraph executes a nested graph with fresh state, forwarding every
// resolved parent input as an injected value. The child's ResultBag becomes
// the node output, addressable from the parent via dotted paths.
func (s *Scheduler) runSubgraph(ctx context.Context, id string, spec *GraphSpec, in Inputs) (any, error) {
	child := newScheduler(spec, s.registry, s.childOptions(id))
	for name, v := range in {
		if err := child.Inject(name, v); err != nil {
			return nil, err
		}
	}

	bag, err := child.Run(ctx)
	s.adoptErrors(id, child.Errors())
	if err != nil {
		return nil, err
	}
	return map[string]any(bag), nil
}

// runMap fans a nested graph out over a collection: one fresh instance per
// element, at most the configured number in flight at once. Results keep
// input order regardless of completion order. A failing instance does not
// cancel its siblings; every instance runs to a verdict and each failure is
// recorded under its "id[i]" index. The map node then fails with the first
// element error instead of returning a partial result slice, so consumers
// read per-index attribution from Errors rather than from the output.
func (s *Scheduler) runMap(ctx context.Context, id string, node NodeSpec, in Inputs) (any, error) {
	ms := node.Map
	rowsInput := ms.RowsInput
	if rowsInput == "" {
		rowsInput = "rows"
	}
	rowVar := ms.RowVar
	if rowVar == "" {
		rowVar = "row"
	}

	rows, err := toSlice(in[rowsInput])
	if err != nil {
		return nil, fmt.Errorf("map collection %q: %w", rowsInput, err)
	}

	capN := ms.Concurrency
	if capN <= 0 {
		capN = s.concurrency()
	}
	sem := semaphore.NewWeighted(int64(capN))

	results := make([]any, len(rows))
	elemErrs := make([]error, len(rows))

	var wg sync.WaitGroup
	for i, row := range rows {
		if err := sem.Acquire(ctx, 1); err != nil {
			elemErrs[i] = err
			continue
		}
		wg.Add(1)
		go func(i int, row any) {
			defer wg.Done()
			defer sem.Release(1)

			instanceID := fmt.Sprintf("%s[%d]", id, i)
			child := newScheduler(&ms.Graph, s.registry, s.childOptions(instanceID))
			if err := child.Inject(rowVar, row); err != nil {
				elemErrs[i] = err
				return
			}
			for name, v := range in {
				if name == rowsInput {
					continue
				}
				if err := child.Inject(name, v); err != nil {
					elemErrs[i] = err
					return
				}
			}

			bag, err := child.Run(ctx)
			s.adoptErrors(instanceID, child.Errors())
			if err != nil {
				elemErrs[i] = err
				return
			}
			results[i] = map[string]any(bag)
		}(i, row)
	}
	wg.Wait()

	now := s.opts.Now()
	var firstErr error
	for i, e := range elemErrs {
		if e == nil {
			continue
		}
		wrapped := fmt.Errorf("map element %d: %w", i, e)
		s.mu.Lock()
		s.nodeErrs = append(s.nodeErrs, NodeError{NodeID: fmt.Sprintf("%s[%d]", id, i), Err: e, At: now})
		s.mu.Unlock()
		if firstErr == nil {
			firstErr = wrapped
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// childOptions derives nested-run options whose events carry node IDs
// prefixed with the parent node ID.
func (s *Scheduler) childOptions(prefix string) Options {
	opts := s.opts
	parent := opts.EventHandler
	if parent != nil {
		opts.EventHandler = func(e Event) {
			if e.NodeID != "" {
				e.NodeID = prefix + "." + e.NodeID
			}
			parent(e)
		}
	}
	return opts
}

func (s *Scheduler) adoptErrors(prefix string, errs []NodeError) {
	if len(errs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ne := range errs {
		ne.NodeID = prefix + "." + ne.NodeID
		s.nodeErrs = append(s.nodeErrs, ne)
	}
}

func (s *Scheduler) resultBag() ResultBag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bag := make(ResultBag)
	for id, node := range s.spec.Nodes {
		if node.IsResult && s.status[id] == StatusCompleted {
			bag[id] = s.outputs[id]
		}
	}
	return bag
}

// runError decides whether recorded failures abort the run: they do exactly
// when a Failed state reached (or is) a result node. The reported error is
// the first recorded failure lying on a failed result's upstream reference
// chain, so failures on tolerated side branches never mask the real cause.
func (s *Scheduler) runError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stack []string
	for id, node := range s.spec.Nodes {
		if node.IsResult && s.status[id] == StatusFailed {
			stack = append(stack, id)
		}
	}
	if len(stack) == 0 {
		return nil
	}

	upstream := make(map[string]bool)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if upstream[id] {
			continue
		}
		upstream[id] = true
		for _, expr := range s.spec.Nodes[id].references() {
			stack = append(stack, refHead(expr))
		}
	}

	for _, ne := range s.nodeErrs {
		if upstream[errRoot(ne.NodeID)] {
			return fmt.Errorf("node %s: %w", ne.NodeID, ne.Err)
		}
	}
	if len(s.nodeErrs) > 0 {
		first := s.nodeErrs[0]
		return fmt.Errorf("node %s: %w", first.NodeID, first.Err)
	}
	return fmt.Errorf("graph %q: a result node failed", s.spec.Name)
}

// errRoot strips map-index and nested-run suffixes from a recorded error's
// node ID, leaving the graph-level node it was adopted from.
func errRoot(id string) string {
	for i, r := range id {
		if r == '[' || r == '.' {
			return id[:i]
		}
	}
	return id
}

func (s *Scheduler) emit(e Event) {
	if s.opts.EventHandler != nil {
		s.opts.EventHandler(e)
	}
}

// toSlice converts supported collection types to []any.
func toSlice(v any) ([]any, error) {
	switch col := v.(type) {
	case nil:
		return nil, fmt.Errorf("collection is nil")
	case []any:
		return col, nil
	case []string:
		out := make([]any, len(col))
		for i, item := range col {
			out[i] = item
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(col))
		for i, item := range col {
			out[i] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("collection is not a slice: %T", v)
	}
}
