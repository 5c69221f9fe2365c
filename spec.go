package podflow

import (
	"fmt"
	"strings"
)

// GraphSpec is a static, serializable description of a task graph. It
// performs no computation itself; a Scheduler interprets it.
type GraphSpec struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Concurrency caps how many ready nodes may execute at once. Map nodes
	// without their own cap inherit it. Zero means sequential.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	Nodes map[string]NodeSpec `json:"nodes" yaml:"nodes"`
}

// NodeSpec describes one node. Exactly one of Value, Agent, Graph, or Map
// must be set, making the node a value holder, a capability invocation, an
// embedded sub-graph, or a fan-out over a collection.
type NodeSpec struct {
	// Value marks the node as an externally injectable value holder.
	Value *ValueSpec `json:"value,omitempty" yaml:"value,omitempty"`

	// Agent names the capability to invoke.
	Agent string `json:"agent,omitempty" yaml:"agent,omitempty"`

	// Graph embeds a nested graph. Input names must match value nodes
	// declared by the child graph (the parent_* forwarding convention).
	Graph *GraphSpec `json:"graph,omitempty" yaml:"graph,omitempty"`

	// Map runs a nested graph once per element of a bound collection.
	Map *MapSpec `json:"map,omitempty" yaml:"map,omitempty"`

	Inputs map[string]InputBinding `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Params map[string]any          `json:"params,omitempty" yaml:"params,omitempty"`

	// If gates execution on the referenced output being truthy; Unless on it
	// being falsy or absent. At most one may be set.
	If     string `json:"if,omitempty" yaml:"if,omitempty"`
	Unless string `json:"unless,omitempty" yaml:"unless,omitempty"`

	// AnyInput tolerates skipped or failed references: the node runs as long
	// as at least one referenced input resolved.
	AnyInput bool `json:"anyInput,omitempty" yaml:"anyInput,omitempty"`

	// IsResult exposes the node's completed output in the run's ResultBag.
	IsResult bool `json:"isResult,omitempty" yaml:"isResult,omitempty"`
}

// ValueSpec configures a value node. Injection overrides Default; a value
// node that is neither injected nor defaulted resolves as absent, which
// downstream AnyInput nodes tolerate.
type ValueSpec struct {
	Default any `json:"default,omitempty" yaml:"default,omitempty"`
}

// MapSpec configures a fan-out node.
type MapSpec struct {
	// RowsInput names the input binding holding the collection ("rows" by
	// default).
	RowsInput string `json:"rowsInput,omitempty" yaml:"rowsInput,omitempty"`

	// RowVar is the name each element is injected under in the child graph
	// ("row" by default). Remaining inputs are injected unchanged into every
	// instance.
	RowVar string `json:"rowVar,omitempty" yaml:"rowVar,omitempty"`

	// Concurrency caps in-flight instances; falls back to the enclosing
	// graph's Concurrency.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	Graph GraphSpec `json:"graph" yaml:"graph"`
}

// InputBinding binds a node input to a literal, to another node's output
// (optionally a dotted sub-path, e.g. "nodeA.fieldB"), or to a list of such
// references.
type InputBinding struct {
	Literal any      `json:"literal,omitempty" yaml:"literal,omitempty"`
	Ref     string   `json:"ref,omitempty" yaml:"ref,omitempty"`
	Refs    []string `json:"refs,omitempty" yaml:"refs,omitempty"`
}

// Lit binds an input to a literal value.
func Lit(v any) InputBinding { return InputBinding{Literal: v} }

// Ref binds an input to another node's output, optionally a dotted sub-path.
func Ref(expr string) InputBinding { return InputBinding{Ref: expr} }

// Refs binds an input to an ordered list of node references.
func Refs(exprs ...string) InputBinding { return InputBinding{Refs: exprs} }

// refHead returns the node ID portion of a reference expression.
func refHead(expr string) string {
	if i := strings.IndexByte(expr, '.'); i >= 0 {
		return expr[:i]
	}
	return expr
}

// refPath returns the sub-path portion of a reference expression, or "".
func refPath(expr string) string {
	if i := strings.IndexByte(expr, '.'); i >= 0 {
		return expr[i+1:]
	}
	return ""
}

// kind reports which of the four node forms the spec uses.
func (n NodeSpec) kind() string {
	switch {
	case n.Value != nil:
		return "value"
	case n.Map != nil:
		return "map"
	case n.Graph != nil:
		return "subgraph"
	default:
		return "compute"
	}
}

// references returns every reference expression the node declares, including
// activation conditions.
func (n NodeSpec) references() []string {
	var refs []string
	for _, b := range n.Inputs {
		if b.Ref != "" {
			refs = append(refs, b.Ref)
		}
		refs = append(refs, b.Refs...)
	}
	if n.If != "" {
		refs = append(refs, n.If)
	}
	if n.Unless != "" {
		refs = append(refs, n.Unless)
	}
	return refs
}

// Validate checks the spec before execution: every node uses exactly one
// form, every reference resolves to a declared node, activation conditions
// are not doubled up, map collections are bound, sub-graph inputs match
// child value nodes, and the reference graph is acyclic. Violations are
// GraphDefinitionErrors; nothing runs until validation passes.
func (g *GraphSpec) Validate() error {
	if len(g.Nodes) == 0 {
		return &GraphDefinitionError{Graph: g.Name, Err: ErrEmptyGraph}
	}

	for id, node := range g.Nodes {
		if err := g.validateNode(id, node); err != nil {
			return err
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return err
	}

	return nil
}

func (g *GraphSpec) validateNode(id string, node NodeSpec) error {
	fail := func(format string, args ...any) error {
		return &GraphDefinitionError{Graph: g.Name, Node: id, Err: fmt.Errorf(format, args...)}
	}

	forms := 0
	if node.Value != nil {
		forms++
	}
	if node.Agent != "" {
		forms++
	}
	if node.Graph != nil {
		forms++
	}
	if node.Map != nil {
		forms++
	}
	if forms != 1 {
		return fail("node must declare exactly one of value, agent, graph, or map (got %d)", forms)
	}

	if node.If != "" && node.Unless != "" {
		return fail("node declares both if and unless")
	}

	if node.Value != nil && len(node.Inputs) > 0 {
		return fail("value node cannot declare inputs")
	}

	for name, b := range node.Inputs {
		set := 0
		if b.Literal != nil {
			set++
		}
		if b.Ref != "" {
			set++
		}
		if len(b.Refs) > 0 {
			set++
		}
		if set != 1 {
			return fail("input %q must bind exactly one of literal, ref, or refs", name)
		}
	}

	for _, expr := range node.references() {
		head := refHead(expr)
		if head == "" {
			return fail("empty reference expression")
		}
		if _, ok := g.Nodes[head]; !ok {
			return &GraphDefinitionError{Graph: g.Name, Node: id,
				Err: fmt.Errorf("%w: %q", ErrUnknownReference, head)}
		}
	}

	if node.Map != nil {
		rows := node.Map.RowsInput
		if rows == "" {
			rows = "rows"
		}
		if _, ok := node.Inputs[rows]; !ok {
			return fail("map node is missing collection input %q", rows)
		}
		if err := node.Map.Graph.Validate(); err != nil {
			return err
		}
		for name := range node.Inputs {
			if name == rows {
				continue
			}
			if err := requireChildValueNode(&node.Map.Graph, name); err != nil {
				return fail("map input %q: %v", name, err)
			}
		}
		rowVar := node.Map.RowVar
		if rowVar == "" {
			rowVar = "row"
		}
		if err := requireChildValueNode(&node.Map.Graph, rowVar); err != nil {
			return fail("map row variable %q: %v", rowVar, err)
		}
	}

	if node.Graph != nil {
		if err := node.Graph.Validate(); err != nil {
			return err
		}
		for name := range node.Inputs {
			if err := requireChildValueNode(node.Graph, name); err != nil {
				return fail("sub-graph input %q: %v", name, err)
			}
		}
	}

	return nil
}

func requireChildValueNode(child *GraphSpec, name string) error {
	spec, ok := child.Nodes[name]
	if !ok {
		return fmt.Errorf("child graph declares no node %q", name)
	}
	if spec.Value == nil {
		return fmt.Errorf("child node %q is not a value node", name)
	}
	return nil
}

// checkAcyclic runs Kahn's algorithm over the reference edges.
func (g *GraphSpec) checkAcyclic() error {
	inDegree := make(map[string]int, len(g.Nodes))
	dependents := make(map[string][]string, len(g.Nodes))

	for id := range g.Nodes {
		inDegree[id] = 0
	}
	for id, node := range g.Nodes {
		seen := make(map[string]bool)
		for _, expr := range node.references() {
			head := refHead(expr)
			if seen[head] {
				continue
			}
			seen[head] = true
			dependents[head] = append(dependents[head], id)
			inDegree[id]++
		}
	}

	queue := make([]string, 0, len(g.Nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if processed != len(g.Nodes) {
		return &GraphDefinitionError{Graph: g.Name, Err: ErrCycleDetected}
	}
	return nil
}
